package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/queryir"
	"github.com/roach88/sealgauge/internal/querysql"
)

// AppendEvent appends ev to the audit log and returns it with Seq set.
//
// Seq is MAX(seq)+1 computed inside the caller's transaction. With a single
// connection, seq order equals commit order.
func (c *conn) AppendEvent(ctx context.Context, ev ir.Event) (ir.Event, error) {
	var last sql.NullInt64
	if err := c.q.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&last); err != nil {
		return ir.Event{}, fmt.Errorf("append event: next seq: %w", err)
	}
	ev.Seq = last.Int64 + 1

	attrs, err := marshalAttrs(ev.Attrs)
	if err != nil {
		return ir.Event{}, fmt.Errorf("append event: %w", err)
	}
	hash, err := ir.EventHash(ev)
	if err != nil {
		return ir.Event{}, fmt.Errorf("append event: %w", err)
	}

	_, err = c.q.ExecContext(ctx, `
		INSERT INTO events (seq, type, record_id, request_id, attrs, at, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		ev.Seq,
		string(ev.Type),
		nullRecordID(ev.RecordID),
		nullString(string(ev.RequestID)),
		attrs,
		ev.At.UnixNano(),
		hash,
	)
	if err != nil {
		return ir.Event{}, fmt.Errorf("append event: %w", err)
	}
	return ev, nil
}

// eventColumns is the scan order of queryEvents.
var eventColumns = []string{"seq", "type", "record_id", "request_id", "attrs", "at"}

// ListEvents returns events with seq greater than afterSeq in seq order.
// A limit of zero or less returns all remaining events.
func (c *conn) ListEvents(ctx context.Context, afterSeq int64, limit int) ([]ir.Event, error) {
	return c.QueryEvents(ctx, queryir.Select{
		Filter: queryir.After{Field: "seq", Value: afterSeq},
		Limit:  limit,
	})
}

// EventsForRecord returns the audit trail of one record in seq order.
func (c *conn) EventsForRecord(ctx context.Context, id ir.RecordID) ([]ir.Event, error) {
	return c.QueryEvents(ctx, queryir.Select{
		Filter: queryir.Equals{Field: "record_id", Value: id},
	})
}

// QueryEvents returns the events matching q.Filter in seq order. From and
// Columns are fixed by the store.
func (c *conn) QueryEvents(ctx context.Context, q queryir.Select) ([]ir.Event, error) {
	q.From = queryir.TableEvents
	q.Columns = eventColumns
	query, args, err := querysql.Compile(q)
	if err != nil {
		return nil, ir.NewInvalidArgument("invalid event query", err)
	}
	return c.queryEvents(ctx, query, args...)
}

// EventHashes returns the stored content hash for every event in seq order.
func (c *conn) EventHashes(ctx context.Context) ([]string, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT hash FROM events ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("event hashes: %w", err)
	}
	defer rows.Close()

	hashes := []string{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("event hashes: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event hashes: %w", err)
	}
	return hashes, nil
}

func (c *conn) queryEvents(ctx context.Context, query string, args ...any) ([]ir.Event, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		var (
			ev        ir.Event
			typ       string
			recordID  sql.NullInt64
			requestID sql.NullString
			attrs     string
			at        int64
		)
		if err := rows.Scan(&ev.Seq, &typ, &recordID, &requestID, &attrs, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = ir.EventType(typ)
		ev.RecordID = ir.RecordID(recordID.Int64)
		ev.RequestID = ir.RequestID(requestID.String)
		ev.At = time.Unix(0, at).UTC()
		if ev.Attrs, err = unmarshalAttrs(attrs); err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Rejection is an audit row for a callback refused before any state change.
type Rejection struct {
	ID        int64        `json:"id"`
	RequestID ir.RequestID `json:"request_id"`
	RecordID  ir.RecordID  `json:"record_id,omitempty"`
	Code      ir.ErrorCode `json:"code"`
	Reason    string       `json:"reason"`
	Payload   []byte       `json:"payload,omitempty"`
	At        time.Time    `json:"at"`
}

// RecordRejection appends a rejected-callback audit row.
func (c *conn) RecordRejection(ctx context.Context, r Rejection) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO rejected_callbacks (request_id, record_id, code, reason, payload, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		string(r.RequestID),
		nullRecordID(r.RecordID),
		string(r.Code),
		r.Reason,
		r.Payload,
		r.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record rejection: %w", err)
	}
	return nil
}

// rejectionColumns is the scan order of ListRejections.
var rejectionColumns = []string{"id", "request_id", "record_id", "code", "reason", "payload", "at"}

// ListRejections returns rejected callbacks, oldest first.
func (c *conn) ListRejections(ctx context.Context) ([]Rejection, error) {
	return c.QueryRejections(ctx, queryir.Select{})
}

// QueryRejections returns the rejected callbacks matching q.Filter, oldest
// first. From and Columns are fixed by the store.
func (c *conn) QueryRejections(ctx context.Context, q queryir.Select) ([]Rejection, error) {
	q.From = queryir.TableRejections
	q.Columns = rejectionColumns
	query, args, err := querysql.Compile(q)
	if err != nil {
		return nil, ir.NewInvalidArgument("invalid rejection query", err)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rejections: %w", err)
	}
	defer rows.Close()

	out := []Rejection{}
	for rows.Next() {
		var (
			r         Rejection
			requestID string
			recordID  sql.NullInt64
			code      string
			at        int64
		)
		if err := rows.Scan(&r.ID, &requestID, &recordID, &code, &r.Reason, &r.Payload, &at); err != nil {
			return nil, fmt.Errorf("scan rejection: %w", err)
		}
		r.RequestID = ir.RequestID(requestID)
		r.RecordID = ir.RecordID(recordID.Int64)
		r.Code = ir.ErrorCode(code)
		r.At = time.Unix(0, at).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rejections: %w", err)
	}
	return out, nil
}

func nullRecordID(id ir.RecordID) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(id), Valid: id != 0}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
