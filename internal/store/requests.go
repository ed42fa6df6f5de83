package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/sealgauge/internal/ir"
)

const requestColumns = `id, record_id, kind, status, handles_digest, seq, issued_at`

// InsertRequest stores a newly issued decryption request in pending state.
//
// The partial unique index on (record_id, kind) WHERE status = 'pending'
// turns a concurrent second request into DUPLICATE_OUTSTANDING_REQUEST.
func (c *conn) InsertRequest(ctx context.Context, req ir.DecryptionRequest) error {
	if req.ID == "" {
		return fmt.Errorf("insert request: empty request id")
	}
	if !req.Kind.Valid() {
		return fmt.Errorf("insert request: invalid kind %q", req.Kind)
	}

	_, err := c.q.ExecContext(ctx, `
		INSERT INTO decryption_requests
		(id, record_id, kind, status, handles_digest, seq, issued_at)
		VALUES (?, ?, ?, 'pending', ?, ?, ?)
	`,
		string(req.ID),
		int64(req.RecordID),
		string(req.Kind),
		req.HandlesDigest,
		req.Seq,
		req.IssuedAt.UnixNano(),
	)
	if err == nil {
		return nil
	}

	if isUniqueViolation(err) {
		pending, found, perr := c.PendingRequest(ctx, req.RecordID, req.Kind)
		if perr == nil && found {
			return ir.NewDuplicateOutstanding(req.RecordID, req.Kind, pending.ID)
		}
		return fmt.Errorf("insert request: request id %s already exists: %w", req.ID, err)
	}
	return fmt.Errorf("insert request: %w", err)
}

// ReadRequest looks a request up by id. The boolean reports whether it exists;
// callers never receive a zero-valued request for a missing id.
func (c *conn) ReadRequest(ctx context.Context, id ir.RequestID) (ir.DecryptionRequest, bool, error) {
	if id == "" {
		return ir.DecryptionRequest{}, false, nil
	}
	row := c.q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM decryption_requests WHERE id = ?`, string(id))
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.DecryptionRequest{}, false, nil
	}
	if err != nil {
		return ir.DecryptionRequest{}, false, fmt.Errorf("read request %s: %w", id, err)
	}
	return req, true, nil
}

// PendingRequest returns the outstanding request for (record, kind), if any.
func (c *conn) PendingRequest(ctx context.Context, recordID ir.RecordID, kind ir.RevealKind) (ir.DecryptionRequest, bool, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM decryption_requests
		WHERE record_id = ? AND kind = ? AND status = 'pending'
	`, int64(recordID), string(kind))
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.DecryptionRequest{}, false, nil
	}
	if err != nil {
		return ir.DecryptionRequest{}, false, fmt.Errorf("pending request: %w", err)
	}
	return req, true, nil
}

// PendingKinds returns the kinds with an outstanding request for a record.
func (c *conn) PendingKinds(ctx context.Context, recordID ir.RecordID) (map[ir.RevealKind]bool, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT kind FROM decryption_requests
		WHERE record_id = ? AND status = 'pending'
	`, int64(recordID))
	if err != nil {
		return nil, fmt.Errorf("pending kinds: %w", err)
	}
	defer rows.Close()

	kinds := map[ir.RevealKind]bool{}
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return nil, fmt.Errorf("pending kinds: %w", err)
		}
		kinds[ir.RevealKind(kind)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending kinds: %w", err)
	}
	return kinds, nil
}

// RequestsForRecord returns every request issued for a record in seq order.
func (c *conn) RequestsForRecord(ctx context.Context, recordID ir.RecordID) ([]ir.DecryptionRequest, error) {
	return c.queryRequests(ctx, `
		SELECT `+requestColumns+` FROM decryption_requests
		WHERE record_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, int64(recordID))
}

// PendingBefore returns pending requests issued strictly before cutoff.
func (c *conn) PendingBefore(ctx context.Context, cutoff time.Time) ([]ir.DecryptionRequest, error) {
	return c.queryRequests(ctx, `
		SELECT `+requestColumns+` FROM decryption_requests
		WHERE status = 'pending' AND issued_at < ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, cutoff.UnixNano())
}

func (c *conn) queryRequests(ctx context.Context, query string, args ...any) ([]ir.DecryptionRequest, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	reqs := []ir.DecryptionRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("query requests: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return reqs, nil
}

// ConsumeRequest transitions a pending request to consumed.
//
// Exactly one caller can win: the UPDATE only matches status = 'pending'.
// A consumed request returns ALREADY_CONSUMED; a missing or invalidated one
// returns UNKNOWN_REQUEST.
func (c *conn) ConsumeRequest(ctx context.Context, id ir.RequestID, at time.Time) error {
	ok, err := c.transition(ctx, id, ir.StatusConsumed, at)
	if err != nil {
		return fmt.Errorf("consume request: %w", err)
	}
	if ok {
		return nil
	}
	return c.transitionError(ctx, id)
}

// InvalidateRequest retires a pending request so that its (record, kind) slot
// can be reissued. Its callback, if one ever arrives, resolves as unknown.
func (c *conn) InvalidateRequest(ctx context.Context, id ir.RequestID, at time.Time) (ir.DecryptionRequest, error) {
	ok, err := c.transition(ctx, id, ir.StatusInvalidated, at)
	if err != nil {
		return ir.DecryptionRequest{}, fmt.Errorf("invalidate request: %w", err)
	}
	if !ok {
		return ir.DecryptionRequest{}, c.transitionError(ctx, id)
	}
	req, _, err := c.ReadRequest(ctx, id)
	if err != nil {
		return ir.DecryptionRequest{}, err
	}
	return req, nil
}

func (c *conn) transition(ctx context.Context, id ir.RequestID, to ir.RequestStatus, at time.Time) (bool, error) {
	result, err := c.q.ExecContext(ctx, `
		UPDATE decryption_requests SET status = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(to), at.UnixNano(), string(id))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (c *conn) transitionError(ctx context.Context, id ir.RequestID) error {
	req, found, err := c.ReadRequest(ctx, id)
	if err != nil {
		return err
	}
	if found && req.Consumed() {
		return ir.NewAlreadyConsumed(id)
	}
	return ir.NewUnknownRequest(id)
}

// MaxRequestSeq returns the highest request seq, or 0 for an empty store.
// Used to seed the logical clock on startup.
func (c *conn) MaxRequestSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := c.q.QueryRowContext(ctx, `SELECT MAX(seq) FROM decryption_requests`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max request seq: %w", err)
	}
	return seq.Int64, nil
}

func scanRequest(row rowScanner) (ir.DecryptionRequest, error) {
	var (
		req      ir.DecryptionRequest
		id       string
		recordID int64
		kind     string
		status   string
		issuedAt int64
	)
	if err := row.Scan(&id, &recordID, &kind, &status, &req.HandlesDigest, &req.Seq, &issuedAt); err != nil {
		return ir.DecryptionRequest{}, err
	}
	req.ID = ir.RequestID(id)
	req.RecordID = ir.RecordID(recordID)
	req.Kind = ir.RevealKind(kind)
	req.Status = ir.RequestStatus(status)
	req.IssuedAt = time.Unix(0, issuedAt).UTC()
	return req, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
