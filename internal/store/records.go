package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/sealgauge/internal/ir"
)

const recordColumns = `
	id, pressure, temperature, flow, created_at,
	revealed_pressure, revealed_temperature, revealed_flow, is_revealed,
	score, score_value`

// CreateRecord inserts a new record and returns its id.
// Ids come from AUTOINCREMENT and are never reused once committed.
func (c *conn) CreateRecord(ctx context.Context, pressure, temperature, flow []byte, at time.Time) (ir.RecordID, error) {
	if len(pressure) == 0 || len(temperature) == 0 || len(flow) == 0 {
		return 0, fmt.Errorf("create record: empty ciphertext handle")
	}

	result, err := c.q.ExecContext(ctx, `
		INSERT INTO records (pressure, temperature, flow, created_at)
		VALUES (?, ?, ?, ?)
	`, pressure, temperature, flow, at.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("create record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create record: last insert id: %w", err)
	}
	return ir.RecordID(id), nil
}

// ReadRecord returns the record with the given id.
// Returns a RECORD_NOT_FOUND error if it does not exist.
func (c *conn) ReadRecord(ctx context.Context, id ir.RecordID) (ir.Record, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, int64(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Record{}, ir.NewRecordError(ir.ErrCodeRecordNotFound, id, "record does not exist")
	}
	if err != nil {
		return ir.Record{}, fmt.Errorf("read record %d: %w", id, err)
	}
	return rec, nil
}

// ListRecords returns records ordered by id, starting after afterID.
// A limit of zero or less returns all remaining records.
func (c *conn) ListRecords(ctx context.Context, afterID ir.RecordID, limit int) ([]ir.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, int64(afterID), limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []ir.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// ApplyRawReveal stores the cleartext fields and sets the reveal flag.
//
// The UPDATE only matches an unrevealed record, so a second call changes
// nothing and returns ALREADY_REVEALED.
func (c *conn) ApplyRawReveal(ctx context.Context, id ir.RecordID, fields ir.Fields) error {
	result, err := c.q.ExecContext(ctx, `
		UPDATE records
		SET revealed_pressure = ?, revealed_temperature = ?, revealed_flow = ?, is_revealed = 1
		WHERE id = ? AND is_revealed = 0
	`, fields.Pressure, fields.Temperature, fields.Flow, int64(id))
	if err != nil {
		return fmt.Errorf("apply raw reveal: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("apply raw reveal: rows affected: %w", err)
	} else if n > 0 {
		return nil
	}

	if _, err := c.ReadRecord(ctx, id); err != nil {
		return err
	}
	return ir.NewRecordError(ir.ErrCodeAlreadyRevealed, id, "raw fields already revealed")
}

// SetScore stores the encrypted score for a revealed record. One-shot: a
// record that already has a score returns SCORE_ALREADY_SET.
func (c *conn) SetScore(ctx context.Context, id ir.RecordID, score []byte) error {
	if len(score) == 0 {
		return fmt.Errorf("set score: empty ciphertext handle")
	}
	result, err := c.q.ExecContext(ctx, `
		UPDATE records SET score = ?
		WHERE id = ? AND is_revealed = 1 AND score IS NULL
	`, score, int64(id))
	if err != nil {
		return fmt.Errorf("set score: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("set score: rows affected: %w", err)
	} else if n > 0 {
		return nil
	}
	return c.scoreWriteError(ctx, id)
}

// ReplaceScore overwrites the encrypted score of a revealed record whose score
// has not been revealed and has no pending score request. Used only when
// recomputation is enabled.
func (c *conn) ReplaceScore(ctx context.Context, id ir.RecordID, score []byte) error {
	if len(score) == 0 {
		return fmt.Errorf("replace score: empty ciphertext handle")
	}
	result, err := c.q.ExecContext(ctx, `
		UPDATE records SET score = ?
		WHERE id = ? AND is_revealed = 1 AND score_value IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM decryption_requests
			WHERE record_id = records.id AND kind = 'score' AND status = 'pending'
		  )
	`, score, int64(id))
	if err != nil {
		return fmt.Errorf("replace score: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("replace score: rows affected: %w", err)
	} else if n > 0 {
		return nil
	}
	return c.scoreWriteError(ctx, id)
}

// scoreWriteError explains why a score UPDATE matched no row.
func (c *conn) scoreWriteError(ctx context.Context, id ir.RecordID) error {
	rec, err := c.ReadRecord(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case !rec.IsRevealed:
		return ir.NewRecordError(ir.ErrCodeRecordNotRevealed, id, "raw fields must be revealed before scoring")
	case rec.ScoreValue != nil:
		return ir.NewRecordError(ir.ErrCodeScoreAlreadyRevealed, id, "score already revealed")
	case rec.HasScore():
		return ir.NewRecordError(ir.ErrCodeScoreAlreadySet, id, "score already computed")
	default:
		return ir.NewRecordError(ir.ErrCodeScoreAlreadySet, id, "score locked by a pending request")
	}
}

// ApplyScoreReveal stores the cleartext score.
// Returns SCORE_NOT_COMPUTED if no score ciphertext exists and
// SCORE_ALREADY_REVEALED on a second call.
func (c *conn) ApplyScoreReveal(ctx context.Context, id ir.RecordID, value uint32) error {
	result, err := c.q.ExecContext(ctx, `
		UPDATE records SET score_value = ?
		WHERE id = ? AND score IS NOT NULL AND score_value IS NULL
	`, value, int64(id))
	if err != nil {
		return fmt.Errorf("apply score reveal: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("apply score reveal: rows affected: %w", err)
	} else if n > 0 {
		return nil
	}

	rec, err := c.ReadRecord(ctx, id)
	if err != nil {
		return err
	}
	if !rec.HasScore() {
		return ir.NewRecordError(ir.ErrCodeScoreNotComputed, id, "score has not been computed")
	}
	return ir.NewRecordError(ir.ErrCodeScoreAlreadyRevealed, id, "score already revealed")
}

// CountRecords returns the number of stored records.
func (c *conn) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (ir.Record, error) {
	var (
		rec        ir.Record
		id         int64
		createdAt  int64
		isRevealed int
		score      []byte
		scoreValue sql.NullInt64
	)
	err := row.Scan(
		&id, &rec.Pressure, &rec.Temperature, &rec.Flow, &createdAt,
		&rec.Revealed.Pressure, &rec.Revealed.Temperature, &rec.Revealed.Flow, &isRevealed,
		&score, &scoreValue,
	)
	if err != nil {
		return ir.Record{}, err
	}

	rec.ID = ir.RecordID(id)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.IsRevealed = isRevealed == 1
	if len(score) > 0 {
		rec.Score = score
	}
	if scoreValue.Valid {
		v := uint32(scoreValue.Int64)
		rec.ScoreValue = &v
	}
	return rec, nil
}
