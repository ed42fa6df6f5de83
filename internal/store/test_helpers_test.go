package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/sealgauge/internal/ir"
)

var testEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustCreateRecord inserts a record with placeholder ciphertext bytes.
func mustCreateRecord(t *testing.T, s *Store) ir.RecordID {
	t.Helper()
	id, err := s.CreateRecord(context.Background(), []byte{1}, []byte{2}, []byte{3}, testEpoch)
	if err != nil {
		t.Fatalf("CreateRecord() failed: %v", err)
	}
	return id
}

// createTestRequest builds a pending request with minimal required fields.
func createTestRequest(id string, recordID ir.RecordID, kind ir.RevealKind, seq int64) ir.DecryptionRequest {
	return ir.DecryptionRequest{
		ID:            ir.RequestID(id),
		RecordID:      recordID,
		Kind:          kind,
		Status:        ir.StatusPending,
		HandlesDigest: "digest-" + id,
		Seq:           seq,
		IssuedAt:      testEpoch.Add(time.Duration(seq) * time.Second),
	}
}
