package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sealgauge/internal/ir"
)

func TestInsertRequest_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := mustCreateRecord(t, s)

	want := createTestRequest("req-1", id, ir.RevealRawFields, 1)
	require.NoError(t, s.InsertRequest(ctx, want))

	got, found, err := s.ReadRequest(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.RecordID, got.RecordID)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, ir.StatusPending, got.Status)
	assert.Equal(t, want.HandlesDigest, got.HandlesDigest)
	assert.True(t, want.IssuedAt.Equal(got.IssuedAt))
}

func TestReadRequest_NotFoundIsExplicit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []ir.RequestID{"", "never-issued"} {
		req, found, err := s.ReadRequest(ctx, id)
		require.NoError(t, err)
		assert.False(t, found, "id %q", id)
		assert.Equal(t, ir.DecryptionRequest{}, req)
	}
}

func TestInsertRequest_DuplicatePending(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := mustCreateRecord(t, s)

	require.NoError(t, s.InsertRequest(ctx, createTestRequest("req-1", id, ir.RevealRawFields, 1)))

	err := s.InsertRequest(ctx, createTestRequest("req-2", id, ir.RevealRawFields, 2))
	require.True(t, ir.Is(err, ir.ErrCodeDuplicateOutstanding), "got %v", err)

	var de *ir.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ir.RequestID("req-1"), de.RequestID, "error names the blocking request")

	// Another kind on the same record is independent.
	require.NoError(t, s.InsertRequest(ctx, createTestRequest("req-3", id, ir.RevealScore, 3)))
}

func TestInsertRequest_ReissueAfterConsume(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := mustCreateRecord(t, s)

	require.NoError(t, s.InsertRequest(ctx, createTestRequest("req-1", id, ir.RevealRawFields, 1)))
	require.NoError(t, s.ConsumeRequest(ctx, "req-1", testEpoch))
	require.NoError(t, s.InsertRequest(ctx, createTestRequest("req-2", id, ir.RevealRawFields, 2)))

	reqs, err := s.RequestsForRecord(ctx, id)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, ir.StatusConsumed, reqs[0].Status)
	assert.Equal(t, ir.StatusPending, reqs[1].Status)
}

func TestInsertRequest_DuplicateID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := mustCreateRecord(t, s)
	b := mustCreateRecord(t, s)

	require.NoError(t, s.InsertRequest(ctx, createTestRequest("req-1", a, ir.RevealRawFields, 1)))
	err := s.InsertRequest(ctx, createTestRequest("req-1", b, ir.RevealRawFields, 2))
	require.Error(t, err)
	assert.False(t, ir.Is(err, ir.ErrCodeDuplicateOutstanding))

	got, _, err := s.ReadRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, a, got.RecordID, "request id binding never changes")
}

func TestConsumeRequest_AtMostOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := mustCreateRecord(t, s)
	require.NoError(t, s.InsertRequest(ctx, createTestRequest("req-1", id, ir.RevealRawFields, 1)))

	require.NoError(t, s.ConsumeRequest(ctx, "req-1", testEpoch))

	err := s.ConsumeRequest(ctx, "req-1", testEpoch)
	assert.True(t, ir.Is(err, ir.ErrCodeAlreadyConsumed), "got %v", err)

	err = s.ConsumeRequest(ctx, "nope", testEpoch)
	assert.True(t, ir.Is(err, ir.ErrCodeUnknownRequest), "got %v", err)
}

func TestConsumeRequest_ConcurrentSingleWinner(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := mustCreateRecord(t, s)
	require.NoError(t, s.InsertRequest(ctx, createTestRequest("req-1", id, ir.RevealRawFields, 1)))

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.WithTx(ctx, func(tx *Tx) error {
				return tx.ConsumeRequest(ctx, "req-1", testEpoch)
			})
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, ir.Is(err, ir.ErrCodeAlreadyConsumed), "got %v", err)
	}
	assert.Equal(t, 1, wins)
}

func TestInvalidateRequest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := mustCreateRecord(t, s)
	require.NoError(t, s.InsertRequest(ctx, createTestRequest("req-1", id, ir.RevealRawFields, 1)))

	req, err := s.InvalidateRequest(ctx, "req-1", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusInvalidated, req.Status)

	// Invalidated requests cannot be consumed and read as unknown.
	err = s.ConsumeRequest(ctx, "req-1", testEpoch)
	assert.True(t, ir.Is(err, ir.ErrCodeUnknownRequest), "got %v", err)

	// The slot is free again.
	require.NoError(t, s.InsertRequest(ctx, createTestRequest("req-2", id, ir.RevealRawFields, 2)))

	_, err = s.InvalidateRequest(ctx, "req-1", testEpoch)
	assert.True(t, ir.Is(err, ir.ErrCodeUnknownRequest), "got %v", err)
}

func TestPendingKindsAndBefore(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := mustCreateRecord(t, s)
	require.NoError(t, s.InsertRequest(ctx, createTestRequest("req-1", id, ir.RevealRawFields, 1)))
	require.NoError(t, s.InsertRequest(ctx, createTestRequest("req-2", id, ir.RevealScore, 5)))

	kinds, err := s.PendingKinds(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[ir.RevealKind]bool{ir.RevealRawFields: true, ir.RevealScore: true}, kinds)

	stale, err := s.PendingBefore(ctx, testEpoch.Add(3*time.Second))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, ir.RequestID("req-1"), stale[0].ID)

	seq, err := s.MaxRequestSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), seq)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := mustCreateRecord(t, s)
	require.NoError(t, s.InsertRequest(ctx, createTestRequest("req-1", id, ir.RevealRawFields, 1)))

	boom := errors.New("apply failed")
	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.ConsumeRequest(ctx, "req-1", testEpoch); err != nil {
			return err
		}
		if err := tx.ApplyRawReveal(ctx, id, ir.Fields{Pressure: 1}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	req, _, err := s.ReadRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, ir.StatusPending, req.Status, "consume must roll back with the apply")

	rec, err := s.ReadRecord(ctx, id)
	require.NoError(t, err)
	assert.False(t, rec.IsRevealed)
}
