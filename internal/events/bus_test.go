package events

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sealgauge/internal/ir"
)

func TestBus_TypedAndAll(t *testing.T) {
	b := New()

	var typed, all []ir.EventType
	require.NoError(t, b.Subscribe(ir.EventRecordRevealed, func(ev ir.Event) {
		typed = append(typed, ev.Type)
	}))
	require.NoError(t, b.SubscribeAll(func(ev ir.Event) {
		all = append(all, ev.Type)
	}))

	b.PublishAll([]ir.Event{
		{Type: ir.EventRecordSubmitted, RecordID: 1},
		{Type: ir.EventRecordRevealed, RecordID: 1},
	})

	assert.Equal(t, []ir.EventType{ir.EventRecordRevealed}, typed)
	assert.Equal(t, []ir.EventType{ir.EventRecordSubmitted, ir.EventRecordRevealed}, all)
}

func TestBus_Async(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var seqs []int64
	require.NoError(t, b.SubscribeAsync(func(ev ir.Event) {
		mu.Lock()
		seqs = append(seqs, ev.Seq)
		mu.Unlock()
	}))

	for i := int64(1); i <= 5; i++ {
		b.Publish(ir.Event{Seq: i, Type: ir.EventScoreComputed})
	}
	b.WaitAsync()

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqs)
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	b := New()
	require.NoError(t, b.SubscribeAsync(LogHandler(logger)))
	b.PublishAll([]ir.Event{
		{Seq: 1, Type: ir.EventRecordSubmitted, RecordID: 3},
		{Seq: 2, Type: ir.EventCallbackRejected, RecordID: 3, RequestID: "req-9", Attrs: map[string]any{"code": "UNKNOWN_REQUEST"}},
	})
	b.WaitAsync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "seq=1 type=RecordSubmitted record_id=3")
	assert.NotContains(t, lines[0], "request_id")
	assert.Contains(t, lines[1], "request_id=req-9 code=UNKNOWN_REQUEST")
}

func TestBus_NoSubscribers(t *testing.T) {
	assert.NotPanics(t, func() {
		New().Publish(ir.Event{Type: ir.EventCallbackRejected})
	})
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "sealgauge.RecordSubmitted", Topic(ir.EventRecordSubmitted))
}
