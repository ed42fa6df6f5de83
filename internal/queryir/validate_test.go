package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sealgauge/internal/ir"
)

func TestValidate_Accepts(t *testing.T) {
	tests := []struct {
		name  string
		query Query
	}{
		{"bare table", Select{From: TableEvents}},
		{"pointer", &Select{From: TableRejections, Columns: []string{"id", "code"}}},
		{"event type", Select{From: TableEvents, Filter: Equals{Field: "type", Value: ir.EventScoreRevealed}}},
		{"record id", Select{From: TableEvents, Filter: Equals{Field: "record_id", Value: ir.RecordID(3)}}},
		{"plain int", Select{From: TableEvents, Filter: Equals{Field: "seq", Value: 3}}},
		{"after", Select{From: TableRejections, Filter: After{Field: "id", Value: 10}}},
		{"conjunction", Select{From: TableEvents, Filter: And{Predicates: []Predicate{
			Equals{Field: "request_id", Value: ir.RequestID("req-1")},
			After{Field: "seq", Value: 2},
		}}}},
		{"empty and", Select{From: TableEvents, Filter: And{}}},
		{"rejection code", Select{From: TableRejections, Filter: Equals{Field: "code", Value: ir.ErrCodeUnknownRequest}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, Validate(tt.query))
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		wantErr string
	}{
		{"nil query", nil, "unsupported query type"},
		{"nil pointer", (*Select)(nil), "unsupported query type"},
		{"unknown table", Select{From: "records"}, "unknown table"},
		{"unknown column", Select{From: TableEvents, Columns: []string{"hash"}}, "unknown column events.hash"},
		{"unknown filter column", Select{From: TableEvents, Filter: Equals{Field: "code", Value: "x"}}, "unknown column events.code"},
		{"null", Select{From: TableEvents, Filter: Equals{Field: "type", Value: nil}}, "NULL"},
		{"float", Select{From: TableEvents, Filter: Equals{Field: "seq", Value: 1.5}}, "unsupported value type float64"},
		{"string for int", Select{From: TableEvents, Filter: Equals{Field: "seq", Value: "1"}}, "compared to string"},
		{"int for string", Select{From: TableEvents, Filter: Equals{Field: "type", Value: 1}}, "compared to int"},
		{"after on text", Select{From: TableEvents, Filter: After{Field: "type", Value: 1}}, "not an integer column"},
		{"nested bad", Select{From: TableEvents, Filter: And{Predicates: []Predicate{
			Equals{Field: "type", Value: "x"},
			After{Field: "nope", Value: 1},
		}}}, "unknown column events.nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.query)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWhere(t *testing.T) {
	assert.Nil(t, Where())
	assert.Nil(t, Where(nil, nil))

	eq := Equals{Field: "type", Value: "x"}
	assert.Equal(t, eq, Where(nil, eq))

	after := After{Field: "seq", Value: 1}
	assert.Equal(t, And{Predicates: []Predicate{eq, after}}, Where(eq, nil, after))
}

func TestParam(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{"s", "s"},
		{ir.RequestID("req-1"), "req-1"},
		{ir.EventRecordRevealed, "RecordRevealed"},
		{ir.ErrCodeAlreadyConsumed, "ALREADY_CONSUMED"},
		{ir.RevealScore, "score"},
		{7, int64(7)},
		{int64(8), int64(8)},
		{ir.RecordID(9), int64(9)},
	}
	for _, tt := range tests {
		got, err := Param(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := Param(true)
	assert.Error(t, err)
}

func TestKeyColumn(t *testing.T) {
	assert.Equal(t, "seq", KeyColumn(TableEvents))
	assert.Equal(t, "id", KeyColumn(TableRejections))
}
