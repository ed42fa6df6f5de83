package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/queryir"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name       string
		query      queryir.Query
		wantSQL    string
		wantParams []any
	}{
		{
			name:    "key only",
			query:   queryir.Select{From: queryir.TableEvents},
			wantSQL: "SELECT seq FROM events ORDER BY seq ASC",
		},
		{
			name:       "columns and after",
			query:      queryir.Select{From: queryir.TableEvents, Columns: []string{"seq", "type"}, Filter: queryir.After{Field: "seq", Value: 5}},
			wantSQL:    "SELECT seq, type FROM events WHERE seq > ? ORDER BY seq ASC",
			wantParams: []any{int64(5)},
		},
		{
			name: "conjunction with limit",
			query: &queryir.Select{
				From: queryir.TableEvents,
				Filter: queryir.And{Predicates: []queryir.Predicate{
					queryir.Equals{Field: "record_id", Value: ir.RecordID(2)},
					queryir.Equals{Field: "type", Value: ir.EventCallbackRejected},
				}},
				Limit: 10,
			},
			wantSQL:    "SELECT seq FROM events WHERE record_id = ? AND type = ? ORDER BY seq ASC LIMIT ?",
			wantParams: []any{int64(2), "CallbackRejected", 10},
		},
		{
			name: "nested and is parenthesized",
			query: queryir.Select{
				From: queryir.TableRejections,
				Filter: queryir.And{Predicates: []queryir.Predicate{
					queryir.After{Field: "id", Value: 1},
					queryir.And{Predicates: []queryir.Predicate{
						queryir.Equals{Field: "code", Value: ir.ErrCodeUnknownRequest},
						queryir.Equals{Field: "request_id", Value: "x"},
					}},
				}},
			},
			wantSQL:    "SELECT id FROM rejected_callbacks WHERE id > ? AND (code = ? AND request_id = ?) ORDER BY id ASC",
			wantParams: []any{int64(1), "UNKNOWN_REQUEST", "x"},
		},
		{
			name:    "empty and",
			query:   queryir.Select{From: queryir.TableEvents, Filter: queryir.And{}},
			wantSQL: "SELECT seq FROM events WHERE 1 = 1 ORDER BY seq ASC",
		},
		{
			name:    "negative limit is ignored",
			query:   queryir.Select{From: queryir.TableEvents, Limit: -1},
			wantSQL: "SELECT seq FROM events ORDER BY seq ASC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := Compile(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantParams, params)
		})
	}
}

func TestCompile_ValuesAreNeverInterpolated(t *testing.T) {
	evil := "x' OR '1'='1"
	sql, params, err := Compile(queryir.Select{
		From:   queryir.TableEvents,
		Filter: queryir.Equals{Field: "request_id", Value: evil},
	})
	require.NoError(t, err)
	assert.NotContains(t, sql, evil)
	assert.Equal(t, []any{evil}, params)
}

func TestCompile_RejectsInvalid(t *testing.T) {
	_, _, err := Compile(queryir.Select{From: "records"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown table")

	_, _, err = Compile(nil)
	require.Error(t, err)
}
