// Package querysql compiles queryir queries to parameterized SQLite SQL.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/sealgauge/internal/queryir"
)

// Compile converts q to SQL and its bind parameters.
//
// Every query is ordered by the table's key column so results are
// deterministic, and every value is bound with a placeholder, never
// interpolated.
func Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}
	sel, _ := queryir.AsSelect(q)
	key := queryir.KeyColumn(sel.From)

	cols := key
	if len(sel.Columns) > 0 {
		cols = strings.Join(sel.Columns, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, sel.From)

	var params []any
	if sel.Filter != nil {
		where, p, err := compilePredicate(sel.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
		params = p
	}

	fmt.Fprintf(&b, " ORDER BY %s ASC", key)
	if sel.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, sel.Limit)
	}
	return b.String(), params, nil
}

func compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		v, err := queryir.Param(pred.Value)
		if err != nil {
			return "", nil, err
		}
		return pred.Field + " = ?", []any{v}, nil

	case queryir.After:
		return pred.Field + " > ?", []any{pred.Value}, nil

	case queryir.And:
		parts := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, sub := range pred.Predicates {
			if sub == nil {
				continue
			}
			sql, p, err := compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			if _, nested := sub.(queryir.And); nested {
				sql = "(" + sql + ")"
			}
			parts = append(parts, sql)
			params = append(params, p...)
		}
		if len(parts) == 0 {
			return "1 = 1", nil, nil
		}
		return strings.Join(parts, " AND "), params, nil

	default:
		return "", nil, fmt.Errorf("unsupported predicate type %T", p)
	}
}
