package queryir

import (
	"fmt"

	"github.com/roach88/sealgauge/internal/ir"
)

// column describes one filterable or selectable column.
type column struct {
	integer bool // holds an integer; After is allowed
}

// catalogue lists the columns of each audit table.
var catalogue = map[Table]map[string]column{
	TableEvents: {
		"seq":        {integer: true},
		"type":       {},
		"record_id":  {integer: true},
		"request_id": {},
		"attrs":      {},
		"at":         {integer: true},
	},
	TableRejections: {
		"id":         {integer: true},
		"request_id": {},
		"record_id":  {integer: true},
		"code":       {},
		"reason":     {},
		"payload":    {},
		"at":         {integer: true},
	},
}

// KeyColumn returns the column a table is ordered by.
func KeyColumn(t Table) string {
	if t == TableEvents {
		return "seq"
	}
	return "id"
}

// Validate reports the first reason q cannot be compiled.
//
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	sel, ok := AsSelect(q)
	if !ok {
		return fmt.Errorf("queryir: unsupported query type %T", q)
	}
	cols, ok := catalogue[sel.From]
	if !ok {
		return fmt.Errorf("queryir: unknown table %q", sel.From)
	}
	for _, c := range sel.Columns {
		if _, ok := cols[c]; !ok {
			return fmt.Errorf("queryir: unknown column %s.%s", sel.From, c)
		}
	}
	return validatePredicate(sel.From, cols, sel.Filter)
}

func validatePredicate(t Table, cols map[string]column, p Predicate) error {
	switch pred := p.(type) {
	case nil:
		return nil
	case Equals:
		col, ok := cols[pred.Field]
		if !ok {
			return fmt.Errorf("queryir: unknown column %s.%s", t, pred.Field)
		}
		v, err := Param(pred.Value)
		if err != nil {
			return fmt.Errorf("queryir: %s: %w", pred.Field, err)
		}
		if _, isInt := v.(int64); isInt != col.integer {
			return fmt.Errorf("queryir: %s.%s compared to %T", t, pred.Field, pred.Value)
		}
		return nil
	case After:
		col, ok := cols[pred.Field]
		if !ok {
			return fmt.Errorf("queryir: unknown column %s.%s", t, pred.Field)
		}
		if !col.integer {
			return fmt.Errorf("queryir: %s.%s is not an integer column", t, pred.Field)
		}
		return nil
	case And:
		for _, sub := range pred.Predicates {
			if err := validatePredicate(t, cols, sub); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("queryir: unsupported predicate type %T", p)
	}
}

// Param converts a predicate value to the driver type it binds as.
func Param(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case ir.RequestID:
		return string(val), nil
	case ir.EventType:
		return string(val), nil
	case ir.ErrorCode:
		return string(val), nil
	case ir.RevealKind:
		return string(val), nil
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case ir.RecordID:
		return int64(val), nil
	case nil:
		return nil, fmt.Errorf("NULL comparisons are not supported")
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// AsSelect returns the Select behind q, by value or pointer.
func AsSelect(q Query) (Select, bool) {
	switch sel := q.(type) {
	case Select:
		return sel, true
	case *Select:
		if sel == nil {
			return Select{}, false
		}
		return *sel, true
	default:
		return Select{}, false
	}
}
