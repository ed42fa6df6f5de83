package queryir

// Table names an audit table.
type Table string

const (
	TableEvents     Table = "events"
	TableRejections Table = "rejected_callbacks"
)

// Query is a sealed interface; only Select implements it.
type Query interface {
	queryNode()
}

// Predicate is a sealed interface for filter conditions.
type Predicate interface {
	predicateNode()
}

// Select reads rows of one table in its key order.
//
// Columns lists the selected columns in scan order; empty selects the
// table's key column only. Limit caps the row count; zero or less means no
// limit.
type Select struct {
	From    Table
	Columns []string
	Filter  Predicate
	Limit   int
}

func (Select) queryNode() {}

// Equals is field = value.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// After is field > value, for the integer key columns.
type After struct {
	Field string
	Value int64
}

func (After) predicateNode() {}

// And is the conjunction of its predicates. An empty And is true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Where conjoins the non-nil predicates. It returns nil when none remain
// and the single predicate when only one does.
func Where(preds ...Predicate) Predicate {
	var out []Predicate
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return And{Predicates: out}
	}
}
