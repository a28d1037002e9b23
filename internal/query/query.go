// Package query evaluates filter, sort and ancestor queries over datastore records.
//
// Semantics follow a schemaless entity store: an entity that lacks a filtered or
// sorted property never matches; a multi-valued property matches a filter when any
// of its values does; at most one property may carry inequality filters, and when
// it does and an explicit sort order is given, that property must be sorted first.
package query

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
	"github.com/Shivanand-hulikatti/conference-central/internal/datastore"
)

// Operator is a filter comparison.
type Operator int

const (
	EQ Operator = iota
	NE
	LT
	LTEQ
	GT
	GTEQ
)

func (o Operator) String() string {
	switch o {
	case EQ:
		return "="
	case NE:
		return "!="
	case LT:
		return "<"
	case LTEQ:
		return "<="
	case GT:
		return ">"
	case GTEQ:
		return ">="
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// Inequality reports whether o is anything other than equality.
func (o Operator) Inequality() bool { return o != EQ }

// Filter is one property condition.
type Filter struct {
	Property string
	Op       Operator
	Value    any
}

// Order sorts by one property.
type Order struct {
	Property   string
	Descending bool
}

// ParseOrder reads "name" or "-name".
func ParseOrder(s string) Order {
	if p, ok := strings.CutPrefix(s, "-"); ok {
		return Order{Property: p, Descending: true}
	}
	return Order{Property: s}
}

// Entity exposes property values for filtering and sorting. The bool result is
// false when the entity has no such property.
type Entity interface {
	Property(name string) ([]any, bool)
}

// Source yields the candidate records of a kind. Both *datastore.Client and
// *datastore.Tx satisfy it.
type Source interface {
	Scan(ctx context.Context, kind string, ancestor *datastore.Key) ([]datastore.Record, error)
}

// Query describes what to fetch.
type Query struct {
	Kind     string
	Ancestor *datastore.Key
	Filters  []Filter
	Orders   []Order
	Limit    int
}

// New starts a query over kind.
func New(kind string) *Query { return &Query{Kind: kind} }

// Filter adds a condition.
func (q *Query) Filter(property string, op Operator, value any) *Query {
	q.Filters = append(q.Filters, Filter{Property: property, Op: op, Value: value})
	return q
}

// Order adds a sort key; prefix the property with "-" for descending.
func (q *Query) Order(property string) *Query {
	q.Orders = append(q.Orders, ParseOrder(property))
	return q
}

// WithAncestor restricts the query to descendants of k.
func (q *Query) WithAncestor(k *datastore.Key) *Query {
	q.Ancestor = k
	return q
}

// WithLimit caps the number of results; 0 means unlimited.
func (q *Query) WithLimit(n int) *Query {
	q.Limit = n
	return q
}

// InequalityProperty returns the property carrying inequality filters, if any.
func (q *Query) InequalityProperty() string {
	for _, f := range q.Filters {
		if f.Op.Inequality() {
			return f.Property
		}
	}
	return ""
}

// Validate rejects queries the engine will not run.
func (q *Query) Validate() error {
	if q.Kind == "" {
		return apperr.ErrInvalidQuery.WithDetail("kind is required")
	}
	if q.Limit < 0 {
		return apperr.ErrInvalidQuery.WithDetail("negative limit")
	}
	ineq := ""
	for _, f := range q.Filters {
		if f.Property == "" {
			return apperr.ErrInvalidQuery.WithDetail("filter without property")
		}
		if f.Op < EQ || f.Op > GTEQ {
			return apperr.ErrInvalidQuery.WithDetail("unknown operator %s", f.Op)
		}
		if _, ok := normalize(f.Value); !ok {
			return apperr.ErrInvalidQuery.WithDetail("unsupported value %T for %s", f.Value, f.Property)
		}
		if !f.Op.Inequality() {
			continue
		}
		if ineq != "" && ineq != f.Property {
			return apperr.ErrInvalidQuery.WithDetail(
				"inequality filters on more than one property: %s and %s", ineq, f.Property)
		}
		ineq = f.Property
	}
	for _, o := range q.Orders {
		if o.Property == "" {
			return apperr.ErrInvalidQuery.WithDetail("order without property")
		}
	}
	if ineq != "" && len(q.Orders) > 0 && q.Orders[0].Property != ineq {
		return apperr.ErrInvalidQuery.WithDetail(
			"first sort property must be %s, the inequality filter property, not %s", ineq, q.Orders[0].Property)
	}
	return nil
}

// orders returns the sort list, putting the inequality property first when no
// explicit order was given.
func (q *Query) orders() []Order {
	if len(q.Orders) == 0 {
		if p := q.InequalityProperty(); p != "" {
			return []Order{{Property: p}}
		}
	}
	return q.Orders
}

type row[PT any] struct {
	path   string
	entity PT
}

// Run executes q against src and decodes matching records into PT.
func Run[T any, PT interface {
	*T
	Entity
}](ctx context.Context, src Source, q *Query) ([]PT, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	recs, err := src.Scan(ctx, q.Kind, q.Ancestor)
	if err != nil {
		return nil, err
	}

	orders := q.orders()
	rows := make([]row[PT], 0, len(recs))
	for _, rec := range recs {
		e := PT(new(T))
		if err := datastore.Decode(rec, e); err != nil {
			return nil, err
		}
		if matches(e, q.Filters) && hasProperties(e, orders) {
			rows = append(rows, row[PT]{path: rec.Key.Path(), entity: e})
		}
	}

	slices.SortStableFunc(rows, func(a, b row[PT]) int {
		for _, o := range orders {
			c := compareForSort(a.entity, b.entity, o)
			if c != 0 {
				return c
			}
		}
		return strings.Compare(a.path, b.path)
	})

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]PT, len(rows))
	for i, r := range rows {
		out[i] = r.entity
	}
	return out, nil
}

func matches(e Entity, filters []Filter) bool {
	for _, f := range filters {
		vals, ok := e.Property(f.Property)
		if !ok || len(vals) == 0 {
			return false
		}
		want, _ := normalize(f.Value)
		if !slices.ContainsFunc(vals, func(v any) bool { return satisfies(v, f.Op, want) }) {
			return false
		}
	}
	return true
}

func hasProperties(e Entity, orders []Order) bool {
	for _, o := range orders {
		if vals, ok := e.Property(o.Property); !ok || len(vals) == 0 {
			return false
		}
	}
	return true
}

func satisfies(v any, op Operator, want any) bool {
	got, ok := normalize(v)
	if !ok {
		return false
	}
	c, ok := compare(got, want)
	if !ok {
		return op == NE
	}
	switch op {
	case EQ:
		return c == 0
	case NE:
		return c != 0
	case LT:
		return c < 0
	case LTEQ:
		return c <= 0
	case GT:
		return c > 0
	case GTEQ:
		return c >= 0
	}
	return false
}

// compareForSort orders by the smallest value ascending and the largest value
// descending, so multi-valued properties sort predictably.
func compareForSort(a, b Entity, o Order) int {
	av, _ := a.Property(o.Property)
	bv, _ := b.Property(o.Property)
	x, y := extreme(av, o.Descending), extreme(bv, o.Descending)
	c := compareAny(x, y)
	if o.Descending {
		return -c
	}
	return c
}

func extreme(vals []any, largest bool) any {
	var best any
	for i, v := range vals {
		n, _ := normalize(v)
		if i == 0 {
			best = n
			continue
		}
		c := compareAny(n, best)
		if (largest && c > 0) || (!largest && c < 0) {
			best = n
		}
	}
	return best
}

// normalize widens numeric types so values of the same family compare.
func normalize(v any) (any, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return x, true
	case string:
		return x, true
	case bool:
		return x, true
	case time.Time:
		return x, true
	}
	return nil, false
}

// compare reports the order of two normalized values of the same type.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y), true
		case float64:
			return cmp.Compare(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmp.Compare(x, y), true
		case int64:
			return cmp.Compare(x, float64(y)), true
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

// compareAny orders values of different types by a fixed type rank.
func compareAny(a, b any) int {
	if c, ok := compare(a, b); ok {
		return c
	}
	return cmp.Compare(typeRank(a), typeRank(b))
}

func typeRank(v any) int {
	switch v.(type) {
	case bool:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	case time.Time:
		return 4
	}
	return 0
}
