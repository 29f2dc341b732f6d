// Package query implements the SelectQueryBuilder collaborator surface
// (spec §6 "Query surface"): order_by, limit, offset, and the choice
// between a single-index iteration fast path and a materialize-then-sort
// path. Grounded on the Rust original's
// queries/src/query/select_query_builder.rs shape, adapted from builder
// methods over an async stream to builder methods over a Go slice plus
// an optional lazy index iterator.
package query

import "sort"

// Order is the sort direction one order_by term requests.
type Order int

const (
	Asc Order = iota
	Desc
)

// orderTerm is one order_by clause: a column tag (used only to match the
// fast path against) and a Less comparator reporting whether a sorts
// before b in ascending orientation.
type orderTerm[Row any] struct {
	column string
	order  Order
	less   func(a, b Row) bool
}

// IndexIterFunc returns every row in a single index's natural order,
// ascending or descending. Supplied by the table façade for whichever
// index backs the builder's fast path (spec "ordering uses the
// single-index iter path when only one order_by is set").
type IndexIterFunc[Row any] func(ascending bool) []Row

// SelectQueryBuilder accumulates order_by/limit/offset clauses over a
// materialized row set and executes them on Execute.
type SelectQueryBuilder[Row any] struct {
	rows    []Row
	orderBy []orderTerm[Row]
	limit   int
	offset  int
	hasLim  bool
	hasOff  bool

	fastColumn string
	fastIter   IndexIterFunc[Row]
}

// New creates a builder over an already-materialized row set (typically
// the result of Table.SelectAll).
func New[Row any](rows []Row) *SelectQueryBuilder[Row] {
	return &SelectQueryBuilder[Row]{rows: rows}
}

// WithFastPath registers the single-index iterator the builder may use
// instead of sorting, when exactly one OrderBy clause is present and it
// names column; Offset and Limit still apply to the iterator's result.
func (b *SelectQueryBuilder[Row]) WithFastPath(column string, iter IndexIterFunc[Row]) *SelectQueryBuilder[Row] {
	b.fastColumn = column
	b.fastIter = iter
	return b
}

// OrderBy appends a sort clause. less must report a<b in ascending
// orientation regardless of order; Execute flips the comparison for Desc.
func (b *SelectQueryBuilder[Row]) OrderBy(column string, order Order, less func(a, b Row) bool) *SelectQueryBuilder[Row] {
	b.orderBy = append(b.orderBy, orderTerm[Row]{column: column, order: order, less: less})
	return b
}

// Limit bounds the result to at most n rows.
func (b *SelectQueryBuilder[Row]) Limit(n int) *SelectQueryBuilder[Row] {
	b.limit, b.hasLim = n, true
	return b
}

// Offset skips the first n rows of the (possibly ordered) result.
func (b *SelectQueryBuilder[Row]) Offset(n int) *SelectQueryBuilder[Row] {
	b.offset, b.hasOff = n, true
	return b
}

// Execute runs the accumulated clauses and returns the resulting rows
// (spec §6 "Execution returns a vector of rows").
func (b *SelectQueryBuilder[Row]) Execute() []Row {
	out := b.ordered()
	if b.hasOff {
		if b.offset >= len(out) {
			return nil
		}
		out = out[b.offset:]
	}
	if b.hasLim && b.limit < len(out) {
		out = out[:b.limit]
	}
	return out
}

func (b *SelectQueryBuilder[Row]) ordered() []Row {
	if len(b.orderBy) == 1 && b.fastIter != nil && b.orderBy[0].column == b.fastColumn {
		return b.fastIter(b.orderBy[0].order == Asc)
	}
	out := make([]Row, len(b.rows))
	copy(out, b.rows)
	if len(b.orderBy) == 0 {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, term := range b.orderBy {
			switch {
			case term.less(out[i], out[j]):
				return term.order == Asc
			case term.less(out[j], out[i]):
				return term.order == Desc
			}
		}
		return false
	})
	return out
}
