package sqlgen

import "strconv"

// Fragment is the universal output of every compiler stage: a SQL pattern
// with positional placeholders, the bind values those placeholders refer to
// in order, and any ORDER BY fragments a predicate contributed (ascending
// distance for $nearSphere).
type Fragment struct {
	Pattern      string
	Values       []interface{}
	ExtraOrderBy []string
}

// Empty reports whether the fragment compiled to no SQL at all. The caller
// wraps the pattern in WHERE only when non-empty.
func (f Fragment) Empty() bool {
	return f.Pattern == ""
}

// Args allocates positional placeholders and accumulates bind values.
//
// Bind is the only way a value enters a pattern, which makes the
// injection-safety invariant structural: the pattern can only ever contain
// "$n" where a value was recorded. The explicit allocator also keeps the
// placeholder index flowing visibly through recursive compilation ($or/$and
// sub-queries share one Args, so indexes advance monotonically and never
// collide).
type Args struct {
	start  int
	values []interface{}
}

// NewArgs returns an allocator whose first placeholder is $start.
func NewArgs(start int) *Args {
	return &Args{start: start}
}

// Bind records v and returns its placeholder.
func (a *Args) Bind(v interface{}) string {
	a.values = append(a.values, v)
	return "$" + strconv.Itoa(a.start+len(a.values)-1)
}

// Next returns the index the next Bind will use.
func (a *Args) Next() int {
	return a.start + len(a.values)
}

// Values returns the bind values in placeholder order.
func (a *Args) Values() []interface{} {
	return a.values
}
