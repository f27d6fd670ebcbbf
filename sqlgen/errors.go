package sqlgen

import "errors"

// Compiler error types. All are caller-logic errors: the input query or
// update has a shape this adapter cannot translate, and retrying will not
// help.
var (
	// ErrUnsupportedQuery is returned when a query constraint produces no
	// SQL. Failing loud here matters: silently accepting a constraint that
	// compiles to "match everything" is worse than an error.
	ErrUnsupportedQuery = errors.New("unsupported query type")

	// ErrUnsupportedUpdate is returned for update operator shapes with no
	// SET-clause translation.
	ErrUnsupportedUpdate = errors.New("unsupported update type")

	// ErrInvalidQuery flags a recognized operator used with malformed
	// arguments ($text without a term, a two-vertex polygon). Rejected
	// before any SQL is issued.
	ErrInvalidQuery = errors.New("invalid query")
)
