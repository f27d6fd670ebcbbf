// Package sqlgen compiles document-model queries, updates and aggregation
// pipelines into parameterized Postgres SQL.
//
// Nothing caller-controlled ever reaches SQL text directly. Identifiers pass
// through Dialect.Ident (quoting), JSON path keys through Dialect literal
// escaping, and every value through Args.Bind, which allocates the next
// positional placeholder and records the value in order. Compilers hand back
// Fragment values (pattern + ordered bind values + optional ORDER BY
// fragments) that the adapter assembles into statements.
package sqlgen
