// Package schema models the logical schema of a class: field names mapped to
// semantic field types, class-level permissions and declared indexes.
//
// It also owns the type mapper, the deterministic table that turns a logical
// field type into the physical Postgres column type. The mapping is pure and
// total over the supported type set; anything else fails with
// ErrUnsupportedType rather than being silently coerced.
package schema
