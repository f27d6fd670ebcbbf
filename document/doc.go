// Package document implements the object-document value model and its
// mapping to and from physical Postgres rows.
//
// A document is a map[string]interface{} whose values are JSON scalars,
// arrays, nested objects, or typed wrappers: maps carrying a "__type" tag
// (Pointer, Date, GeoPoint, Polygon, File, Bytes, Relation). The mapper in
// this package restores those wrappers when reading rows and strips them to
// physical literals when writing, keyed by the schema's declared type for
// each column rather than by the raw wire type.
package document
