package schema

import (
	"errors"
	"fmt"
)

// ErrUnsupportedType is returned when a field type has no physical column
// representation. This is fatal: the caller passed a schema shape the
// adapter cannot store, and coercing would corrupt data.
var ErrUnsupportedType = errors.New("no postgres type for field type")

// PostgresType returns the physical column type for a logical field type.
//
// Relation fields have no column at all (membership lives in a join table),
// so asking for their physical type is an error; callers are expected to
// special-case them before reaching the mapper.
func PostgresType(t FieldType) (string, error) {
	switch t.Type {
	case TypeString:
		return "text", nil
	case TypeDate:
		return "timestamp with time zone", nil
	case TypeObject:
		return "jsonb", nil
	case TypeFile:
		return "text", nil
	case TypeBoolean:
		return "boolean", nil
	case TypePointer:
		return "char(10)", nil
	case TypeNumber:
		return "double precision", nil
	case TypeGeoPoint:
		return "point", nil
	case TypeBytes:
		return "jsonb", nil
	case TypePolygon:
		return "polygon", nil
	case TypeArray:
		if t.Contents != nil && t.Contents.Type == TypeString {
			return "text[]", nil
		}
		return "jsonb", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, t.Type)
	}
}
