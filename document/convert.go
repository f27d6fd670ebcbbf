package document

import (
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/objectstack/pgadapter/schema"
)

// FromRow converts one physical row, keyed by column name, into a document.
//
// The schema's declared type for each column drives the restoration of
// typed wrappers; physical shapes the driver may hand back (pgtype.Point,
// pgtype.Polygon, time.Time, decoded jsonb) are all accepted. NULL columns
// are dropped entirely: the document model has no explicit-null storage at
// rest. Any date-typed column not declared in the schema (bookkeeping
// timestamps) still comes back as a Date wrapper.
func FromRow(s *schema.Schema, row map[string]interface{}) Document {
	doc := make(Document, len(row))
	for k, v := range row {
		doc[k] = v
	}

	for fieldName, fieldType := range s.Fields {
		raw, present := doc[fieldName]
		switch fieldType.Type {
		case schema.TypePointer:
			if present && raw != nil {
				doc[fieldName] = map[string]interface{}{
					"__type":    "Pointer",
					"className": fieldType.TargetClass,
					"objectId":  trimPointerID(raw),
				}
			}
		case schema.TypeRelation:
			// Membership lives in the join table; the column never exists.
			doc[fieldName] = map[string]interface{}{
				"__type":    "Relation",
				"className": fieldType.TargetClass,
			}
		case schema.TypeGeoPoint:
			if present && raw != nil {
				if lon, lat, ok := decodePoint(raw); ok {
					doc[fieldName] = map[string]interface{}{
						"__type":    "GeoPoint",
						"latitude":  lat,
						"longitude": lon,
					}
				}
			}
		case schema.TypePolygon:
			if present && raw != nil {
				if coords, ok := decodePolygon(raw); ok {
					doc[fieldName] = map[string]interface{}{
						"__type":      "Polygon",
						"coordinates": coords,
					}
				}
			}
		case schema.TypeFile:
			if present && raw != nil {
				doc[fieldName] = map[string]interface{}{"__type": "File", "name": raw}
			}
		}
	}

	for k, v := range doc {
		if v == nil {
			delete(doc, k)
			continue
		}
		if t, ok := v.(time.Time); ok {
			doc[k] = NewDate(t)
		}
	}
	return doc
}

func trimPointerID(v interface{}) interface{} {
	// char(10) columns come back space padded when the id is shorter.
	if s, ok := v.(string); ok {
		return strings.TrimRight(s, " ")
	}
	return v
}

func decodePoint(v interface{}) (lon, lat float64, ok bool) {
	switch p := v.(type) {
	case pgtype.Point:
		return p.P.X, p.P.Y, true
	case *pgtype.Point:
		return p.P.X, p.P.Y, true
	case string:
		s := strings.Trim(p, "()")
		parts := strings.Split(s, ",")
		if len(parts) != 2 {
			return 0, 0, false
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		return x, y, errX == nil && errY == nil
	default:
		return 0, 0, false
	}
}

// decodePolygon reverses the storage order back to [[lat, lon], ...]:
// the write path stored each vertex as (lon, lat). Both reversals must stay
// symmetric or round-trips drift.
func decodePolygon(v interface{}) ([][]float64, bool) {
	switch p := v.(type) {
	case pgtype.Polygon:
		return polygonFromVertices(p.P), true
	case *pgtype.Polygon:
		return polygonFromVertices(p.P), true
	case string:
		s := p
		if len(s) < 4 {
			return nil, false
		}
		s = s[2 : len(s)-2]
		var coords [][]float64
		for _, pair := range strings.Split(s, "),(") {
			parts := strings.Split(pair, ",")
			if len(parts) != 2 {
				return nil, false
			}
			x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if errX != nil || errY != nil {
				return nil, false
			}
			coords = append(coords, []float64{y, x})
		}
		return coords, true
	default:
		return nil, false
	}
}

func polygonFromVertices(vs []pgtype.Vec2) [][]float64 {
	coords := make([][]float64, 0, len(vs))
	for _, v := range vs {
		coords = append(coords, []float64{v.Y, v.X})
	}
	return coords
}

// ToRow is the inverse of FromRow for a single field value, used by the
// create and update paths. It returns the physical value to bind for the
// declared type, or ok=false when the value needs operator-specific SQL
// (arrays, increments) that the update compiler owns.
func ToRow(fieldType schema.FieldType, v interface{}) (interface{}, bool) {
	if v == nil {
		return nil, true
	}
	switch fieldType.Type {
	case schema.TypePointer:
		if m, ok := v.(map[string]interface{}); ok {
			return m["objectId"], true
		}
		return v, true
	case schema.TypeDate:
		return ToPostgresValue(v), true
	case schema.TypeFile:
		return ToPostgresValue(v), true
	case schema.TypeString, schema.TypeNumber, schema.TypeBoolean:
		return v, true
	case schema.TypeObject, schema.TypeBytes:
		return v, true
	default:
		return nil, false
	}
}
