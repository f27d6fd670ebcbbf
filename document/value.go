package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Document is a single object in the document model.
type Document = map[string]interface{}

// ISOLayout is the wire format for Date wrappers: RFC 3339 with millisecond
// precision, always UTC.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// ErrInvalidNestedKey flags object keys that would break dotted-path
// addressing once stored.
var ErrInvalidNestedKey = errors.New("nested keys should not contain the '$' or '.' characters")

// ErrInvalidValue flags document values whose shape does not match their
// declared type (bad polygons, malformed coordinates and the like).
var ErrInvalidValue = errors.New("invalid value")

// TypeOf returns the __type tag of a typed wrapper value, or "" when v is
// not a wrapper.
func TypeOf(v interface{}) string {
	if m, ok := v.(map[string]interface{}); ok {
		if t, ok := m["__type"].(string); ok {
			return t
		}
	}
	return ""
}

// OpOf returns the __op tag of an update operator object, or "" when v is
// not one.
func OpOf(v interface{}) string {
	if m, ok := v.(map[string]interface{}); ok {
		if op, ok := m["__op"].(string); ok {
			return op
		}
	}
	return ""
}

// NewDate wraps t as a Date value.
func NewDate(t time.Time) map[string]interface{} {
	return map[string]interface{}{"__type": "Date", "iso": t.UTC().Format(ISOLayout)}
}

// NewPointer wraps an object reference as a Pointer value.
func NewPointer(className, objectID string) map[string]interface{} {
	return map[string]interface{}{"__type": "Pointer", "className": className, "objectId": objectID}
}

// ToPostgresValue lowers Date and File wrappers to the literal the column
// stores (the ISO string, the file name). Every other value passes through
// unchanged.
func ToPostgresValue(v interface{}) interface{} {
	switch TypeOf(v) {
	case "Date":
		return v.(map[string]interface{})["iso"]
	case "File":
		return v.(map[string]interface{})["name"]
	default:
		return v
	}
}

// GeoPoint is the decoded form of a GeoPoint wrapper.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// GeoPointFrom decodes a GeoPoint wrapper. Coordinates must be finite
// numbers inside the valid latitude/longitude ranges.
func GeoPointFrom(v interface{}) (GeoPoint, error) {
	m, ok := v.(map[string]interface{})
	if !ok || TypeOf(v) != "GeoPoint" {
		return GeoPoint{}, fmt.Errorf("%w: not a GeoPoint", ErrInvalidValue)
	}
	lat, latOK := toFloat(m["latitude"])
	lon, lonOK := toFloat(m["longitude"])
	if !latOK || !lonOK || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return GeoPoint{}, fmt.Errorf("%w: bad GeoPoint coordinates", ErrInvalidValue)
	}
	return GeoPoint{Latitude: lat, Longitude: lon}, nil
}

// PolygonCoordinates extracts the [[lat, lon], ...] vertex list from either a
// Polygon wrapper or a bare coordinate array, validating that at least three
// distinct vertices are present and each pair is a valid lat/lon.
func PolygonCoordinates(v interface{}) ([][2]float64, error) {
	raw := v
	if m, ok := v.(map[string]interface{}); ok {
		if TypeOf(v) != "Polygon" {
			return nil, fmt.Errorf("%w: not a Polygon", ErrInvalidValue)
		}
		raw = m["coordinates"]
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: polygon coordinates must be an array", ErrInvalidValue)
	}
	coords := make([][2]float64, 0, len(list))
	for _, entry := range list {
		pair, ok := entry.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: polygon vertex must be a [lat, lon] pair", ErrInvalidValue)
		}
		lat, latOK := toFloat(pair[0])
		lon, lonOK := toFloat(pair[1])
		if !latOK || !lonOK || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("%w: bad polygon vertex", ErrInvalidValue)
		}
		coords = append(coords, [2]float64{lat, lon})
	}
	distinct := map[[2]float64]struct{}{}
	for _, c := range coords {
		distinct[c] = struct{}{}
	}
	if len(distinct) < 3 {
		return nil, fmt.Errorf("%w: polygon must have at least 3 distinct vertices", ErrInvalidValue)
	}
	return coords, nil
}

// PolygonToSQL renders vertices as the Postgres polygon literal
// "((x1,y1),(x2,y2),...)". Longitude is physical x, so each [lat, lon] pair
// is reversed on the way in; the read path reverses it back.
func PolygonToSQL(coords [][2]float64) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, c := range coords {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		b.WriteString(formatFloat(c[1]))
		b.WriteString(", ")
		b.WriteString(formatFloat(c[0]))
		b.WriteByte(')')
	}
	b.WriteByte(')')
	return b.String()
}

// ValidateNestedKeys rejects any object whose keys, at any depth, contain
// '$' or '.'. Run after dotted-path expansion, so surviving dots are
// genuinely part of key names.
func ValidateNestedKeys(v interface{}) error {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	for key, value := range m {
		if strings.Contains(key, "$") || strings.Contains(key, ".") {
			return ErrInvalidNestedKey
		}
		if err := ValidateNestedKeys(value); err != nil {
			return err
		}
	}
	return nil
}

// ExpandDotFields rewrites {"a.b.c": v} entries into nested objects
// {"a": {"b": {"c": v}}}, merging into any object already present under the
// first component. Delete operators expand to an absent key. The input map
// is not modified.
func ExpandDotFields(object map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(object))
	for k, v := range object {
		if !strings.Contains(k, ".") {
			out[k] = v
		}
	}
	for k, v := range object {
		if !strings.Contains(k, ".") {
			continue
		}
		// A nested Delete expands to an absent key, not an explicit null.
		deleted := OpOf(v) == "Delete"
		components := strings.Split(k, ".")
		current, _ := out[components[0]].(map[string]interface{})
		if current == nil {
			current = map[string]interface{}{}
		}
		out[components[0]] = current
		for i := 1; i < len(components); i++ {
			name := components[i]
			if i == len(components)-1 {
				if deleted {
					delete(current, name)
				} else {
					current[name] = v
				}
				break
			}
			next, _ := current[name].(map[string]interface{})
			if next == nil {
				next = map[string]interface{}{}
			}
			current[name] = next
			current = next
		}
	}
	return out
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
