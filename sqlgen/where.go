package sqlgen

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/objectstack/pgadapter/document"
	"github.com/objectstack/pgadapter/schema"
)

// CompileWhere recursively compiles a document query into a Fragment whose
// pattern is the AND-join of one fragment per constraint. Placeholders are
// allocated from args, which boolean combinators share across sub-queries so
// indexes advance monotonically through the whole tree.
//
// The returned fragment's pattern is empty for an empty query; the caller
// decides whether to emit WHERE.
func CompileWhere(d Dialect, s *schema.Schema, query map[string]interface{}, args *Args) (Fragment, error) {
	return compileWhere(d, s, query, args, false)
}

// CompileWhereCaseInsensitive behaves like CompileWhere, except that
// equality constraints on String-typed fields fold both sides through
// lower(). Every other operator keeps its usual semantics.
func CompileWhereCaseInsensitive(d Dialect, s *schema.Schema, query map[string]interface{}, args *Args) (Fragment, error) {
	return compileWhere(d, s, query, args, true)
}

func compileWhere(d Dialect, s *schema.Schema, query map[string]interface{}, args *Args, fold bool) (Fragment, error) {
	c := &whereCompiler{d: d, schema: s, args: args, fold: fold}
	if err := c.compile(query); err != nil {
		return Fragment{}, err
	}
	return Fragment{
		Pattern:      strings.Join(c.patterns, " AND "),
		Values:       args.Values(),
		ExtraOrderBy: c.sorts,
	}, nil
}

type whereCompiler struct {
	d        Dialect
	schema   *schema.Schema
	args     *Args
	fold     bool
	patterns []string
	sorts    []string
}

func (c *whereCompiler) compile(query map[string]interface{}) error {
	fieldNames := make([]string, 0, len(query))
	for name := range query {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)

	for _, fieldName := range fieldNames {
		fieldValue := query[fieldName]
		initial := len(c.patterns)

		switch {
		case fieldName == "$or" || fieldName == "$and" || fieldName == "$nor":
			if err := c.compileCombinator(fieldName, fieldValue); err != nil {
				return err
			}
		case strings.Contains(fieldName, "."):
			if err := c.compileDotted(fieldName, fieldValue); err != nil {
				return err
			}
			// Unsupported operators on dotted paths are intentionally a
			// no-op, see compileDotted.
			continue
		default:
			skipped, err := c.compileField(fieldName, fieldValue)
			if err != nil {
				return err
			}
			if skipped {
				continue
			}
		}

		if len(c.patterns) == initial {
			return fmt.Errorf("%w: no constraint produced for field %q", ErrUnsupportedQuery, fieldName)
		}
	}
	return nil
}

func (c *whereCompiler) compileCombinator(op string, v interface{}) error {
	subQueries, ok := v.([]interface{})
	if !ok || len(subQueries) == 0 {
		return fmt.Errorf("%w: %s expects a non-empty array of sub-queries", ErrInvalidQuery, op)
	}
	clauses := make([]string, 0, len(subQueries))
	for _, sub := range subQueries {
		subQuery, ok := sub.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: %s sub-query must be an object", ErrInvalidQuery, op)
		}
		frag, err := compileWhere(c.d, c.schema, subQuery, c.args, c.fold)
		if err != nil {
			return err
		}
		if frag.Pattern != "" {
			clauses = append(clauses, "("+frag.Pattern+")")
		}
		c.sorts = append(c.sorts, frag.ExtraOrderBy...)
	}
	if len(clauses) == 0 {
		return fmt.Errorf("%w: %s compiled to nothing", ErrUnsupportedQuery, op)
	}
	switch op {
	case "$or":
		c.patterns = append(c.patterns, "("+strings.Join(clauses, " OR ")+")")
	case "$and":
		c.patterns = append(c.patterns, "("+strings.Join(clauses, " AND ")+")")
	case "$nor":
		c.patterns = append(c.patterns, "NOT ("+strings.Join(clauses, " OR ")+")")
	}
	return nil
}

// compileDotted handles queries against nested JSON values. Only a restricted
// operator subset has a translation here: equality, null, $ne, $in against
// JSON arrays, the numeric comparators (with an explicit cast), and $regex.
// Anything else on a dotted path compiles to nothing on purpose; callers
// have come to depend on that, so it is a documented limitation rather than
// an error.
func (c *whereCompiler) compileDotted(fieldName string, fieldValue interface{}) error {
	path := c.d.DotField(fieldName)

	switch v := fieldValue.(type) {
	case nil:
		c.patterns = append(c.patterns, path+" IS NULL")
		return nil
	case string, bool, float64, float32, int, int32, int64:
		c.patterns = append(c.patterns, fmt.Sprintf("%s = %s::text", path, c.args.Bind(v)))
		return nil
	case map[string]interface{}:
		return c.compileDottedOperators(fieldName, path, v)
	default:
		return nil
	}
}

func (c *whereCompiler) compileDottedOperators(fieldName, path string, ops map[string]interface{}) error {
	if in, ok := ops["$in"]; ok {
		list, ok := in.([]interface{})
		if !ok {
			return fmt.Errorf("%w: $in expects an array", ErrInvalidQuery)
		}
		encoded, err := json.Marshal(list)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		jsonPath := c.d.DotFieldJSON(fieldName)
		c.patterns = append(c.patterns,
			fmt.Sprintf("(%s)::jsonb @> %s::jsonb", jsonPath, c.args.Bind(string(encoded))))
	}
	if eq, ok := ops["$eq"]; ok {
		if eq == nil {
			c.patterns = append(c.patterns, path+" IS NULL")
		} else {
			c.patterns = append(c.patterns,
				fmt.Sprintf("%s = %s::text", path, c.args.Bind(document.ToPostgresValue(eq))))
		}
	}
	if ne, ok := ops["$ne"]; ok {
		if ne == nil {
			c.patterns = append(c.patterns, path+" IS NOT NULL")
		} else {
			c.patterns = append(c.patterns,
				fmt.Sprintf("(%s <> %s::text OR %s IS NULL)",
					path, c.args.Bind(document.ToPostgresValue(ne)), path))
		}
	}
	for _, cmp := range comparatorOrder {
		raw, ok := ops[string(cmp)]
		if !ok {
			continue
		}
		value := document.ToPostgresValue(raw)
		lhs := path
		switch value.(type) {
		case float64, float32, int, int32, int64:
			lhs = fmt.Sprintf("CAST ((%s) AS double precision)", path)
		case bool:
			lhs = fmt.Sprintf("CAST ((%s) AS boolean)", path)
		}
		c.patterns = append(c.patterns,
			fmt.Sprintf("%s %s %s", lhs, comparators[cmp], c.args.Bind(value)))
	}
	if raw, ok := ops["$regex"]; ok {
		if pattern, ok := raw.(string); ok {
			c.compileRegex(path, pattern, stringOr(ops["$options"], ""))
		}
	}
	return nil
}

// compileField translates one top-level constraint. skipped=true means the
// constraint is vacuously satisfied and produced no SQL by design.
func (c *whereCompiler) compileField(fieldName string, fieldValue interface{}) (skipped bool, err error) {
	name := c.d.Ident(fieldName)
	fieldType, known := c.schema.Field(fieldName)

	switch v := fieldValue.(type) {
	case nil:
		c.patterns = append(c.patterns, name+" IS NULL")
		return false, nil
	case string:
		if c.fold && known && fieldType.Type == schema.TypeString {
			c.patterns = append(c.patterns, fmt.Sprintf("lower(%s) = lower(%s)", name, c.args.Bind(v)))
		} else {
			c.patterns = append(c.patterns, fmt.Sprintf("%s = %s", name, c.args.Bind(v)))
		}
		return false, nil
	case float64, float32, int, int32, int64:
		c.patterns = append(c.patterns, fmt.Sprintf("%s = %s", name, c.args.Bind(v)))
		return false, nil
	case bool:
		// A boolean literal can never equal a double precision value;
		// binding a sentinel above the float53 integer range keeps the
		// comparison well-typed and always false instead of attempting a
		// cast the engine would reject.
		if known && fieldType.Type == schema.TypeNumber {
			c.patterns = append(c.patterns, fmt.Sprintf("%s = %s", name, c.args.Bind(math.MaxInt64)))
		} else {
			c.patterns = append(c.patterns, fmt.Sprintf("%s = %s", name, c.args.Bind(v)))
		}
		return false, nil
	case map[string]interface{}:
		if t := document.TypeOf(v); t != "" {
			return false, c.compileTypedEquality(fieldName, fieldType, t, v)
		}
		return c.compileOperators(fieldName, fieldType, known, v)
	default:
		return false, fmt.Errorf("%w: cannot compile constraint %v for field %q",
			ErrUnsupportedQuery, fieldValue, fieldName)
	}
}

func (c *whereCompiler) compileTypedEquality(fieldName string, fieldType schema.FieldType, typeTag string, v map[string]interface{}) error {
	name := c.d.Ident(fieldName)
	switch typeTag {
	case "Pointer":
		if fieldType.Type == schema.TypeArray {
			encoded, _ := json.Marshal([]interface{}{v})
			c.patterns = append(c.patterns,
				fmt.Sprintf("array_contains(%s, %s::jsonb)", name, c.args.Bind(string(encoded))))
		} else {
			c.patterns = append(c.patterns,
				fmt.Sprintf("%s = %s", name, c.args.Bind(v["objectId"])))
		}
	case "Date":
		c.patterns = append(c.patterns,
			fmt.Sprintf("%s = %s", name, c.args.Bind(v["iso"])))
	case "GeoPoint":
		point, err := document.GeoPointFrom(v)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		c.patterns = append(c.patterns,
			fmt.Sprintf("%s ~= POINT(%s, %s)", name,
				c.args.Bind(point.Longitude), c.args.Bind(point.Latitude)))
	case "Polygon":
		coords, err := document.PolygonCoordinates(v)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		c.patterns = append(c.patterns,
			fmt.Sprintf("%s ~= %s::polygon", name, c.args.Bind(document.PolygonToSQL(coords))))
	case "File":
		c.patterns = append(c.patterns,
			fmt.Sprintf("%s = %s", name, c.args.Bind(v["name"])))
	default:
		return fmt.Errorf("%w: cannot compare against %s value", ErrUnsupportedQuery, typeTag)
	}
	return nil
}

// compileOperators merges, in a fixed order, the independent contributions of
// each operator key in a constraint object.
func (c *whereCompiler) compileOperators(fieldName string, fieldType schema.FieldType, known bool, ops map[string]interface{}) (skipped bool, err error) {
	// Field absence is vacuously satisfied.
	if exists, ok := ops[string(OpExists)].(bool); ok && !exists && !known {
		if len(ops) == 1 {
			return true, nil
		}
	}
	for key := range ops {
		if _, recognized := knownOperators[QueryOperator(key)]; !recognized {
			return false, fmt.Errorf("%w: unknown operator %q on field %q", ErrUnsupportedQuery, key, fieldName)
		}
	}

	name := c.d.Ident(fieldName)
	isArray := known && fieldType.Type == schema.TypeArray

	if ne, ok := ops[string(OpNe)]; ok {
		if err := c.compileNe(fieldName, fieldType, isArray, ne); err != nil {
			return false, err
		}
	}
	if eq, ok := ops[string(OpEq)]; ok {
		if eq == nil {
			c.patterns = append(c.patterns, name+" IS NULL")
		} else {
			c.patterns = append(c.patterns,
				fmt.Sprintf("%s = %s", name, c.args.Bind(document.ToPostgresValue(eq))))
		}
	}

	inList, hasIn := ops[string(OpIn)].([]interface{})
	ninList, hasNin := ops[string(OpNin)].([]interface{})
	if _, present := ops[string(OpIn)]; present && !hasIn {
		return false, fmt.Errorf("%w: $in expects an array", ErrInvalidQuery)
	}
	if _, present := ops[string(OpNin)]; present && !hasNin {
		return false, fmt.Errorf("%w: $nin expects an array", ErrInvalidQuery)
	}
	if hasIn && isArray && c.schema.IsStringArrayField(fieldName) {
		c.compileStringArrayIn(fieldName, inList)
	} else if hasIn {
		c.compileInConstraint(fieldName, isArray, inList, false)
	}
	if hasNin {
		c.compileInConstraint(fieldName, isArray, ninList, true)
	}

	if all, ok := ops[string(OpAll)].([]interface{}); ok {
		if err := c.compileAll(fieldName, isArray, all); err != nil {
			return false, err
		}
	}
	if exists, ok := ops[string(OpExists)].(bool); ok {
		if exists {
			c.patterns = append(c.patterns, name+" IS NOT NULL")
		} else {
			c.patterns = append(c.patterns, name+" IS NULL")
		}
	}
	if contained, ok := ops[string(OpContainedBy)]; ok {
		list, ok := contained.([]interface{})
		if !ok {
			return false, fmt.Errorf("%w: $containedBy expects an array", ErrInvalidQuery)
		}
		encoded, _ := json.Marshal(list)
		c.patterns = append(c.patterns,
			fmt.Sprintf("%s <@ %s::jsonb", name, c.args.Bind(string(encoded))))
	}
	if text, ok := ops[string(OpText)]; ok {
		if err := c.compileText(fieldName, text); err != nil {
			return false, err
		}
	}
	if near, ok := ops[string(OpNearSphere)]; ok {
		if err := c.compileNearSphere(fieldName, near, ops[string(OpMaxDistance)]); err != nil {
			return false, err
		}
	}
	if within, ok := ops[string(OpWithin)].(map[string]interface{}); ok {
		if err := c.compileWithinBox(fieldName, within); err != nil {
			return false, err
		}
	}
	if geoWithin, ok := ops[string(OpGeoWithin)].(map[string]interface{}); ok {
		if err := c.compileGeoWithin(fieldName, geoWithin); err != nil {
			return false, err
		}
	}
	if geoIntersects, ok := ops[string(OpGeoIntersects)].(map[string]interface{}); ok {
		if err := c.compileGeoIntersects(fieldName, geoIntersects); err != nil {
			return false, err
		}
	}
	if raw, ok := ops[string(OpRegex)]; ok {
		pattern, ok := raw.(string)
		if !ok {
			return false, fmt.Errorf("%w: $regex expects a string", ErrInvalidQuery)
		}
		c.compileRegex(name, pattern, stringOr(ops[string(OpOptions)], ""))
	}
	for _, cmp := range comparatorOrder {
		raw, ok := ops[string(cmp)]
		if !ok {
			continue
		}
		c.patterns = append(c.patterns,
			fmt.Sprintf("%s %s %s", name, comparators[cmp],
				c.args.Bind(document.ToPostgresValue(raw))))
	}
	return false, nil
}

func (c *whereCompiler) compileNe(fieldName string, fieldType schema.FieldType, isArray bool, ne interface{}) error {
	name := c.d.Ident(fieldName)
	if isArray {
		encoded, err := json.Marshal([]interface{}{ne})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		c.patterns = append(c.patterns,
			fmt.Sprintf("NOT array_contains(%s, %s::jsonb)", name, c.args.Bind(string(encoded))))
		return nil
	}
	if ne == nil {
		c.patterns = append(c.patterns, name+" IS NOT NULL")
		return nil
	}
	if document.TypeOf(ne) == "GeoPoint" {
		point, err := document.GeoPointFrom(ne)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		c.patterns = append(c.patterns,
			fmt.Sprintf("NOT (%s ~= POINT(%s, %s) AND %s IS NOT NULL)", name,
				c.args.Bind(point.Longitude), c.args.Bind(point.Latitude), name))
		return nil
	}
	// SQL <> is unknown against NULL, not false; a stored NULL still counts
	// as "not equal" in the document model, so it is matched explicitly.
	c.patterns = append(c.patterns,
		fmt.Sprintf("(%s <> %s OR %s IS NULL)",
			name, c.args.Bind(document.ToPostgresValue(ne)), name))
	return nil
}

// compileStringArrayIn uses the native text[] overlap operator for $in on
// string-array columns. NULL entries in the list need their own IS NULL
// branch since && never matches NULL.
func (c *whereCompiler) compileStringArrayIn(fieldName string, list []interface{}) {
	name := c.d.Ident(fieldName)
	strs := make([]string, 0, len(list))
	allowNull := false
	for _, v := range list {
		if v == nil {
			allowNull = true
			continue
		}
		if s, ok := v.(string); ok {
			strs = append(strs, s)
		}
	}
	pattern := fmt.Sprintf("%s && %s", name, c.args.Bind(strs))
	if allowNull {
		pattern = fmt.Sprintf("(%s IS NULL OR %s)", name, pattern)
	}
	c.patterns = append(c.patterns, pattern)
}

func (c *whereCompiler) compileInConstraint(fieldName string, isArray bool, list []interface{}, notIn bool) {
	name := c.d.Ident(fieldName)
	if len(list) == 0 {
		if notIn {
			// An empty $nin excludes nothing.
			c.patterns = append(c.patterns, "1 = 1")
		} else {
			// An empty $in can match no stored value.
			c.patterns = append(c.patterns, name+" IS NULL")
		}
		return
	}
	not := ""
	if notIn {
		not = "NOT "
	}
	if isArray {
		encoded, _ := json.Marshal(list)
		c.patterns = append(c.patterns,
			fmt.Sprintf("%sarray_contains(%s, %s::jsonb)", not, name, c.args.Bind(string(encoded))))
		return
	}
	placeholders := make([]string, 0, len(list))
	allowNull := false
	for _, v := range list {
		if v == nil {
			allowNull = true
			continue
		}
		placeholders = append(placeholders, c.args.Bind(document.ToPostgresValue(v)))
	}
	if len(placeholders) == 0 {
		// Only null in the list.
		if notIn {
			c.patterns = append(c.patterns, name+" IS NOT NULL")
		} else {
			c.patterns = append(c.patterns, name+" IS NULL")
		}
		return
	}
	inClause := fmt.Sprintf("%s %sIN (%s)", name, not, strings.Join(placeholders, ","))
	if allowNull {
		c.patterns = append(c.patterns, fmt.Sprintf("(%s IS NULL OR %s)", name, inClause))
	} else {
		c.patterns = append(c.patterns, inClause)
	}
}

func (c *whereCompiler) compileAll(fieldName string, isArray bool, list []interface{}) error {
	name := c.d.Ident(fieldName)
	if !isArray {
		// Pointer-array style single-element match is the only non-array
		// shape with defined semantics.
		if len(list) == 1 {
			if m, ok := list[0].(map[string]interface{}); ok {
				c.patterns = append(c.patterns,
					fmt.Sprintf("%s = %s", name, c.args.Bind(m["objectId"])))
				return nil
			}
		}
		return fmt.Errorf("%w: $all on non-array field %q", ErrUnsupportedQuery, fieldName)
	}
	if anyValueRegexStartsWith(list) {
		if !allValuesRegexOrNone(list) {
			return fmt.Errorf("%w: all $all values must be of regex type or none", ErrInvalidQuery)
		}
		prefixes := make([]interface{}, 0, len(list))
		for _, v := range list {
			raw, _ := regexValueOf(v)
			processed := ProcessRegexPattern(raw)
			// Drop the ^ anchor and turn the literal into a LIKE prefix.
			prefixes = append(prefixes, strings.TrimPrefix(processed, "^")+"%")
		}
		encoded, _ := json.Marshal(prefixes)
		c.patterns = append(c.patterns,
			fmt.Sprintf("array_contains_all_regex(%s, %s::jsonb)", name, c.args.Bind(string(encoded))))
		return nil
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	c.patterns = append(c.patterns,
		fmt.Sprintf("array_contains_all(%s, %s::jsonb)", name, c.args.Bind(string(encoded))))
	return nil
}

func (c *whereCompiler) compileText(fieldName string, text interface{}) error {
	spec, ok := text.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: bad $text: $search, should be object", ErrInvalidQuery)
	}
	search, ok := spec["$search"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: bad $text: $search, should be object", ErrInvalidQuery)
	}
	term, ok := search["$term"].(string)
	if !ok || term == "" {
		return fmt.Errorf("%w: bad $text: $term, should be string", ErrInvalidQuery)
	}
	language := "english"
	if lang, present := search["$language"]; present {
		language, ok = lang.(string)
		if !ok {
			return fmt.Errorf("%w: bad $text: $language, should be string", ErrInvalidQuery)
		}
	}
	if cs, present := search["$caseSensitive"]; present {
		if b, ok := cs.(bool); !ok || b {
			return fmt.Errorf("%w: bad $text: $caseSensitive not supported, please use $regex or create a separate lower case column", ErrInvalidQuery)
		}
	}
	if ds, present := search["$diacriticSensitive"]; present {
		if b, ok := ds.(bool); !ok || !b {
			return fmt.Errorf("%w: bad $text: $diacriticSensitive - false not supported, install Postgres Unaccent Extension", ErrInvalidQuery)
		}
	}
	c.patterns = append(c.patterns,
		fmt.Sprintf("to_tsvector(%s, %s) @@ to_tsquery(%s, %s)",
			c.args.Bind(language), c.d.Ident(fieldName), c.args.Bind(language), c.args.Bind(term)))
	return nil
}

func (c *whereCompiler) compileNearSphere(fieldName string, near, maxDistance interface{}) error {
	point, err := document.GeoPointFrom(near)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	name := c.d.Ident(fieldName)
	distanceExpr := fmt.Sprintf("ST_DistanceSphere(%s::geometry, POINT(%s, %s)::geometry)",
		name, c.args.Bind(point.Longitude), c.args.Bind(point.Latitude))
	if maxDistance != nil {
		radians, ok := numberOf(maxDistance)
		if !ok {
			return fmt.Errorf("%w: bad $maxDistance", ErrInvalidQuery)
		}
		// $maxDistance arrives in radians on the unit sphere; the predicate
		// compares meters.
		meters := radians * 6371 * 1000
		c.patterns = append(c.patterns,
			fmt.Sprintf("%s <= %s", distanceExpr, c.args.Bind(meters)))
	}
	c.sorts = append(c.sorts, distanceExpr+" ASC")
	if maxDistance == nil {
		// Sort-only constraints still have to count as compiled.
		c.patterns = append(c.patterns, "1 = 1")
	}
	return nil
}

func (c *whereCompiler) compileWithinBox(fieldName string, within map[string]interface{}) error {
	box, ok := within["$box"].([]interface{})
	if !ok || len(box) != 2 {
		return fmt.Errorf("%w: malformed $within['$box'] argument", ErrInvalidQuery)
	}
	bottomLeft, err := document.GeoPointFrom(box[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	upperRight, err := document.GeoPointFrom(box[1])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	literal := fmt.Sprintf("((%s, %s), (%s, %s))",
		formatFloat(bottomLeft.Longitude), formatFloat(bottomLeft.Latitude),
		formatFloat(upperRight.Longitude), formatFloat(upperRight.Latitude))
	c.patterns = append(c.patterns,
		fmt.Sprintf("%s::point <@ %s::box", c.d.Ident(fieldName), c.args.Bind(literal)))
	return nil
}

func (c *whereCompiler) compileGeoWithin(fieldName string, geoWithin map[string]interface{}) error {
	name := c.d.Ident(fieldName)
	if centerSphere, ok := geoWithin["$centerSphere"].([]interface{}); ok {
		if len(centerSphere) != 2 {
			return fmt.Errorf("%w: bad $geoWithin value; $centerSphere should be an array of GeoPoint and distance", ErrInvalidQuery)
		}
		var center document.GeoPoint
		switch p := centerSphere[0].(type) {
		case []interface{}:
			if len(p) != 2 {
				return fmt.Errorf("%w: bad $geoWithin value; $centerSphere geo point invalid", ErrInvalidQuery)
			}
			center = document.GeoPoint{}
			lon, okLon := numberOf(p[0])
			lat, okLat := numberOf(p[1])
			if !okLon || !okLat {
				return fmt.Errorf("%w: bad $geoWithin value; $centerSphere geo point invalid", ErrInvalidQuery)
			}
			center.Longitude, center.Latitude = lon, lat
		default:
			var err error
			center, err = document.GeoPointFrom(p)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
			}
		}
		radians, ok := numberOf(centerSphere[1])
		if !ok {
			return fmt.Errorf("%w: bad $geoWithin value; $centerSphere distance invalid", ErrInvalidQuery)
		}
		meters := radians * 6371 * 1000
		c.patterns = append(c.patterns,
			fmt.Sprintf("ST_DistanceSphere(%s::geometry, POINT(%s, %s)::geometry) <= %s",
				name, c.args.Bind(center.Longitude), c.args.Bind(center.Latitude), c.args.Bind(meters)))
		return nil
	}
	polygon, present := geoWithin["$polygon"]
	if !present {
		return fmt.Errorf("%w: bad $geoWithin value; supported shapes are $polygon and $centerSphere", ErrUnsupportedQuery)
	}
	coords, err := c.polygonVertices(polygon)
	if err != nil {
		return err
	}
	c.patterns = append(c.patterns,
		fmt.Sprintf("%s::point <@ %s::polygon", name, c.args.Bind(document.PolygonToSQL(coords))))
	return nil
}

// polygonVertices accepts either a Polygon wrapper or an array of GeoPoint
// wrappers, always returning [lat, lon] pairs.
func (c *whereCompiler) polygonVertices(polygon interface{}) ([][2]float64, error) {
	if document.TypeOf(polygon) == "Polygon" {
		coords, err := document.PolygonCoordinates(polygon)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		return coords, nil
	}
	points, ok := polygon.([]interface{})
	if !ok || len(points) < 3 {
		return nil, fmt.Errorf("%w: bad $geoWithin value; $polygon should contain at least 3 GeoPoints", ErrInvalidQuery)
	}
	coords := make([][2]float64, 0, len(points))
	for _, p := range points {
		point, err := document.GeoPointFrom(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		coords = append(coords, [2]float64{point.Latitude, point.Longitude})
	}
	return coords, nil
}

func (c *whereCompiler) compileGeoIntersects(fieldName string, geoIntersects map[string]interface{}) error {
	point, present := geoIntersects["$point"]
	if !present {
		return fmt.Errorf("%w: bad $geoIntersects value; only $point is supported", ErrUnsupportedQuery)
	}
	geoPoint, err := document.GeoPointFrom(point)
	if err != nil {
		return fmt.Errorf("%w: bad $geoIntersects value; %v", ErrInvalidQuery, err)
	}
	literal := fmt.Sprintf("(%s, %s)", formatFloat(geoPoint.Longitude), formatFloat(geoPoint.Latitude))
	c.patterns = append(c.patterns,
		fmt.Sprintf("%s::polygon @> %s::point", c.d.Ident(fieldName), c.args.Bind(literal)))
	return nil
}

// compileRegex appends a POSIX regex predicate. lhs is an already-rendered
// identifier or JSON path expression; the pattern itself always binds as a
// value.
func (c *whereCompiler) compileRegex(lhs, pattern, options string) {
	operator := "~"
	if strings.Contains(options, "i") {
		operator = "~*"
	}
	if strings.Contains(options, "x") {
		pattern = RemoveWhiteSpace(pattern)
	}
	pattern = ProcessRegexPattern(pattern)
	c.patterns = append(c.patterns,
		fmt.Sprintf("%s %s %s", lhs, operator, c.args.Bind(pattern)))
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fallback
}

func numberOf(v interface{}) (float64, bool) {
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
	default:
		return 0, false
	}
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%v", f)
}
