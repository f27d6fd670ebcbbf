package sqlgen

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/objectstack/pgadapter/document"
	"github.com/objectstack/pgadapter/schema"
)

var authDataField = regexp.MustCompile(`^_auth_data_([a-zA-Z0-9_]+)$`)

// CompileUpdate compiles a document update into the SET clauses of an UPDATE
// statement (no WHERE; the caller owns that). Dotted keys are expanded into
// nested object merges first, and _auth_data_<provider> pseudo-fields are
// collapsed into a single authData JSON write regardless of how many
// providers changed.
func CompileUpdate(d Dialect, s *schema.Schema, update map[string]interface{}, args *Args) (Fragment, error) {
	original := update
	expanded := document.ExpandDotFields(update)

	// A top-level key that arrived dotted is merged into the stored object;
	// one that arrived whole replaces it. When both forms name the same
	// field in one update, the whole key wins and the field is replaced.
	dotNotation := map[string]bool{}
	for fieldName := range original {
		if i := strings.Index(fieldName, "."); i >= 0 {
			base := fieldName[:i]
			if _, seen := dotNotation[base]; !seen {
				dotNotation[base] = true
			}
		} else {
			dotNotation[fieldName] = false
		}
	}

	// Collapse auth provider pseudo-fields.
	work := make(map[string]interface{}, len(expanded))
	for k, v := range expanded {
		work[k] = v
	}
	for fieldName, value := range expanded {
		m := authDataField.FindStringSubmatch(fieldName)
		if m == nil {
			continue
		}
		delete(work, fieldName)
		authData, _ := work["authData"].(map[string]interface{})
		if authData == nil {
			authData = map[string]interface{}{}
		}
		authData[m[1]] = value
		work["authData"] = authData
	}

	c := &updateCompiler{d: d, schema: s, args: args, original: original, dotNotation: dotNotation}
	fieldNames := make([]string, 0, len(work))
	for name := range work {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)
	for _, fieldName := range fieldNames {
		if err := c.compileField(fieldName, work[fieldName]); err != nil {
			return Fragment{}, err
		}
	}
	return Fragment{
		Pattern: strings.Join(c.clauses, ", "),
		Values:  args.Values(),
	}, nil
}

type updateCompiler struct {
	d           Dialect
	schema      *schema.Schema
	args        *Args
	original    map[string]interface{}
	dotNotation map[string]bool
	clauses     []string
}

func (c *updateCompiler) compileField(fieldName string, fieldValue interface{}) error {
	name := c.d.Ident(fieldName)
	fieldType, known := c.schema.Field(fieldName)

	switch v := fieldValue.(type) {
	case nil:
		c.clauses = append(c.clauses, name+" = NULL")
		return nil
	case string, bool, float64, float32, int, int32, int64:
		c.clauses = append(c.clauses, fmt.Sprintf("%s = %s", name, c.args.Bind(v)))
		return nil
	case []interface{}:
		return c.compileArray(fieldName, fieldType, known, v)
	case map[string]interface{}:
		if fieldName == "authData" {
			return c.compileAuthData(name, v)
		}
		switch document.OpOf(v) {
		case "Increment":
			amount, ok := numberOf(v["amount"])
			if !ok {
				return fmt.Errorf("%w: Increment amount must be a number", ErrUnsupportedUpdate)
			}
			c.clauses = append(c.clauses,
				fmt.Sprintf("%s = COALESCE(%s, 0) + %s", name, name, c.args.Bind(amount)))
			return nil
		case "Add":
			return c.compileArrayOp(name, "array_add", v["objects"])
		case "AddUnique":
			return c.compileArrayOp(name, "array_add_unique", v["objects"])
		case "Remove":
			return c.compileArrayOp(name, "array_remove", v["objects"])
		case "Delete":
			c.clauses = append(c.clauses, fmt.Sprintf("%s = %s", name, c.args.Bind(nil)))
			return nil
		}
		switch document.TypeOf(v) {
		case "Pointer":
			c.clauses = append(c.clauses, fmt.Sprintf("%s = %s", name, c.args.Bind(v["objectId"])))
			return nil
		case "Date", "File":
			c.clauses = append(c.clauses,
				fmt.Sprintf("%s = %s", name, c.args.Bind(document.ToPostgresValue(v))))
			return nil
		case "GeoPoint":
			point, err := document.GeoPointFrom(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUnsupportedUpdate, err)
			}
			c.clauses = append(c.clauses,
				fmt.Sprintf("%s = POINT(%s, %s)", name,
					c.args.Bind(point.Longitude), c.args.Bind(point.Latitude)))
			return nil
		case "Polygon":
			coords, err := document.PolygonCoordinates(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUnsupportedUpdate, err)
			}
			c.clauses = append(c.clauses,
				fmt.Sprintf("%s = %s::polygon", name, c.args.Bind(document.PolygonToSQL(coords))))
			return nil
		case "Relation":
			// Relation membership is join-table maintenance, not a column
			// write.
			return nil
		case "Bytes":
			encoded, _ := json.Marshal(v)
			c.clauses = append(c.clauses,
				fmt.Sprintf("%s = %s::jsonb", name, c.args.Bind(string(encoded))))
			return nil
		}
		if known && fieldType.Type == schema.TypeObject {
			return c.compileObjectMerge(fieldName, v)
		}
		return fmt.Errorf("%w: cannot update field %q with %v", ErrUnsupportedUpdate, fieldName, fieldValue)
	default:
		return fmt.Errorf("%w: cannot update field %q with %v", ErrUnsupportedUpdate, fieldName, fieldValue)
	}
}

func (c *updateCompiler) compileArrayOp(name, fn string, objects interface{}) error {
	list, ok := objects.([]interface{})
	if !ok {
		return fmt.Errorf("%w: %s expects an objects array", ErrUnsupportedUpdate, fn)
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedUpdate, err)
	}
	c.clauses = append(c.clauses,
		fmt.Sprintf("%s = %s(COALESCE(%s, '[]'::jsonb), %s::jsonb)",
			name, fn, name, c.args.Bind(string(encoded))))
	return nil
}

// compileAuthData folds every changed provider into one JSON column write by
// chaining json_object_set_key calls; a provider whose value is a Delete op
// is set to JSON null.
func (c *updateCompiler) compileAuthData(name string, providers map[string]interface{}) error {
	expr := name
	keys := make([]string, 0, len(providers))
	for k := range providers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, provider := range keys {
		value := providers[provider]
		// Deleted providers are set to JSON null, not SQL NULL, so the
		// chained strict function keeps evaluating.
		bound := "null"
		if value != nil && document.OpOf(value) != "Delete" {
			encoded, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUnsupportedUpdate, err)
			}
			bound = string(encoded)
		}
		expr = fmt.Sprintf("json_object_set_key(COALESCE(%s, '{}'::jsonb), %s::text, %s::jsonb)::jsonb",
			expr, c.args.Bind(provider), c.args.Bind(bound))
	}
	c.clauses = append(c.clauses, fmt.Sprintf("%s = %s", name, expr))
	return nil
}

// compileObjectMerge writes an Object-typed field, folding in any sibling
// dotted Increment and Delete operators from the original update so the
// whole change is one JSON expression.
func (c *updateCompiler) compileObjectMerge(fieldName string, value map[string]interface{}) error {
	name := c.d.Ident(fieldName)

	var keysToIncrement, keysToDelete []string
	for key, raw := range c.original {
		components := strings.Split(key, ".")
		if len(components) != 2 || components[0] != fieldName {
			continue
		}
		switch document.OpOf(raw) {
		case "Increment":
			keysToIncrement = append(keysToIncrement, components[1])
		case "Delete":
			keysToDelete = append(keysToDelete, components[1])
		}
	}
	sort.Strings(keysToIncrement)
	sort.Strings(keysToDelete)

	var b strings.Builder
	if c.dotNotation[fieldName] {
		// The object itself is being merged into, not replaced.
		fmt.Fprintf(&b, "COALESCE(%s, '{}'::jsonb)", name)
	} else {
		b.WriteString("'{}'::jsonb")
	}

	remaining := make(map[string]interface{}, len(value))
	for k, v := range value {
		remaining[k] = v
	}
	for _, key := range keysToIncrement {
		op, _ := value[key].(map[string]interface{})
		amount, ok := numberOf(op["amount"])
		if !ok {
			return fmt.Errorf("%w: Increment amount must be a number", ErrUnsupportedUpdate)
		}
		jsonKey, _ := json.Marshal(key)
		// Builds e.g. {"score": <old + delta>} and merges it over the rest.
		fmt.Fprintf(&b, " || CONCAT(%s, COALESCE(%s->>%s, '0')::numeric + %s, '}')::jsonb",
			c.d.Literal("{"+string(jsonKey)+":"), name, c.d.Literal(key), c.args.Bind(amount))
		delete(remaining, key)
	}
	for _, key := range keysToDelete {
		fmt.Fprintf(&b, " - %s::text", c.args.Bind(key))
		delete(remaining, key)
	}

	encoded, err := json.Marshal(remaining)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedUpdate, err)
	}
	fmt.Fprintf(&b, " || %s::jsonb", c.args.Bind(string(encoded)))

	c.clauses = append(c.clauses, fmt.Sprintf("%s = (%s)", name, b.String()))
	return nil
}

func (c *updateCompiler) compileArray(fieldName string, fieldType schema.FieldType, known bool, list []interface{}) error {
	name := c.d.Ident(fieldName)
	if known && fieldType.Type == schema.TypeArray && c.schema.IsStringArrayField(fieldName) {
		strs := make([]string, 0, len(list))
		for _, v := range list {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("%w: field %q holds a string array", ErrUnsupportedUpdate, fieldName)
			}
			strs = append(strs, s)
		}
		c.clauses = append(c.clauses, fmt.Sprintf("%s = %s::text[]", name, c.args.Bind(strs)))
		return nil
	}
	if known && fieldType.Type == schema.TypeArray {
		encoded, err := json.Marshal(list)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedUpdate, err)
		}
		c.clauses = append(c.clauses, fmt.Sprintf("%s = %s::jsonb", name, c.args.Bind(string(encoded))))
		return nil
	}
	return fmt.Errorf("%w: cannot update field %q with an array", ErrUnsupportedUpdate, fieldName)
}
