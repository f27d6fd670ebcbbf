package sqlgen

import (
	"errors"
	"strings"
	"testing"
)

func compileUpdate(t *testing.T, update map[string]interface{}) Fragment {
	t.Helper()
	frag, err := CompileUpdate(Dialect{}, playerSchema(), update, NewArgs(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return frag
}

func TestCompileUpdate_ScalarSet(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{"name": "eva"})
	if frag.Pattern != `"name" = $1` {
		t.Errorf("unexpected pattern: %q", frag.Pattern)
	}
	if frag.Values[0] != "eva" {
		t.Errorf("unexpected values: %v", frag.Values)
	}
}

func TestCompileUpdate_NilClearsColumn(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{"name": nil})
	if frag.Pattern != `"name" = NULL` {
		t.Errorf("unexpected pattern: %q", frag.Pattern)
	}
	if len(frag.Values) != 0 {
		t.Errorf("expected no values, got %v", frag.Values)
	}
}

func TestCompileUpdate_IncrementCoalescesMissingValue(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"score": map[string]interface{}{"__op": "Increment", "amount": float64(3)},
	})
	if frag.Pattern != `"score" = COALESCE("score", 0) + $1` {
		t.Errorf("unexpected pattern: %q", frag.Pattern)
	}
	if frag.Values[0] != float64(3) {
		t.Errorf("unexpected values: %v", frag.Values)
	}
}

func TestCompileUpdate_AddUsesHelperFunction(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"tags": map[string]interface{}{"__op": "Add", "objects": []interface{}{"red"}},
	})
	if frag.Pattern != `"tags" = array_add(COALESCE("tags", '[]'::jsonb), $1::jsonb)` {
		t.Errorf("unexpected pattern: %q", frag.Pattern)
	}
	if frag.Values[0] != `["red"]` {
		t.Errorf("unexpected values: %v", frag.Values)
	}
}

func TestCompileUpdate_AddUniqueAndRemove(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"tags": map[string]interface{}{"__op": "AddUnique", "objects": []interface{}{"a"}},
	})
	if !strings.Contains(frag.Pattern, "array_add_unique(") {
		t.Errorf("unexpected pattern: %q", frag.Pattern)
	}

	frag = compileUpdate(t, map[string]interface{}{
		"tags": map[string]interface{}{"__op": "Remove", "objects": []interface{}{"a"}},
	})
	if !strings.Contains(frag.Pattern, "array_remove(") {
		t.Errorf("unexpected pattern: %q", frag.Pattern)
	}
}

func TestCompileUpdate_DeleteBindsNull(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"name": map[string]interface{}{"__op": "Delete"},
	})
	if frag.Pattern != `"name" = $1` {
		t.Errorf("unexpected pattern: %q", frag.Pattern)
	}
	if frag.Values[0] != nil {
		t.Errorf("expected nil bind, got %v", frag.Values[0])
	}
}

func TestCompileUpdate_PointerBindsObjectID(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"owner": map[string]interface{}{"__type": "Pointer", "className": "_User", "objectId": "u9"},
	})
	if frag.Pattern != `"owner" = $1` {
		t.Errorf("unexpected pattern: %q", frag.Pattern)
	}
	if frag.Values[0] != "u9" {
		t.Errorf("unexpected values: %v", frag.Values)
	}
}

func TestCompileUpdate_DateBindsISOString(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"name": map[string]interface{}{"__type": "Date", "iso": "2024-06-01T12:00:00.000Z"},
	})
	if frag.Values[0] != "2024-06-01T12:00:00.000Z" {
		t.Errorf("unexpected values: %v", frag.Values)
	}
}

func TestCompileUpdate_GeoPointSwapsToLonLat(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"home": map[string]interface{}{"__type": "GeoPoint", "latitude": 40.0, "longitude": -30.0},
	})
	if frag.Pattern != `"home" = POINT($1, $2)` {
		t.Errorf("unexpected pattern: %q", frag.Pattern)
	}
	// Longitude is x, latitude is y.
	if frag.Values[0] != -30.0 || frag.Values[1] != 40.0 {
		t.Errorf("unexpected values: %v", frag.Values)
	}
}

func TestCompileUpdate_StringArrayUsesTextArray(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"labels": []interface{}{"a", "b"},
	})
	if frag.Pattern != `"labels" = $1::text[]` {
		t.Errorf("unexpected pattern: %q", frag.Pattern)
	}
	strs, ok := frag.Values[0].([]string)
	if !ok || len(strs) != 2 {
		t.Errorf("expected []string, got %v", frag.Values[0])
	}
}

func TestCompileUpdate_JSONArrayUsesJsonb(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"tags": []interface{}{"a", float64(2)},
	})
	if frag.Pattern != `"tags" = $1::jsonb` {
		t.Errorf("unexpected pattern: %q", frag.Pattern)
	}
	if frag.Values[0] != `["a",2]` {
		t.Errorf("unexpected values: %v", frag.Values)
	}
}

func TestCompileUpdate_AuthDataProvidersCollapse(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"_auth_data_github": map[string]interface{}{"id": "g1"},
		"_auth_data_google": map[string]interface{}{"id": "x2"},
	})
	// One clause, two chained json_object_set_key calls.
	if strings.Count(frag.Pattern, "json_object_set_key(") != 2 {
		t.Errorf("expected chained provider writes, got %q", frag.Pattern)
	}
	if strings.Count(frag.Pattern, `"authData" =`) != 1 {
		t.Errorf("expected a single authData clause, got %q", frag.Pattern)
	}
}

func TestCompileUpdate_AuthDataDeleteWritesJSONNull(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"_auth_data_github": map[string]interface{}{"__op": "Delete"},
	})
	if len(frag.Values) != 2 {
		t.Fatalf("expected provider and value binds, got %v", frag.Values)
	}
	if frag.Values[1] != "null" {
		t.Errorf("expected JSON null, got %v", frag.Values[1])
	}
}

func TestCompileUpdate_DottedKeysMergeIntoObject(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"profile.city": "Berlin",
	})
	if !strings.HasPrefix(frag.Pattern, `"profile" = (COALESCE("profile", '{}'::jsonb)`) {
		t.Errorf("expected merge into existing object, got %q", frag.Pattern)
	}
	if frag.Values[len(frag.Values)-1] != `{"city":"Berlin"}` {
		t.Errorf("unexpected merge payload: %v", frag.Values)
	}
}

func TestCompileUpdate_WholeObjectReplaces(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"profile": map[string]interface{}{"city": "Berlin"},
	})
	if !strings.HasPrefix(frag.Pattern, `"profile" = ('{}'::jsonb`) {
		t.Errorf("expected replacement from empty object, got %q", frag.Pattern)
	}
}

func TestCompileUpdate_WholeKeyWinsOverDottedSibling(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"profile":      map[string]interface{}{"city": "Berlin"},
		"profile.lang": "de",
	})
	// Replacement, not a merge into the stored value.
	if !strings.HasPrefix(frag.Pattern, `"profile" = ('{}'::jsonb`) {
		t.Errorf("expected replacement from empty object, got %q", frag.Pattern)
	}
	if strings.Contains(frag.Pattern, "COALESCE") {
		t.Errorf("stored object must not survive a whole-key write, got %q", frag.Pattern)
	}
	last, _ := frag.Values[len(frag.Values)-1].(string)
	if !strings.Contains(last, `"city":"Berlin"`) || !strings.Contains(last, `"lang":"de"`) {
		t.Errorf("unexpected merge payload: %v", last)
	}
}

func TestCompileUpdate_DottedIncrementAndDeleteFold(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"profile.visits": map[string]interface{}{"__op": "Increment", "amount": float64(1)},
		"profile.old":    map[string]interface{}{"__op": "Delete"},
		"profile.city":   "Berlin",
	})
	if strings.Count(frag.Pattern, `"profile" = `) != 1 {
		t.Fatalf("expected one clause for the object, got %q", frag.Pattern)
	}
	if !strings.Contains(frag.Pattern, `::numeric + `) {
		t.Errorf("expected folded increment, got %q", frag.Pattern)
	}
	if !strings.Contains(frag.Pattern, ` - $`) {
		t.Errorf("expected folded delete, got %q", frag.Pattern)
	}
	// The remaining merge payload carries only the plain assignment.
	last := frag.Values[len(frag.Values)-1]
	if last != `{"city":"Berlin"}` {
		t.Errorf("unexpected merge payload: %v", last)
	}
}

func TestCompileUpdate_ArrayOnNonArrayFieldIsRejected(t *testing.T) {
	_, err := CompileUpdate(Dialect{}, playerSchema(), map[string]interface{}{
		"name": []interface{}{"a"},
	}, NewArgs(1))
	if !errors.Is(err, ErrUnsupportedUpdate) {
		t.Errorf("expected ErrUnsupportedUpdate, got %v", err)
	}
}

func TestCompileUpdate_UnknownShapeIsRejected(t *testing.T) {
	_, err := CompileUpdate(Dialect{}, playerSchema(), map[string]interface{}{
		"name": map[string]interface{}{"nested": "object"},
	}, NewArgs(1))
	if !errors.Is(err, ErrUnsupportedUpdate) {
		t.Errorf("expected ErrUnsupportedUpdate, got %v", err)
	}
}

func TestCompileUpdate_MultipleClausesJoinWithComma(t *testing.T) {
	frag := compileUpdate(t, map[string]interface{}{
		"name":  "eva",
		"score": float64(1),
	})
	if frag.Pattern != `"name" = $1, "score" = $2` {
		t.Errorf("unexpected pattern: %q", frag.Pattern)
	}
}
