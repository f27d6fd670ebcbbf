package schema

import (
	"errors"
	"testing"
)

func TestPostgresType(t *testing.T) {
	cases := []struct {
		name string
		in   FieldType
		want string
	}{
		{"string", FieldType{Type: TypeString}, "text"},
		{"date", FieldType{Type: TypeDate}, "timestamp with time zone"},
		{"object", FieldType{Type: TypeObject}, "jsonb"},
		{"file", FieldType{Type: TypeFile}, "text"},
		{"boolean", FieldType{Type: TypeBoolean}, "boolean"},
		{"pointer", FieldType{Type: TypePointer, TargetClass: "_User"}, "char(10)"},
		{"number", FieldType{Type: TypeNumber}, "double precision"},
		{"geopoint", FieldType{Type: TypeGeoPoint}, "point"},
		{"bytes", FieldType{Type: TypeBytes}, "jsonb"},
		{"polygon", FieldType{Type: TypePolygon}, "polygon"},
		{"json array", FieldType{Type: TypeArray}, "jsonb"},
		{"string array", FieldType{Type: TypeArray, Contents: &FieldType{Type: TypeString}}, "text[]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PostgresType(tc.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPostgresType_UnknownTypeFails(t *testing.T) {
	_, err := PostgresType(FieldType{Type: "Telepathy"})
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestWithSystemFields_AddsPermissionArrays(t *testing.T) {
	s := &Schema{ClassName: "Game", Fields: map[string]FieldType{
		"name": {Type: TypeString},
	}}
	full := s.WithSystemFields()
	for _, field := range []string{"_rperm", "_wperm"} {
		ft, ok := full.Fields[field]
		if !ok {
			t.Fatalf("missing %s", field)
		}
		if ft.Type != TypeArray || ft.Contents == nil || ft.Contents.Type != TypeString {
			t.Errorf("%s should be a string array, got %+v", field, ft)
		}
	}
	if _, ok := s.Fields["_rperm"]; ok {
		t.Error("receiver must not be modified")
	}
}

func TestWithSystemFields_UserBookkeeping(t *testing.T) {
	s := &Schema{ClassName: "_User", Fields: map[string]FieldType{}}
	full := s.WithSystemFields()
	if _, ok := full.Fields["_hashed_password"]; !ok {
		t.Error("_User should carry _hashed_password")
	}
	if _, ok := full.Fields["_password_history"]; !ok {
		t.Error("_User should carry _password_history")
	}
}

func TestIsStringArrayField(t *testing.T) {
	s := &Schema{Fields: map[string]FieldType{
		"labels": {Type: TypeArray, Contents: &FieldType{Type: TypeString}},
		"tags":   {Type: TypeArray},
	}}
	if !s.IsStringArrayField("labels") {
		t.Error("labels should be a string array")
	}
	if s.IsStringArrayField("tags") {
		t.Error("tags has no declared element type")
	}
	if s.IsStringArrayField("missing") {
		t.Error("unknown fields are not arrays")
	}
}
