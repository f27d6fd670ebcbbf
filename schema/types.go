package schema

// Field type names as they appear in schema documents.
const (
	TypeString   = "String"
	TypeNumber   = "Number"
	TypeBoolean  = "Boolean"
	TypeDate     = "Date"
	TypeObject   = "Object"
	TypeArray    = "Array"
	TypeBytes    = "Bytes"
	TypeFile     = "File"
	TypeGeoPoint = "GeoPoint"
	TypePolygon  = "Polygon"
	TypePointer  = "Pointer"
	TypeRelation = "Relation"
)

// FieldType is the tagged union describing a single schema field.
// TargetClass is set for Pointer and Relation fields, Contents for Array
// fields that declare an element type.
type FieldType struct {
	Type        string     `json:"type"`
	TargetClass string     `json:"targetClass,omitempty"`
	Contents    *FieldType `json:"contents,omitempty"`
}

// Permissions holds class-level permissions: one entry per operation
// (find, get, create, update, delete, addField) mapping role/user keys to
// grants. The adapter stores them verbatim; enforcement happens upstream.
type Permissions map[string]map[string]interface{}

// Indexes maps an index name to the set of fields it covers.
type Indexes map[string]map[string]interface{}

// Schema describes one class.
type Schema struct {
	ClassName             string               `json:"className"`
	Fields                map[string]FieldType `json:"fields"`
	ClassLevelPermissions Permissions          `json:"classLevelPermissions,omitempty"`
	Indexes               Indexes              `json:"indexes,omitempty"`
}

// Field returns the declared type for a field name, looking only at the
// first path component for dotted names.
func (s *Schema) Field(name string) (FieldType, bool) {
	if s == nil || s.Fields == nil {
		return FieldType{}, false
	}
	t, ok := s.Fields[name]
	return t, ok
}

// IsArrayField reports whether the named field is declared as an Array.
func (s *Schema) IsArrayField(name string) bool {
	t, ok := s.Field(name)
	return ok && t.Type == TypeArray
}

// IsStringArrayField reports whether the named field is an Array whose
// declared element type is String. Such fields are stored as native text[]
// columns instead of jsonb.
func (s *Schema) IsStringArrayField(name string) bool {
	t, ok := s.Field(name)
	return ok && t.Type == TypeArray && t.Contents != nil && t.Contents.Type == TypeString
}

// WithSystemFields returns a copy of the schema extended with the implicit
// permission arrays every class carries, and with the auth and lockout
// bookkeeping fields of the _User class. The receiver is not modified.
func (s *Schema) WithSystemFields() *Schema {
	out := &Schema{
		ClassName:             s.ClassName,
		Fields:                make(map[string]FieldType, len(s.Fields)+8),
		ClassLevelPermissions: s.ClassLevelPermissions,
		Indexes:               s.Indexes,
	}
	for name, t := range s.Fields {
		if name == "_rperm" || name == "_wperm" {
			t.Contents = &FieldType{Type: TypeString}
		}
		out.Fields[name] = t
	}
	out.Fields["_wperm"] = FieldType{Type: TypeArray, Contents: &FieldType{Type: TypeString}}
	out.Fields["_rperm"] = FieldType{Type: TypeArray, Contents: &FieldType{Type: TypeString}}
	if s.ClassName == "_User" {
		out.Fields["_hashed_password"] = FieldType{Type: TypeString}
		out.Fields["_password_history"] = FieldType{Type: TypeArray}
	}
	return out
}

// UserBookkeepingFields are the extra columns created on the _User table for
// email verification, password rotation and account lockout tracking.
func UserBookkeepingFields() map[string]FieldType {
	return map[string]FieldType{
		"_email_verify_token_expires_at": {Type: TypeDate},
		"_email_verify_token":            {Type: TypeString},
		"_account_lockout_expires_at":    {Type: TypeDate},
		"_failed_login_count":            {Type: TypeNumber},
		"_perishable_token":              {Type: TypeString},
		"_perishable_token_expires_at":   {Type: TypeDate},
		"_password_changed_at":           {Type: TypeDate},
		"_password_history":              {Type: TypeArray},
	}
}
