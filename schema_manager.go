package pgadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/objectstack/pgadapter/schema"
)

// schemaTable is the metadata table holding one row per class. Its layout
// is shared with sibling adapters so the same database can be read by
// either.
const schemaTable = `"_SCHEMA"`

// PerformInitialization prepares a database for the adapter: it creates the
// metadata table and installs the helper SQL functions the compilers
// reference. Safe to call repeatedly.
func (a *Adapter) PerformInitialization(ctx context.Context) error {
	if err := a.ensureSchemaTable(ctx); err != nil {
		return err
	}
	for _, fn := range helperFunctions {
		if _, err := a.db.Exec(ctx, fn); err != nil {
			return translateError(err)
		}
	}
	a.logger.Debug("database initialized")
	return nil
}

// ensureSchemaTable creates the metadata table if missing. Concurrent
// creation races surface as duplicate-table or unique violations, both of
// which mean another caller won and are swallowed.
func (a *Adapter) ensureSchemaTable(ctx context.Context) error {
	_, err := a.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+schemaTable+` (
  "className" varchar(120),
  "schema" jsonb,
  "isParseClass" bool,
  PRIMARY KEY ("className")
)`)
	if err != nil && !sqlstateIs(err, sqlstateDuplicateTable) && !sqlstateIs(err, sqlstateUniqueViolation) {
		return translateError(err)
	}
	return nil
}

// ClassExists reports whether the class's table exists.
func (a *Adapter) ClassExists(ctx context.Context, className string) (bool, error) {
	var exists bool
	err := a.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
		a.tableName(className)).Scan(&exists)
	if err != nil {
		return false, translateError(err)
	}
	return exists, nil
}

// CreateClass creates the class's table and records its schema in the
// metadata table, atomically. A class that already exists fails with
// ErrDuplicateClass.
func (a *Adapter) CreateClass(ctx context.Context, s *schema.Schema) (*schema.Schema, error) {
	ctx, span := a.startSpan(ctx, "CreateClass", s.ClassName)
	defer span.End()

	err := a.Transaction(ctx, func(tx *Adapter) error {
		if err := tx.createTable(ctx, s); err != nil {
			return err
		}
		encoded, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to encode schema: %w", err)
		}
		_, err = tx.db.Exec(ctx,
			`INSERT INTO `+schemaTable+` ("className", "schema", "isParseClass") VALUES ($1, $2, true)`,
			s.ClassName, string(encoded))
		if sqlstateIs(err, sqlstateUniqueViolation) {
			return fmt.Errorf("%w: %s", ErrDuplicateClass, s.ClassName)
		}
		return translateError(err)
	})
	if err != nil {
		return nil, err
	}
	a.logger.Debug("class created", zap.String("class", s.ClassName))
	return s, nil
}

// createTable issues the CREATE TABLE for a class. Relation fields have no
// column; each gets a join table instead. The statement is idempotent and a
// concurrent creation race is swallowed, so callers can retry writes
// against freshly created classes.
func (a *Adapter) createTable(ctx context.Context, s *schema.Schema) error {
	full := s.WithSystemFields()
	fields := full.Fields
	if s.ClassName == "_User" {
		for name, t := range schema.UserBookkeepingFields() {
			fields[name] = t
		}
	}

	var relations []string
	columns := []string{`"objectId" varchar(120) PRIMARY KEY`}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := fields[name]
		if t.Type == schema.TypeRelation {
			relations = append(relations, name)
			continue
		}
		if name == "objectId" {
			continue
		}
		pgType, err := schema.PostgresType(t)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		columns = append(columns, a.dialect.Ident(name)+" "+pgType)
	}

	stmt := `CREATE TABLE IF NOT EXISTS ` + a.table(s.ClassName) + ` (` + strings.Join(columns, ", ") + `)`
	if _, err := a.db.Exec(ctx, stmt); err != nil && !sqlstateIs(err, sqlstateDuplicateTable) {
		return translateError(err)
	}

	for _, field := range relations {
		if err := a.createJoinTable(ctx, s.ClassName, field); err != nil {
			return err
		}
	}
	return nil
}

// createJoinTable creates the two-column table backing one Relation field.
func (a *Adapter) createJoinTable(ctx context.Context, className, fieldName string) error {
	stmt := `CREATE TABLE IF NOT EXISTS ` + a.dialect.Ident(a.cfg.CollectionPrefix+joinTableName(className, fieldName)) + ` (
  "relatedId" varchar(120),
  "owningId" varchar(120),
  PRIMARY KEY ("relatedId", "owningId")
)`
	if _, err := a.db.Exec(ctx, stmt); err != nil && !sqlstateIs(err, sqlstateDuplicateTable) {
		return translateError(err)
	}
	return nil
}

// SchemaUpgrade adds any columns the class's table is missing relative to
// the given schema. Existing columns are left untouched.
func (a *Adapter) SchemaUpgrade(ctx context.Context, s *schema.Schema) error {
	rows, err := a.db.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_name = $1`,
		a.tableName(s.ClassName))
	if err != nil {
		return translateError(err)
	}
	existing, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return translateError(err)
	}

	have := make(map[string]bool, len(existing))
	for _, col := range existing {
		have[col] = true
	}
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if have[name] {
			continue
		}
		if err := a.AddFieldIfNotExists(ctx, s.ClassName, name, s.Fields[name]); err != nil {
			return err
		}
	}
	return nil
}

// AddFieldIfNotExists adds one field to a class: a join table for Relation
// fields, a column otherwise, plus the metadata record. Adding a field that
// the table already has is a no-op at the DDL level, but a field already
// present in the metadata is an error.
func (a *Adapter) AddFieldIfNotExists(ctx context.Context, className, fieldName string, fieldType schema.FieldType) error {
	ctx, span := a.startSpan(ctx, "AddFieldIfNotExists", className)
	defer span.End()

	if fieldType.Type == schema.TypeRelation {
		if err := a.createJoinTable(ctx, className, fieldName); err != nil {
			return err
		}
	} else {
		pgType, err := schema.PostgresType(fieldType)
		if err != nil {
			return fmt.Errorf("field %q: %w", fieldName, err)
		}
		stmt := `ALTER TABLE ` + a.table(className) + ` ADD COLUMN ` +
			a.dialect.Ident(fieldName) + ` ` + pgType
		_, err = a.db.Exec(ctx, stmt)
		switch {
		case err == nil:
		case sqlstateIs(err, sqlstateUndefinedTable):
			// The class was never created. Create it carrying just this field.
			_, err = a.CreateClass(ctx, &schema.Schema{
				ClassName: className,
				Fields:    map[string]schema.FieldType{fieldName: fieldType},
			})
			if err != nil {
				return err
			}
			return nil
		case sqlstateIs(err, sqlstateDuplicateColumn):
			// Another caller added it first.
		default:
			return translateError(err)
		}
	}

	var raw []byte
	err := a.db.QueryRow(ctx,
		`SELECT "schema"->'fields' FROM `+schemaTable+` WHERE "className" = $1 AND "schema"->'fields' ? $2`,
		className, fieldName).Scan(&raw)
	if err == nil {
		return fmt.Errorf("%w: field %s.%s already exists", ErrDuplicateClass, className, fieldName)
	}
	if err != pgx.ErrNoRows {
		return translateError(err)
	}

	encoded, err := json.Marshal(fieldType)
	if err != nil {
		return fmt.Errorf("failed to encode field type: %w", err)
	}
	_, err = a.db.Exec(ctx,
		`UPDATE `+schemaTable+` SET "schema" = json_object_set_key("schema", 'fields',
  json_object_set_key("schema"->'fields', $2::text, $3::jsonb)) WHERE "className" = $1`,
		className, fieldName, string(encoded))
	return translateError(err)
}

// DeleteClass drops the class's table and removes its metadata row. The
// returned flag reports whether the dropped class was a regular class rather
// than a relation join table.
func (a *Adapter) DeleteClass(ctx context.Context, className string) (bool, error) {
	ctx, span := a.startSpan(ctx, "DeleteClass", className)
	defer span.End()

	err := a.Transaction(ctx, func(tx *Adapter) error {
		if _, err := tx.db.Exec(ctx, `DROP TABLE IF EXISTS `+tx.table(className)); err != nil {
			return translateError(err)
		}
		if _, err := tx.db.Exec(ctx,
			`DELETE FROM `+schemaTable+` WHERE "className" = $1`, className); err != nil {
			return translateError(err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return !isJoinTable(className), nil
}

// DeleteAllClasses drops every class table, every relation join table and
// the metadata table itself. Drops run concurrently; the metadata table
// goes last.
func (a *Adapter) DeleteAllClasses(ctx context.Context) error {
	classes, err := a.GetAllClasses(ctx)
	if err != nil {
		return err
	}

	tables := make([]string, 0, len(classes))
	for _, s := range classes {
		tables = append(tables, a.tableName(s.ClassName))
		for field, t := range s.Fields {
			if t.Type == schema.TypeRelation {
				tables = append(tables, a.cfg.CollectionPrefix+joinTableName(s.ClassName, field))
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, table := range tables {
		g.Go(func() error {
			_, err := a.db.Exec(gctx, `DROP TABLE IF EXISTS `+a.dialect.Ident(table))
			return translateError(err)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	_, err = a.db.Exec(ctx, `DROP TABLE IF EXISTS `+schemaTable)
	return translateError(err)
}

// DeleteFields removes fields from a class: columns and metadata entries
// in one pass. A Relation field only loses its metadata entry; the join
// table stays in place so relation membership survives a field re-add, and
// only DeleteClass tears it down.
func (a *Adapter) DeleteFields(ctx context.Context, className string, s *schema.Schema, fieldNames []string) error {
	ctx, span := a.startSpan(ctx, "DeleteFields", className)
	defer span.End()

	var columns []string
	for _, name := range fieldNames {
		t, _ := s.Field(name)
		if t.Type == schema.TypeRelation {
			continue
		}
		columns = append(columns, name)
	}

	return a.Transaction(ctx, func(tx *Adapter) error {
		for _, name := range fieldNames {
			if _, err := tx.db.Exec(ctx,
				`UPDATE `+schemaTable+` SET "schema" = json_object_set_key("schema", 'fields',
  ("schema"->'fields') - $2::text) WHERE "className" = $1`,
				className, name); err != nil {
				return translateError(err)
			}
		}
		if len(columns) == 0 {
			return nil
		}
		drops := make([]string, len(columns))
		for i, name := range columns {
			drops[i] = `DROP COLUMN IF EXISTS ` + tx.dialect.Ident(name)
		}
		_, err := tx.db.Exec(ctx, `ALTER TABLE `+tx.table(className)+` `+strings.Join(drops, ", "))
		return translateError(err)
	})
}

// GetAllClasses returns the schema of every known class. A database that
// was never initialized yields an empty list.
func (a *Adapter) GetAllClasses(ctx context.Context) ([]*schema.Schema, error) {
	if err := a.ensureSchemaTable(ctx); err != nil {
		return nil, err
	}
	rows, err := a.db.Query(ctx, `SELECT "schema" FROM `+schemaTable)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, translateError(err)
	}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, translateError(err)
	}

	classes := make([]*schema.Schema, 0, len(raws))
	for _, raw := range raws {
		s := &schema.Schema{}
		if err := json.Unmarshal(raw, s); err != nil {
			return nil, fmt.Errorf("corrupt schema record: %w", err)
		}
		classes = append(classes, s)
	}
	return classes, nil
}

// GetClass returns one class's schema, or ErrObjectNotFound.
func (a *Adapter) GetClass(ctx context.Context, className string) (*schema.Schema, error) {
	var raw []byte
	err := a.db.QueryRow(ctx,
		`SELECT "schema" FROM `+schemaTable+` WHERE "className" = $1`, className).Scan(&raw)
	if err == pgx.ErrNoRows || isMissingTable(err) {
		return nil, fmt.Errorf("%w: class %s", ErrObjectNotFound, className)
	}
	if err != nil {
		return nil, translateError(err)
	}
	s := &schema.Schema{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("corrupt schema record: %w", err)
	}
	return s, nil
}

// SetClassLevelPermissions replaces the stored class-level permissions.
func (a *Adapter) SetClassLevelPermissions(ctx context.Context, className string, clps schema.Permissions) error {
	encoded, err := json.Marshal(clps)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}
	_, err = a.db.Exec(ctx,
		`UPDATE `+schemaTable+` SET "schema" = json_object_set_key("schema", 'classLevelPermissions', $2::jsonb) WHERE "className" = $1`,
		className, string(encoded))
	return translateError(err)
}

// EnsureUniqueness creates a unique index over the given fields. The index
// name encodes the fields, so a repeated call with the same fields is a
// no-op; existing rows that violate the constraint fail the call with a
// duplicate-value error.
func (a *Adapter) EnsureUniqueness(ctx context.Context, className string, fieldNames []string) error {
	sorted := append([]string(nil), fieldNames...)
	sort.Strings(sorted)
	indexName := "unique_" + strings.Join(sorted, "_")

	quoted := make([]string, len(sorted))
	for i, name := range sorted {
		quoted[i] = a.dialect.Ident(name)
	}
	stmt := `CREATE UNIQUE INDEX IF NOT EXISTS ` + a.dialect.Ident(indexName) +
		` ON ` + a.table(className) + ` (` + strings.Join(quoted, ", ") + `)`
	_, err := a.db.Exec(ctx, stmt)
	if sqlstateIs(err, sqlstateDuplicateObject) {
		return nil
	}
	return translateError(err)
}

// EnsureIndex builds an index over the given fields, optionally
// case-insensitive (lower() over text columns). Used for the lookups the
// caller performs on every authentication.
func (a *Adapter) EnsureIndex(ctx context.Context, className string, s *schema.Schema, fieldNames []string, indexName string, caseInsensitive bool) error {
	if indexName == "" {
		indexName = "idx_" + className + "_" + strings.Join(fieldNames, "_")
	}
	exprs := make([]string, len(fieldNames))
	for i, name := range fieldNames {
		t, _ := s.Field(name)
		if caseInsensitive && t.Type == schema.TypeString {
			exprs[i] = "lower(" + a.dialect.Ident(name) + ")"
		} else {
			exprs[i] = a.dialect.Ident(name)
		}
	}
	stmt := `CREATE INDEX IF NOT EXISTS ` + a.dialect.Ident(indexName) +
		` ON ` + a.table(className) + ` (` + strings.Join(exprs, ", ") + `)`
	_, err := a.db.Exec(ctx, stmt)
	if sqlstateIs(err, sqlstateDuplicateObject) || isMissingTable(err) {
		return nil
	}
	return translateError(err)
}

// CreateIndexes creates one index per entry, atomically, and records the
// index set in the class metadata.
func (a *Adapter) CreateIndexes(ctx context.Context, className string, indexes schema.Indexes) error {
	ctx, span := a.startSpan(ctx, "CreateIndexes", className)
	defer span.End()

	return a.Transaction(ctx, func(tx *Adapter) error {
		names := make([]string, 0, len(indexes))
		for name := range indexes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fields := make([]string, 0, len(indexes[name]))
			for field := range indexes[name] {
				fields = append(fields, field)
			}
			sort.Strings(fields)
			quoted := make([]string, len(fields))
			for i, field := range fields {
				quoted[i] = tx.dialect.Ident(field)
			}
			stmt := `CREATE INDEX IF NOT EXISTS ` + tx.dialect.Ident(name) +
				` ON ` + tx.table(className) + ` (` + strings.Join(quoted, ", ") + `)`
			if _, err := tx.db.Exec(ctx, stmt); err != nil && !sqlstateIs(err, sqlstateDuplicateObject) {
				return translateError(err)
			}
		}
		return tx.setIndexesMetadata(ctx, className, indexes)
	})
}

// DropIndexes removes the named indexes.
func (a *Adapter) DropIndexes(ctx context.Context, className string, indexNames []string) error {
	return a.Transaction(ctx, func(tx *Adapter) error {
		for _, name := range indexNames {
			if _, err := tx.db.Exec(ctx, `DROP INDEX IF EXISTS `+tx.dialect.Ident(name)); err != nil {
				return translateError(err)
			}
		}
		return nil
	})
}

// GetIndexes lists the indexes on the class's table.
func (a *Adapter) GetIndexes(ctx context.Context, className string) ([]string, error) {
	rows, err := a.db.Query(ctx,
		`SELECT indexname FROM pg_indexes WHERE tablename = $1`, a.tableName(className))
	if err != nil {
		return nil, translateError(err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, translateError(err)
	}
	return names, nil
}

// CreateIndexesIfNeeded creates a single-field index when the field's type
// supports plain btree indexing.
func (a *Adapter) CreateIndexesIfNeeded(ctx context.Context, className, fieldName string) error {
	stmt := `CREATE INDEX IF NOT EXISTS ` + a.dialect.Ident("idx_"+className+"_"+fieldName) +
		` ON ` + a.table(className) + ` (` + a.dialect.Ident(fieldName) + `)`
	_, err := a.db.Exec(ctx, stmt)
	if sqlstateIs(err, sqlstateDuplicateObject) {
		return nil
	}
	return translateError(err)
}

// UpdateSchemaWithIndexes refreshes every class's stored index set from
// the live catalog. Intended for startup, after out-of-band migrations.
func (a *Adapter) UpdateSchemaWithIndexes(ctx context.Context) error {
	classes, err := a.GetAllClasses(ctx)
	if err != nil {
		return err
	}
	for _, s := range classes {
		names, err := a.GetIndexes(ctx, s.ClassName)
		if err != nil {
			return err
		}
		indexes := make(schema.Indexes, len(names))
		for _, name := range names {
			indexes[name] = map[string]interface{}{}
		}
		if err := a.setIndexesMetadata(ctx, s.ClassName, indexes); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) setIndexesMetadata(ctx context.Context, className string, indexes schema.Indexes) error {
	encoded, err := json.Marshal(indexes)
	if err != nil {
		return fmt.Errorf("failed to encode indexes: %w", err)
	}
	_, err = a.db.Exec(ctx,
		`UPDATE `+schemaTable+` SET "schema" = json_object_set_key("schema", 'indexes', $2::jsonb) WHERE "className" = $1`,
		className, string(encoded))
	return translateError(err)
}
