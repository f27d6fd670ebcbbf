package pgadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/objectstack/pgadapter/document"
	"github.com/objectstack/pgadapter/schema"
	"github.com/objectstack/pgadapter/sqlgen"
)

// FindOptions narrows and orders a Find.
type FindOptions struct {
	Skip  int64
	Limit int64
	// Sort maps field names to direction: positive ascending, negative
	// descending. Iteration order over the map is made deterministic by
	// sorting the keys.
	Sort map[string]int
	// Keys projects the result to the named fields; objectId is always
	// included. Empty means all columns.
	Keys []string
	// CaseInsensitive applies lower() to both sides of equality
	// constraints on String-typed fields in the query.
	CaseInsensitive bool
}

// CreateObject inserts one object. The stored row carries a column per
// top-level field; dotted keys are expanded into nested objects first.
// Unique-index violations come back as a DuplicateValueError.
func (a *Adapter) CreateObject(ctx context.Context, className string, s *schema.Schema, object document.Document) (err error) {
	ctx, span := a.startSpan(ctx, "CreateObject", className)
	defer span.End()
	defer func(start time.Time) { a.observer.observe("create", className, start, err) }(time.Now())

	if err := document.ValidateNestedKeys(map[string]interface{}(object)); err != nil {
		return fmt.Errorf("%w: %v", ErrOperationForbidden, err)
	}
	object = document.ExpandDotFields(object)

	args := sqlgen.NewArgs(1)
	var columns, placeholders []string
	names := make([]string, 0, len(object))
	for name := range object {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t, _ := s.Field(name)
		if t.Type == schema.TypeRelation {
			// Relation state lives in the join table, not the row.
			continue
		}
		pattern, perr := a.insertValue(args, s, name, object[name])
		if perr != nil {
			return perr
		}
		columns = append(columns, a.dialect.Ident(name))
		placeholders = append(placeholders, pattern)
	}

	stmt := `INSERT INTO ` + a.table(className) +
		` (` + strings.Join(columns, ", ") + `) VALUES (` + strings.Join(placeholders, ", ") + `)`
	_, err = a.db.Exec(ctx, stmt, args.Values()...)
	if isMissingTable(err) {
		// First write to a class whose table was never created.
		if _, cerr := a.CreateClass(ctx, s); cerr != nil && !errors.Is(cerr, ErrDuplicateClass) {
			return cerr
		}
		_, err = a.db.Exec(ctx, stmt, args.Values()...)
	}
	return translateError(err)
}

// insertValue binds one field's value and returns its placeholder pattern.
// Geo types need a SQL constructor around the bound coordinates, everything
// else is a plain placeholder.
func (a *Adapter) insertValue(args *sqlgen.Args, s *schema.Schema, name string, v interface{}) (string, error) {
	t, _ := s.Field(name)
	switch t.Type {
	case schema.TypeGeoPoint:
		point, err := document.GeoPointFrom(v)
		if err != nil {
			return "", fmt.Errorf("%w: field %q: %v", ErrOperationForbidden, name, err)
		}
		return fmt.Sprintf("POINT(%s, %s)", args.Bind(point.Longitude), args.Bind(point.Latitude)), nil
	case schema.TypePolygon:
		coords, err := document.PolygonCoordinates(v)
		if err != nil {
			return "", fmt.Errorf("%w: field %q: %v", ErrOperationForbidden, name, err)
		}
		return args.Bind(document.PolygonToSQL(coords)) + "::polygon", nil
	case schema.TypeArray:
		if s.IsStringArrayField(name) {
			list, _ := v.([]interface{})
			strs := make([]string, 0, len(list))
			for _, item := range list {
				str, _ := item.(string)
				strs = append(strs, str)
			}
			return args.Bind(strs), nil
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("field %q: %w", name, err)
		}
		return args.Bind(string(encoded)) + "::jsonb", nil
	case schema.TypeObject, schema.TypeBytes:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("field %q: %w", name, err)
		}
		return args.Bind(string(encoded)) + "::jsonb", nil
	default:
		if value, ok := document.ToRow(t, v); ok {
			return args.Bind(value), nil
		}
		return args.Bind(document.ToPostgresValue(v)), nil
	}
}

// Find runs a query and maps the matching rows back to documents. A class
// whose table does not exist yields an empty result.
func (a *Adapter) Find(ctx context.Context, className string, s *schema.Schema, query map[string]interface{}, opts FindOptions) (docs []document.Document, err error) {
	ctx, span := a.startSpan(ctx, "Find", className)
	defer span.End()
	defer func(start time.Time) { a.observer.observe("find", className, start, err) }(time.Now())

	args := sqlgen.NewArgs(1)
	compileQuery := sqlgen.CompileWhere
	if opts.CaseInsensitive {
		compileQuery = sqlgen.CompileWhereCaseInsensitive
	}
	where, err := compileQuery(a.dialect, s, query, args)
	if err != nil {
		return nil, err
	}

	columns := "*"
	if len(opts.Keys) > 0 {
		keys := append([]string{"objectId"}, opts.Keys...)
		quoted := make([]string, 0, len(keys))
		seen := map[string]bool{}
		for _, key := range keys {
			if seen[key] || strings.Contains(key, ".") {
				continue
			}
			seen[key] = true
			quoted = append(quoted, a.dialect.Ident(key))
		}
		columns = strings.Join(quoted, ", ")
	}

	stmt := `SELECT ` + columns + ` FROM ` + a.table(className)
	if !where.Empty() {
		stmt += ` WHERE ` + where.Pattern
	}

	ordering := append([]string(nil), where.ExtraOrderBy...)
	sortKeys := make([]string, 0, len(opts.Sort))
	for key := range opts.Sort {
		sortKeys = append(sortKeys, key)
	}
	sort.Strings(sortKeys)
	for _, key := range sortKeys {
		direction := "ASC"
		if opts.Sort[key] < 0 {
			direction = "DESC"
		}
		ordering = append(ordering, a.dialect.Ident(key)+" "+direction)
	}
	if len(ordering) > 0 {
		stmt += ` ORDER BY ` + strings.Join(ordering, ", ")
	}
	if opts.Limit > 0 {
		stmt += ` LIMIT ` + args.Bind(opts.Limit)
	}
	if opts.Skip > 0 {
		stmt += ` OFFSET ` + args.Bind(opts.Skip)
	}

	rows, err := a.db.Query(ctx, stmt, args.Values()...)
	if err != nil {
		if isMissingTable(err) {
			return []document.Document{}, nil
		}
		return nil, translateError(err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		if isMissingTable(err) {
			return []document.Document{}, nil
		}
		return nil, translateError(err)
	}

	docs = make([]document.Document, 0, len(raw))
	for _, row := range raw {
		docs = append(docs, document.FromRow(s, row))
	}
	return docs, nil
}

// DeleteObjectsByQuery removes every object the query matches; an empty
// query removes all of them. Matching nothing is ErrObjectNotFound; a class
// with no table deletes nothing and succeeds.
func (a *Adapter) DeleteObjectsByQuery(ctx context.Context, className string, s *schema.Schema, query map[string]interface{}) (count int64, err error) {
	ctx, span := a.startSpan(ctx, "DeleteObjectsByQuery", className)
	defer span.End()
	defer func(start time.Time) { a.observer.observe("delete", className, start, err) }(time.Now())

	args := sqlgen.NewArgs(1)
	where, err := sqlgen.CompileWhere(a.dialect, s, query, args)
	if err != nil {
		return 0, err
	}

	stmt := `DELETE FROM ` + a.table(className)
	if !where.Empty() {
		stmt += ` WHERE ` + where.Pattern
	}
	tag, err := a.db.Exec(ctx, stmt, args.Values()...)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrObjectNotFound
	}
	return tag.RowsAffected(), nil
}

// UpdateObjectsByQuery applies an update document to every match and
// returns the updated objects.
func (a *Adapter) UpdateObjectsByQuery(ctx context.Context, className string, s *schema.Schema, query, update map[string]interface{}) (docs []document.Document, err error) {
	ctx, span := a.startSpan(ctx, "UpdateObjectsByQuery", className)
	defer span.End()
	defer func(start time.Time) { a.observer.observe("update", className, start, err) }(time.Now())

	args := sqlgen.NewArgs(1)
	set, err := sqlgen.CompileUpdate(a.dialect, s, update, args)
	if err != nil {
		return nil, err
	}
	where, err := sqlgen.CompileWhere(a.dialect, s, query, args)
	if err != nil {
		return nil, err
	}

	stmt := `UPDATE ` + a.table(className) + ` SET ` + set.Pattern
	if !where.Empty() {
		stmt += ` WHERE ` + where.Pattern
	}
	stmt += ` RETURNING *`

	rows, err := a.db.Query(ctx, stmt, args.Values()...)
	if err != nil {
		return nil, translateError(err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, translateError(err)
	}

	docs = make([]document.Document, 0, len(raw))
	for _, row := range raw {
		docs = append(docs, document.FromRow(s, row))
	}
	return docs, nil
}

// FindOneAndUpdate updates the matching objects and returns the first one,
// or ErrObjectNotFound when nothing matched.
func (a *Adapter) FindOneAndUpdate(ctx context.Context, className string, s *schema.Schema, query, update map[string]interface{}) (document.Document, error) {
	docs, err := a.UpdateObjectsByQuery(ctx, className, s, query, update)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrObjectNotFound
	}
	return docs[0], nil
}

// UpsertOneObject creates the object, and on a duplicate value updates the
// existing row instead. The create/update race window is accepted: the
// loser of a concurrent create falls through to an update of the winner's
// row.
func (a *Adapter) UpsertOneObject(ctx context.Context, className string, s *schema.Schema, query map[string]interface{}, object document.Document) error {
	err := a.CreateObject(ctx, className, s, object)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrDuplicateValue) {
		return err
	}
	_, err = a.FindOneAndUpdate(ctx, className, s, query, object)
	return err
}

// Count counts matching objects. With estimate set and no constraints it
// reads the planner's row estimate instead of scanning, which is what
// callers want for dashboard-style totals over large classes.
func (a *Adapter) Count(ctx context.Context, className string, s *schema.Schema, query map[string]interface{}, estimate bool) (count int64, err error) {
	ctx, span := a.startSpan(ctx, "Count", className)
	defer span.End()
	defer func(start time.Time) { a.observer.observe("count", className, start, err) }(time.Now())

	if estimate && len(query) == 0 {
		var approx float64
		err := a.db.QueryRow(ctx,
			`SELECT reltuples FROM pg_class WHERE relname = $1`, a.tableName(className)).Scan(&approx)
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		if err != nil {
			return 0, translateError(err)
		}
		if approx < 0 {
			// Never analyzed; fall through to the exact count.
			return a.Count(ctx, className, s, query, false)
		}
		return int64(approx), nil
	}

	args := sqlgen.NewArgs(1)
	where, err := sqlgen.CompileWhere(a.dialect, s, query, args)
	if err != nil {
		return 0, err
	}
	stmt := `SELECT count(*) FROM ` + a.table(className)
	if !where.Empty() {
		stmt += ` WHERE ` + where.Pattern
	}
	err = a.db.QueryRow(ctx, stmt, args.Values()...).Scan(&count)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, translateError(err)
	}
	return count, nil
}

// Distinct returns the distinct values of one field among the matching
// objects, wrapped back into document form. An undefined column yields an
// empty list.
func (a *Adapter) Distinct(ctx context.Context, className string, s *schema.Schema, query map[string]interface{}, fieldName string) (values []interface{}, err error) {
	ctx, span := a.startSpan(ctx, "Distinct", className)
	defer span.End()
	defer func(start time.Time) { a.observer.observe("distinct", className, start, err) }(time.Now())

	args := sqlgen.NewArgs(1)
	where, err := sqlgen.CompileWhere(a.dialect, s, query, args)
	if err != nil {
		return nil, err
	}

	column := a.dialect.Ident(fieldName)
	expr := column
	if strings.Contains(fieldName, ".") {
		expr = a.dialect.DotField(fieldName)
		column = a.dialect.Ident(strings.SplitN(fieldName, ".", 2)[0])
	}
	stmt := `SELECT DISTINCT ON (` + expr + `) ` + column + ` FROM ` + a.table(className)
	if !where.Empty() {
		stmt += ` WHERE ` + where.Pattern
	}

	rows, err := a.db.Query(ctx, stmt, args.Values()...)
	if err != nil {
		if sqlstateIs(err, sqlstateUndefinedColumn) || isMissingTable(err) {
			return []interface{}{}, nil
		}
		return nil, translateError(err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, translateError(err)
	}

	base := strings.SplitN(fieldName, ".", 2)[0]
	values = make([]interface{}, 0, len(raw))
	for _, row := range raw {
		doc := document.FromRow(s, row)
		if v, ok := doc[base]; ok {
			values = append(values, v)
		} else {
			values = append(values, nil)
		}
	}
	return values, nil
}

// Aggregate compiles and runs a restricted aggregation pipeline, then
// post-processes the rows: compound group keys fold back into an objectId
// object and count results are coerced to integers.
func (a *Adapter) Aggregate(ctx context.Context, className string, s *schema.Schema, pipeline []map[string]interface{}) (docs []document.Document, err error) {
	ctx, span := a.startSpan(ctx, "Aggregate", className)
	defer span.End()
	defer func(start time.Time) { a.observer.observe("aggregate", className, start, err) }(time.Now())

	args := sqlgen.NewArgs(1)
	plan, err := sqlgen.CompileAggregate(a.dialect, s, pipeline, args)
	if err != nil {
		return nil, err
	}

	rows, err := a.db.Query(ctx, plan.SQL(a.table(className)), plan.Values...)
	if err != nil {
		if isMissingTable(err) {
			return []document.Document{}, nil
		}
		return nil, translateError(err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, translateError(err)
	}

	docs = make([]document.Document, 0, len(raw))
	for _, row := range raw {
		doc := document.FromRow(s, row)
		if len(plan.GroupAliases) > 0 {
			id := make(map[string]interface{}, len(plan.GroupAliases))
			for _, alias := range plan.GroupAliases {
				id[alias] = doc[alias]
				delete(doc, alias)
			}
			doc["objectId"] = id
		}
		for _, field := range plan.CountFields {
			if n, ok := doc[field].(int64); ok {
				doc[field] = n
			} else if f, ok := doc[field].(float64); ok {
				doc[field] = int64(f)
			}
		}
		docs = append(docs, doc)
	}
	a.logger.Debug("aggregate executed",
		zap.String("class", className), zap.Int("results", len(docs)))
	return docs, nil
}
