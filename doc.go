// Package pgadapter stores schemaless, MongoDB-flavored objects in
// PostgreSQL, one table per class. Queries, updates and aggregation
// pipelines arrive as documents and are compiled to parameterized SQL; rows
// read back are mapped into the document representation with typed wrappers
// for pointers, dates, files and geo values.
//
// Core Features:
//   - Document queries ($or/$and/$nor, comparison, array, geo, text and
//     regex operators) compiled to positional-placeholder SQL
//   - Update operators (Increment, Add, AddUnique, Remove, Delete, dotted
//     keys, authData providers) compiled to a single UPDATE
//   - A restricted aggregation pipeline ($group, $project, $match, $sort,
//     $limit, $skip)
//   - Schema management: class tables, relation join tables, unique and
//     plain indexes, a metadata table shared with sibling adapters
//   - Transactions exposed as sessions bound to adapter copies
//
// Basic Usage:
//
//	import (
//		"github.com/objectstack/pgadapter"
//		"github.com/objectstack/pgadapter/logger"
//		"github.com/objectstack/pgadapter/schema"
//	)
//
//	log := logger.NewLogger(logger.Config{Level: "info", ServiceName: "api"})
//	adapter, err := pgadapter.NewAdapter(ctx, cfg, log)
//	if err != nil {
//		log.Error("failed to connect", zap.Error(err))
//	}
//	defer adapter.Close()
//
//	// Install the metadata table and helper SQL functions once per database.
//	if err := adapter.PerformInitialization(ctx); err != nil { ... }
//
//	// Create a class and insert an object.
//	s := &schema.Schema{ClassName: "Player", Fields: map[string]schema.FieldType{
//		"name":  {Type: schema.TypeString},
//		"score": {Type: schema.TypeNumber},
//	}}
//	adapter.CreateClass(ctx, s)
//	adapter.CreateObject(ctx, "Player", s, document.Document{
//		"objectId": "abc123", "name": "dan", "score": 12.0,
//	})
//
//	// Query it back.
//	docs, err := adapter.Find(ctx, "Player", s,
//		map[string]interface{}{"score": map[string]interface{}{"$gt": 10}},
//		pgadapter.FindOptions{Limit: 10})
//
// Transaction Example:
//
//	session, err := adapter.Begin(ctx)
//	if err != nil { ... }
//	tx := adapter.WithSession(session)
//	if err := tx.CreateObject(ctx, "Player", s, obj); err != nil {
//		session.Abort(ctx)
//		return err
//	}
//	return session.Commit(ctx)
//
// Error Handling:
//
// Operations return the package's sentinel errors; driver errors never leak.
//
//	err := adapter.CreateObject(ctx, "Player", s, obj)
//	if errors.Is(err, pgadapter.ErrDuplicateValue) {
//	    var dup *pgadapter.DuplicateValueError
//	    if errors.As(err, &dup) {
//	        // dup.Field names the violated unique field
//	    }
//	}
//
// Thread Safety:
//
// An Adapter is safe for concurrent use. Session-bound copies obtained from
// WithSession must be confined to one goroutine, like the transaction they
// wrap.
package pgadapter
