package pgadapter

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Session is one open database transaction. Operations issued through an
// adapter bound to the session execute on its transaction immediately and
// become visible to other connections only on Commit.
type Session struct {
	tx pgx.Tx
}

// Begin opens a transaction and returns the session handle for it.
func (a *Adapter) Begin(ctx context.Context) (*Session, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Session{tx: tx}, nil
}

// WithSession returns a shallow copy of the adapter whose operations run on
// the session's transaction instead of the pool. The copy shares the pool,
// logger and observer with the original.
func (a *Adapter) WithSession(s *Session) *Adapter {
	clone := *a
	clone.db = s.tx
	return &clone
}

// Commit makes the session's writes visible atomically.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Abort rolls the session back, discarding its writes.
func (s *Session) Abort(ctx context.Context) error {
	if err := s.tx.Rollback(ctx); err != nil {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

// Transaction executes fn inside a transaction. fn receives a
// session-bound adapter; returning an error rolls the transaction back,
// nil commits it.
func (a *Adapter) Transaction(ctx context.Context, fn func(tx *Adapter) error) error {
	if _, ok := a.db.(pgx.Tx); ok {
		// Already inside a transaction; run on it directly.
		return fn(a)
	}
	session, err := a.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(a.WithSession(session)); err != nil {
		if rbErr := session.Abort(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return session.Commit(ctx)
}
