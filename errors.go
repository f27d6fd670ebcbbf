package pgadapter

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes the adapter reacts to. Everything else is
// surfaced as an internal error.
const (
	sqlstateUniqueViolation    = "23505"
	sqlstateTransactionAborted = "25P02"
	sqlstateDuplicateColumn    = "42701"
	sqlstateUndefinedColumn    = "42703"
	sqlstateUndefinedTable     = "42P01"
	sqlstateDuplicateTable     = "42P07"
	sqlstateDuplicateObject    = "42710"
)

// Common adapter errors. These abstract away the underlying driver error
// details so callers can handle failures without importing pgconn.
var (
	// ErrDuplicateValue is returned when an insert or update violates a
	// unique constraint.
	ErrDuplicateValue = errors.New("a duplicate value for a field with unique values was provided")

	// ErrDuplicateClass is returned when creating a class that already exists.
	ErrDuplicateClass = errors.New("class already exists")

	// ErrObjectNotFound is returned when a delete or update matches no rows.
	ErrObjectNotFound = errors.New("object not found")

	// ErrOperationForbidden is returned for writes the adapter refuses,
	// such as keys containing "$" or ".".
	ErrOperationForbidden = errors.New("operation forbidden")

	// ErrInternal wraps unexpected database failures.
	ErrInternal = errors.New("internal database error")
)

// DuplicateValueError carries the field whose unique constraint was
// violated, recovered from the constraint name.
type DuplicateValueError struct {
	Field string
}

func (e *DuplicateValueError) Error() string {
	if e.Field == "" {
		return ErrDuplicateValue.Error()
	}
	return fmt.Sprintf("duplicate value for unique field %q", e.Field)
}

func (e *DuplicateValueError) Unwrap() error { return ErrDuplicateValue }

// Unique indexes created by EnsureUniqueness are named unique_<field>, so
// the offending field can be read back out of the violation message.
var uniqueConstraintField = regexp.MustCompile(`unique_([a-zA-Z]+)`)

// translateError converts driver errors into the adapter's error set.
// Errors with no mapping are wrapped as ErrInternal; nil passes through.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrDuplicateValue) ||
			errors.Is(err, ErrDuplicateClass) || errors.Is(err, ErrOperationForbidden) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	switch pgErr.Code {
	case sqlstateUniqueViolation:
		dup := &DuplicateValueError{}
		if m := uniqueConstraintField.FindStringSubmatch(pgErr.Message); m != nil {
			dup.Field = m[1]
		}
		return dup
	case sqlstateTransactionAborted:
		// The real failure happened on an earlier statement; the driver's
		// abort notice on its own tells the caller nothing.
		return fmt.Errorf("%w: transaction aborted by an earlier failed statement", ErrInternal)
	default:
		return fmt.Errorf("%w: %s (%s)", ErrInternal, pgErr.Message, pgErr.Code)
	}
}

// sqlstateIs reports whether err is a PgError with the given code.
func sqlstateIs(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// isMissingTable reports whether err means the class's table does not exist
// yet. Reads treat this as an empty result rather than a failure.
func isMissingTable(err error) bool {
	return sqlstateIs(err, sqlstateUndefinedTable)
}
