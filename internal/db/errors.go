package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a requested record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned when attempting to insert a duplicate record.
	ErrDuplicateKey = errors.New("duplicate key violation")

	// ErrDuplicateTable is returned when a table or partition already exists.
	ErrDuplicateTable = errors.New("relation already exists")

	// ErrPartitionOverlap is returned when a new partition's bounds overlap an existing one.
	ErrPartitionOverlap = errors.New("partition bounds overlap")

	// ErrNotPartitioned is returned when attaching a partition to a table that is not partitioned.
	ErrNotPartitioned = errors.New("table is not partitioned")

	// ErrUndefinedTable is returned when the referenced table does not exist yet.
	ErrUndefinedTable = errors.New("undefined table")
)

// WrapError wraps database errors with additional context and maps them to custom error types.
func WrapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	// Handle pgx specific errors
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, ErrNotFound)
	}

	// Handle PostgreSQL errors
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w (constraint: %s)", operation, ErrDuplicateKey, pgErr.ConstraintName)
		case "42P07": // duplicate_table
			return fmt.Errorf("%s: %w: %s", operation, ErrDuplicateTable, pgErr.Message)
		case "42P17": // invalid_object_definition, raised for overlapping partition bounds
			return fmt.Errorf("%s: %w: %s", operation, ErrPartitionOverlap, pgErr.Message)
		case "42809": // wrong_object_type
			return fmt.Errorf("%s: %w: %s", operation, ErrNotPartitioned, pgErr.Message)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: %w: %s", operation, ErrUndefinedTable, pgErr.Message)
		default:
			return fmt.Errorf("%s: database error [%s]: %w", operation, pgErr.Code, err)
		}
	}

	return fmt.Errorf("%s: %w", operation, err)
}

// IsNotFound returns true if the error is an ErrNotFound error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateKey returns true if the error is an ErrDuplicateKey error.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsPartitionConflict reports errors that mean a partition cannot be created as asked
// because of the current state of the table, rather than a transient failure.
func IsPartitionConflict(err error) bool {
	return errors.Is(err, ErrDuplicateTable) ||
		errors.Is(err, ErrPartitionOverlap) ||
		errors.Is(err, ErrNotPartitioned) ||
		errors.Is(err, ErrUndefinedTable)
}
