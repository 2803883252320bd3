package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestWrapError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantSentinel error
		conflict     bool
	}{
		{name: "no rows", err: pgx.ErrNoRows, wantSentinel: ErrNotFound},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, wantSentinel: ErrDuplicateKey},
		{name: "duplicate table", err: &pgconn.PgError{Code: "42P07"}, wantSentinel: ErrDuplicateTable, conflict: true},
		{name: "overlapping partition", err: &pgconn.PgError{Code: "42P17"}, wantSentinel: ErrPartitionOverlap, conflict: true},
		{name: "not partitioned", err: &pgconn.PgError{Code: "42809"}, wantSentinel: ErrNotPartitioned, conflict: true},
		{name: "undefined table", err: &pgconn.PgError{Code: "42P01"}, wantSentinel: ErrUndefinedTable, conflict: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapError(tt.err, "op")
			assert.ErrorIs(t, got, tt.wantSentinel)
			assert.Contains(t, got.Error(), "op")
			assert.Equal(t, tt.conflict, IsPartitionConflict(got))
		})
	}
}

func TestWrapError_Passthrough(t *testing.T) {
	assert.NoError(t, WrapError(nil, "op"))

	base := errors.New("connection reset")
	got := WrapError(base, "op")
	assert.ErrorIs(t, got, base)
	assert.False(t, IsPartitionConflict(got))

	unknown := &pgconn.PgError{Code: "53300"}
	got = WrapError(unknown, "op")
	assert.ErrorIs(t, got, unknown)
	assert.Contains(t, got.Error(), "53300")
}
