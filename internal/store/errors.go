// Package store provides the shared persistence helpers (C1 Store) that
// every domain package's own store.go builds on: the DBTX interface,
// common error translation, and transaction helpers. Domain
// packages (pkg/identity, pkg/memory, ...) each own a store.go with their
// entity-specific SQL, following the teacher's per-package store pattern
// (wisbric-nightowl/pkg/apikey/store.go, pkg/user/store.go).
package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nimbusid/core/internal/apierr"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// Translate maps a raw pgx/pgconn error into the tagged business error kinds
// from spec.md §4.1 ("NotFound, Conflict, TransactionFailed").
func Translate(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apierr.NotFound(notFoundMsg)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return apierr.Conflict(conflictMessage(pgErr))
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return apierr.Wrap(apierr.KindTransient, "transient store error, retry", err)
		}
	}

	return apierr.Wrap(apierr.KindTransient, "store operation failed", err)
}

func conflictMessage(pgErr *pgconn.PgError) string {
	if pgErr.ConstraintName != "" {
		return "duplicate value violates " + pgErr.ConstraintName
	}
	return "duplicate value"
}
