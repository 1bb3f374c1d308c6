package db

import (
	"errors"
	"strings"

	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// IsUniqueViolation reports whether the provided error references a unique
// constraint violation on postgres or sqlite. When constraintName is provided,
// the helper looks for the constraint text in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if pg, ok := pkgerrors.Postgres(err); ok {
		if pg.Code != pgUniqueViolation {
			return false
		}
		return constraintName == "" || pg.Constraint == constraintName
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return true
}

// Classify maps raw driver failures onto the engine taxonomy. Typed errors
// pass through untouched and missing rows become NOT_FOUND. Postgres
// serialization, deadlock and lock-timeout aborts are CONTENTION so callers
// retry; anything else is STORAGE_UNAVAILABLE.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, message)
	}
	if pg, ok := pkgerrors.Postgres(err); ok {
		switch pg.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return pkgerrors.Wrap(pkgerrors.CodeContention, err, message)
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, message)
}
