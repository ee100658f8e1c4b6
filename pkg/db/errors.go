package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
)

// IsUniqueViolation reports a unique constraint violation. On postgres the
// SQLSTATE and, when given, the constraint name are compared exactly; sqlite
// only exposes the message text.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if pg := pkgerrors.Postgres(err); pg != nil {
		return pg.Code == pkgerrors.PGUniqueViolation &&
			(constraintName == "" || pg.Constraint == constraintName)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// IsNotFound reports whether err is gorm's record-not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// Classify wraps a storage failure with the code clients see. Transient
// postgres failures stay retryable; anything else is a dependency error
// carrying what.
func Classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	var sqlState string
	if pg := pkgerrors.Postgres(err); pg != nil {
		sqlState = pg.Code
	}
	switch sqlState {
	case pkgerrors.PGCheckViolation:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, what+": value out of range")
	case pkgerrors.PGForeignKeyViolation:
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, what+": referenced row missing")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, what)
}
