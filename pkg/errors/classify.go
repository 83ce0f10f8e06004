package errors

import "strings"

// Postgres SQLSTATE values the engine reacts to.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgNotNullViolation     = "23502"
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
)

// ConstraintPaymentReference names the unique index on payments.transaction_reference_number.
const ConstraintPaymentReference = "ux_payments_reference"

// Classify turns a persistence failure into a typed error. Typed errors pass
// through untouched; anything unrecognized is wrapped as a dependency failure
// with the supplied message.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if typed := As(err); typed != nil {
		return typed
	}

	sqlState, constraint := sqlStateOf(err)
	switch sqlState {
	case pgUniqueViolation:
		if constraint == ConstraintPaymentReference {
			return Wrap(CodeDuplicateReference, err, "transaction reference already used")
		}
		return Wrap(CodeIntegrityViolation, err, message)
	case pgForeignKeyViolation, pgCheckViolation, pgNotNullViolation:
		return Wrap(CodeIntegrityViolation, err, message)
	case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
		return Wrap(CodeLockTimeout, err, message)
	}

	// sqlite surfaces constraint and busy failures only through the message text.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		if strings.Contains(msg, "transaction_reference_number") {
			return Wrap(CodeDuplicateReference, err, "transaction reference already used")
		}
		return Wrap(CodeIntegrityViolation, err, message)
	case strings.Contains(msg, "CHECK constraint failed"),
		strings.Contains(msg, "FOREIGN KEY constraint failed"),
		strings.Contains(msg, "NOT NULL constraint failed"):
		return Wrap(CodeIntegrityViolation, err, message)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"):
		return Wrap(CodeLockTimeout, err, message)
	}

	return Wrap(CodeDependency, err, message)
}

func sqlStateOf(err error) (string, string) {
	if pg := PGFieldsOf(err); pg != nil {
		return pg.SQLState, pg.Constraint
	}
	return "", ""
}
