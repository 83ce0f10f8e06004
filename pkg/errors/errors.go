package errors

import (
	stdErrors "errors"
	"fmt"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeIdempotency  Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeDependency   Code = "DEPENDENCY_ERROR"

	CodeInsufficientStock   Code = "INSUFFICIENT_STOCK"
	CodeDuplicateLine       Code = "DUPLICATE_LINE"
	CodeInvalidOrderState   Code = "INVALID_ORDER_STATE"
	CodeOrderNotPending     Code = "ORDER_NOT_PENDING"
	CodeOrderAlreadySettled Code = "ORDER_ALREADY_SETTLED"
	CodeDuplicateReference  Code = "DUPLICATE_REFERENCE"
	CodeLockTimeout         Code = "LOCK_TIMEOUT"
	CodeIntegrityViolation  Code = "INTEGRITY_VIOLATION"
)

// Metadata describes how a code should be surfaced to callers. Transport
// mapping lives outside this module; the table only carries what every
// transport needs.
type Metadata struct {
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeUnauthorized: {
		PublicMessage: "authentication required",
	},
	CodeForbidden: {
		PublicMessage: "access denied",
	},
	CodeNotFound: {
		PublicMessage: "resource not found",
	},
	CodeIdempotency: {
		PublicMessage:  "idempotency key reused",
		DetailsAllowed: true,
	},
	CodeInternal: {
		Retryable:     true,
		PublicMessage: "internal server error",
	},
	CodeDependency: {
		Retryable:      true,
		PublicMessage:  "dependency unavailable",
		DetailsAllowed: true,
	},
	CodeInsufficientStock: {
		PublicMessage:  "insufficient stock",
		DetailsAllowed: true,
	},
	CodeDuplicateLine: {
		PublicMessage:  "item already on order",
		DetailsAllowed: true,
	},
	CodeInvalidOrderState: {
		PublicMessage:  "order cannot be modified in its current state",
		DetailsAllowed: true,
	},
	CodeOrderNotPending: {
		PublicMessage:  "order is not pending",
		DetailsAllowed: true,
	},
	CodeOrderAlreadySettled: {
		PublicMessage:  "order already settled",
		DetailsAllowed: true,
	},
	CodeDuplicateReference: {
		PublicMessage:  "transaction reference already used",
		DetailsAllowed: true,
	},
	CodeLockTimeout: {
		Retryable:     true,
		PublicMessage: "resource busy, retry later",
	},
	CodeIntegrityViolation: {
		PublicMessage: "request conflicts with stored data",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

// Retryable reports whether the caller may safely retry the operation.
func (e *Error) Retryable() bool {
	return MetadataFor(e.Code()).Retryable
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code carried by err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
