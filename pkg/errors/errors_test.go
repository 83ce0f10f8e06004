package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, publicMsg: "validation failed", detailsOK: true},
		{code: CodeForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, publicMsg: "resource not found"},
		{code: CodeInsufficientStock, publicMsg: "insufficient stock", detailsOK: true},
		{code: CodeOrderAlreadySettled, publicMsg: "order already settled", detailsOK: true},
		{code: CodeLockTimeout, publicMsg: "resource busy, retry later", retryable: true},
		{code: CodeIntegrityViolation, publicMsg: "request conflicts with stored data"},
		{code: CodeDependency, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestOnlyLockTimeoutIsRetryableAmongDomainCodes(t *testing.T) {
	domain := []Code{
		CodeInsufficientStock, CodeDuplicateLine, CodeInvalidOrderState, CodeOrderNotPending,
		CodeOrderAlreadySettled, CodeDuplicateReference, CodeNotFound, CodeIntegrityViolation,
	}
	for _, code := range domain {
		if New(code, "x").Retryable() {
			t.Fatalf("code %s must not be retryable", code)
		}
	}
	if !New(CodeLockTimeout, "x").Retryable() {
		t.Fatalf("lock timeout must be retryable")
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.PublicMessage != "internal server error" {
		t.Fatalf("expected internal metadata, got %+v", meta)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}
	base.WithDetails(map[string]any{"field": "foo"})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeDependency, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeDependency {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsAndCodeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeForbidden, "no entry"))
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
	if CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatalf("untyped errors should map to internal")
	}
	if !IsCode(err, CodeForbidden) {
		t.Fatalf("IsCode should see wrapped code")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "typed passthrough", err: New(CodeDuplicateLine, "dup"), want: CodeDuplicateLine},
		{name: "pgx reference unique", err: &pgconn.PgError{Code: "23505", ConstraintName: ConstraintPaymentReference}, want: CodeDuplicateReference},
		{name: "pgx other unique", err: &pgconn.PgError{Code: "23505", ConstraintName: "ux_order_lines_order_item"}, want: CodeIntegrityViolation},
		{name: "pgx check", err: &pgconn.PgError{Code: "23514"}, want: CodeIntegrityViolation},
		{name: "pgx lock timeout", err: &pgconn.PgError{Code: "55P03"}, want: CodeLockTimeout},
		{name: "pq deadlock", err: &pq.Error{Code: "40P01"}, want: CodeLockTimeout},
		{name: "sqlite unique reference", err: stdErrors.New("UNIQUE constraint failed: payments.transaction_reference_number"), want: CodeDuplicateReference},
		{name: "sqlite check", err: stdErrors.New("CHECK constraint failed: chk_items_stock_amount"), want: CodeIntegrityViolation},
		{name: "sqlite busy", err: stdErrors.New("database is locked"), want: CodeLockTimeout},
		{name: "unknown", err: stdErrors.New("connection reset"), want: CodeDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, "op")
			if CodeOf(got) != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, got)
			}
		})
	}
	if Classify(nil, "op") != nil {
		t.Fatalf("nil should classify to nil")
	}
}

func TestDumpCapturesPostgresFields(t *testing.T) {
	err := Wrap(CodeIntegrityViolation, &pgconn.PgError{Code: "23505", ConstraintName: "ux_x", TableName: "items"}, "insert item")
	d := Dump(err)
	if d.Code != CodeIntegrityViolation || d.PG == nil {
		t.Fatalf("unexpected dump %+v", d)
	}
	if d.PG.SQLState != "23505" || d.PG.Constraint != "ux_x" || d.PG.Table != "items" {
		t.Fatalf("unexpected pg fields %+v", d.PG)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two-element chain, got %v", d.Chain)
	}
}

func TestDumpFollowsJoinedErrors(t *testing.T) {
	joined := stdErrors.Join(
		fmt.Errorf("cancel order a: %w", New(CodeLockTimeout, "busy")),
		stdErrors.New("cancel order b: boom"),
	)
	d := Dump(joined)
	// join, wrapped a, typed a, b
	if len(d.Chain) != 4 {
		t.Fatalf("expected four links, got %v", d.Chain)
	}
	if d.PG != nil {
		t.Fatalf("did not expect pg fields, got %+v", d.PG)
	}
}

func TestDumpOmitsDetailsForPrivateCodes(t *testing.T) {
	d := Dump(New(CodeInternal, "boom").WithDetails(map[string]any{"secret": 1}))
	if d.Details != nil {
		t.Fatalf("expected details suppressed, got %v", d.Details)
	}
	d = Dump(New(CodeValidation, "bad").WithDetails(map[string]any{"qty": "min"}))
	if d.Details == nil {
		t.Fatal("expected validation details kept")
	}
}
