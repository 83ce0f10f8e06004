package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/picknest-core/pkg/errors"
)

const maxReferenceLen = 128

// amountScale and maxAmount mirror payments.amount_paid numeric(12,2).
const amountScale = 2

var maxAmount = decimal.New(1, 10)

// OrderTransitions drives the order side of a settlement outcome.
type OrderTransitions interface {
	MarkShipped(ctx context.Context, tx *gorm.DB, order *models.Order) error
	Cancel(ctx context.Context, tx *gorm.DB, order *models.Order, restock bool) ([]models.OrderLine, error)
}

// Settlement compares payments against order totals and moves the order and
// payment together: Completed ships, Failed cancels with a full restock,
// Flagged leaves the order pending for manual review.
type Settlement struct {
	orders   OrderTransitions
	currency enums.Currency
}

// SettleInput is what a caller supplies for a new payment.
type SettleInput struct {
	Amount        decimal.Decimal
	Method        enums.PaymentMethod
	Reference     string
	Currency      enums.Currency
	PaymentDate   time.Time
	RequireReview bool
}

// ReviseInput replaces the amount of a flagged payment. An empty currency
// keeps the payment's current one.
type ReviseInput struct {
	Amount   decimal.Decimal
	Currency enums.Currency
}

// Outcome reports what a settlement step did.
type Outcome struct {
	Payment   models.Payment
	Restocked []models.OrderLine
	Cancelled bool
	Shipped   bool
}

// NewSettlement builds the settlement engine. currency is the only currency
// payments are compared in; anything else is flagged for review.
func NewSettlement(orders OrderTransitions, currency enums.Currency) (*Settlement, error) {
	if orders == nil {
		return nil, fmt.Errorf("order transitions required")
	}
	if !currency.IsValid() {
		return nil, fmt.Errorf("invalid settlement currency %q", currency)
	}
	return &Settlement{orders: orders, currency: currency}, nil
}

// Settle records a payment against a pending order and applies the outcome.
func (s *Settlement) Settle(ctx context.Context, tx *gorm.DB, order *models.Order, in SettleInput) (*Outcome, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeOrderNotPending, "order is no longer awaiting payment").
			WithDetails(map[string]any{"order_id": order.ID.String(), "status": order.Status})
	}
	reference := strings.TrimSpace(in.Reference)
	if err := validateSettle(in, reference); err != nil {
		return nil, err
	}

	repo := NewRepository(tx)
	completed, err := repo.FindCompletedForOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Classify(err, "check completed payment")
	}
	if completed != nil {
		return nil, alreadySettled(order, "order already has a completed payment")
	}
	existing, err := repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, pkgerrors.Classify(err, "check transaction reference")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeDuplicateReference, "transaction reference already used").
			WithDetails(map[string]any{"transaction_reference_number": reference})
	}

	status, reason := s.decide(order.OrderTotal, in.Amount, in.Currency, in.RequireReview)
	paymentDate := in.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = time.Now().UTC()
	}
	payment := models.Payment{
		OrderID:                    order.ID,
		AmountPaid:                 in.Amount,
		Currency:                   in.Currency,
		PaymentMethod:              in.Method,
		Status:                     status,
		TransactionReferenceNumber: reference,
		ReviewReason:               reason,
		PaymentDate:                paymentDate.UTC(),
	}
	if err := repo.Create(ctx, &payment); err != nil {
		return nil, pkgerrors.Classify(err, "create payment")
	}

	outcome := &Outcome{Payment: payment}
	if err := s.apply(ctx, tx, order, status, outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

// Revise re-evaluates a flagged payment with a corrected amount. Only a
// pending order can still be revised; completed and failed payments are
// final.
func (s *Settlement) Revise(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment, in ReviseInput) (*Outcome, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	if err := requirePaymentOnOrder(order, payment); err != nil {
		return nil, err
	}
	if payment.IsVoided() {
		return nil, alreadySettled(order, "payment was voided")
	}
	if order.Status != enums.OrderStatusPending {
		return nil, alreadySettled(order, "order is already settled")
	}
	if !payment.Status.Revisable() {
		return nil, alreadySettled(order, "payment outcome is final")
	}
	if problem := amountProblem(in.Amount); problem != "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment").
			WithDetails(map[string]string{"amount": problem})
	}
	currency := in.Currency
	if currency == "" {
		currency = payment.Currency
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency").
			WithDetails(map[string]any{"currency": currency})
	}

	status, reason := s.decide(order.OrderTotal, in.Amount, currency, false)
	err := NewRepository(tx).Update(ctx, payment.ID, map[string]any{
		"amount_paid":   in.Amount,
		"currency":      currency,
		"status":        status,
		"review_reason": reason,
	})
	if err != nil {
		return nil, pkgerrors.Classify(err, "revise payment")
	}
	payment.AmountPaid = in.Amount
	payment.Currency = currency
	payment.Status = status
	payment.ReviewReason = reason

	outcome := &Outcome{Payment: *payment}
	if err := s.apply(ctx, tx, order, status, outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

// Void marks a non-completed payment as voided. A still-pending order is
// cancelled and restocked; an order the payment already cancelled is left
// alone so its stock is never returned twice.
func (s *Settlement) Void(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment) (*Outcome, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	if err := requirePaymentOnOrder(order, payment); err != nil {
		return nil, err
	}
	if !payment.Status.Voidable() {
		return nil, alreadySettled(order, "completed payments cannot be voided")
	}
	if payment.IsVoided() {
		return nil, alreadySettled(order, "payment already voided")
	}

	now := time.Now().UTC()
	if err := NewRepository(tx).Update(ctx, payment.ID, map[string]any{"voided_at": now}); err != nil {
		return nil, pkgerrors.Classify(err, "void payment")
	}
	payment.VoidedAt = &now

	outcome := &Outcome{Payment: *payment}
	if order.Status == enums.OrderStatusPending {
		restocked, err := s.orders.Cancel(ctx, tx, order, true)
		if err != nil {
			return nil, err
		}
		outcome.Restocked = restocked
		outcome.Cancelled = true
	}
	return outcome, nil
}

func (s *Settlement) decide(total, amount decimal.Decimal, currency enums.Currency, requireReview bool) (enums.PaymentStatus, *string) {
	if requireReview {
		reason := "manual review requested"
		return enums.PaymentStatusFlagged, &reason
	}
	if currency != s.currency {
		reason := fmt.Sprintf("currency %s differs from settlement currency %s", currency, s.currency)
		return enums.PaymentStatusFlagged, &reason
	}
	if amount.GreaterThanOrEqual(total) {
		return enums.PaymentStatusCompleted, nil
	}
	return enums.PaymentStatusFailed, nil
}

func (s *Settlement) apply(ctx context.Context, tx *gorm.DB, order *models.Order, status enums.PaymentStatus, outcome *Outcome) error {
	switch status {
	case enums.PaymentStatusCompleted:
		if err := s.orders.MarkShipped(ctx, tx, order); err != nil {
			return err
		}
		outcome.Shipped = true
	case enums.PaymentStatusFailed:
		restocked, err := s.orders.Cancel(ctx, tx, order, true)
		if err != nil {
			return err
		}
		outcome.Restocked = restocked
		outcome.Cancelled = true
	}
	return nil
}

func validateSettle(in SettleInput, reference string) error {
	details := map[string]string{}
	if problem := amountProblem(in.Amount); problem != "" {
		details["amount"] = problem
	}
	if reference == "" {
		details["transaction_reference_number"] = "is required"
	} else if len(reference) > maxReferenceLen {
		details["transaction_reference_number"] = fmt.Sprintf("must be at most %d characters", maxReferenceLen)
	}
	if !in.Method.IsValid() {
		details["payment_method"] = "is invalid"
	}
	if !in.Currency.IsValid() {
		details["currency"] = "is invalid"
	}
	if len(details) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid payment").WithDetails(details)
}

// amountProblem rejects amounts the payments column would round or overflow,
// so the stored amount is always the one the outcome was decided on.
func amountProblem(amount decimal.Decimal) string {
	switch {
	case amount.IsNegative():
		return "must not be negative"
	case !amount.Equal(amount.Round(amountScale)):
		return fmt.Sprintf("must have at most %d decimal places", amountScale)
	case amount.GreaterThanOrEqual(maxAmount):
		return "exceeds the maximum payment amount"
	}
	return ""
}

func requirePaymentOnOrder(order *models.Order, payment *models.Payment) error {
	if payment == nil || order == nil || payment.OrderID != order.ID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return nil
}

func alreadySettled(order *models.Order, message string) error {
	return pkgerrors.New(pkgerrors.CodeOrderAlreadySettled, message).
		WithDetails(map[string]any{"order_id": order.ID.String(), "status": order.Status})
}

var errTxRequired = pkgerrors.New(pkgerrors.CodeInternal, "transaction required for settlement")
