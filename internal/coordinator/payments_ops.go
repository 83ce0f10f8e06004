package coordinator

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/internal/catalog"
	"github.com/angelmondragon/picknest-core/internal/payments"
	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/picknest-core/pkg/errors"
)

// Settle records a payment against a pending order. A full payment ships the
// order, an underpayment cancels and restocks it and a flagged payment leaves
// it pending.
func (c *Coordinator) Settle(ctx context.Context, cmd SettleCommand) (*PaymentView, error) {
	var view *PaymentView
	err := c.execute(ctx, operation{
		name:    "settle",
		actor:   cmd.Actor,
		command: cmd,
		idemKey: cmd.IdempotencyKey,
		plan:    c.orderItemsPlan(cmd.OrderID),
		run: func(ctx context.Context, tx *gorm.DB, plan lockPlan) error {
			order, err := c.lockOrderWithItems(ctx, tx, plan)
			if err != nil {
				return err
			}
			if err := authorizeOrder(cmd.Actor, order, "pay for this order"); err != nil {
				return err
			}

			outcome, err := c.payments.Settle(ctx, tx, order, payments.SettleInput{
				Amount:        cmd.Amount,
				Method:        cmd.Method,
				Reference:     cmd.Reference,
				Currency:      cmd.Currency,
				PaymentDate:   cmd.PaymentDate,
				RequireReview: cmd.RequireReview,
			})
			if err != nil {
				return err
			}
			eventType := outcome.Payment.Status.EventType()
			if err := c.emitOutcome(ctx, tx, cmd.Actor, eventType, order, outcome); err != nil {
				return err
			}
			view = newPaymentView(order, outcome)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// RevisePayment re-evaluates a flagged payment with a corrected amount.
func (c *Coordinator) RevisePayment(ctx context.Context, cmd RevisePaymentCommand) (*PaymentView, error) {
	var view *PaymentView
	err := c.execute(ctx, operation{
		name:    "revise_payment",
		actor:   cmd.Actor,
		command: cmd,
		idemKey: cmd.IdempotencyKey,
		plan:    c.paymentPlan(cmd.PaymentID),
		run: func(ctx context.Context, tx *gorm.DB, plan lockPlan) error {
			if err := requirePrivileged(cmd.Actor, "revise payments"); err != nil {
				return err
			}
			order, payment, err := c.lockPayment(ctx, tx, plan, cmd.PaymentID)
			if err != nil {
				return err
			}

			outcome, err := c.payments.Revise(ctx, tx, order, payment, payments.ReviseInput{
				Amount:   cmd.Amount,
				Currency: cmd.Currency,
			})
			if err != nil {
				return err
			}
			eventType := outcome.Payment.Status.EventType()
			if err := c.emitOutcome(ctx, tx, cmd.Actor, eventType, order, outcome); err != nil {
				return err
			}
			view = newPaymentView(order, outcome)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// VoidPayment voids a payment that did not complete. A still-pending order
// is cancelled and restocked with it.
func (c *Coordinator) VoidPayment(ctx context.Context, cmd VoidPaymentCommand) (*PaymentView, error) {
	var view *PaymentView
	err := c.execute(ctx, operation{
		name:    "void_payment",
		actor:   cmd.Actor,
		command: cmd,
		idemKey: cmd.IdempotencyKey,
		plan:    c.paymentPlan(cmd.PaymentID),
		run: func(ctx context.Context, tx *gorm.DB, plan lockPlan) error {
			if err := requirePrivileged(cmd.Actor, "void payments"); err != nil {
				return err
			}
			order, payment, err := c.lockPayment(ctx, tx, plan, cmd.PaymentID)
			if err != nil {
				return err
			}

			outcome, err := c.payments.Void(ctx, tx, order, payment)
			if err != nil {
				return err
			}
			if err := c.emitOutcome(ctx, tx, cmd.Actor, enums.EventPaymentVoided, order, outcome); err != nil {
				return err
			}
			view = newPaymentView(order, outcome)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

const defaultPaymentPage = 100

// ListOrderPayments returns every payment recorded against an order, voided
// ones included, oldest first.
func (c *Coordinator) ListOrderPayments(ctx context.Context, q ListPaymentsQuery) ([]models.Payment, error) {
	var list []models.Payment
	err := c.execute(ctx, operation{
		name:    "list_order_payments",
		actor:   q.Actor,
		command: q,
		run: func(ctx context.Context, tx *gorm.DB, _ lockPlan) error {
			order, err := c.orders.Get(ctx, tx, q.OrderID)
			if err != nil {
				return err
			}
			if err := authorizeOrder(q.Actor, order, "view this order's payments"); err != nil {
				return err
			}
			list, err = payments.NewRepository(tx).ListForOrder(ctx, order.ID)
			return pkgerrors.Classify(err, "list order payments")
		},
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// ListClientPayments returns a client's payments, newest first. Clients see
// only their own.
func (c *Coordinator) ListClientPayments(ctx context.Context, q ClientPaymentsQuery) ([]models.Payment, error) {
	var list []models.Payment
	err := c.execute(ctx, operation{
		name:    "list_client_payments",
		actor:   q.Actor,
		command: q,
		run: func(ctx context.Context, tx *gorm.DB, _ lockPlan) error {
			if !q.Actor.Role.IsPrivileged() && (q.Actor.Role != enums.ActorRoleClient || q.Actor.ID != q.ClientID) {
				return forbidden("view this client's payments")
			}
			limit := q.Limit
			if limit == 0 {
				limit = defaultPaymentPage
			}
			var err error
			list, err = payments.NewRepository(tx).ListForClient(ctx, q.ClientID, limit)
			return pkgerrors.Classify(err, "list client payments")
		},
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// paymentPlan resolves the payment's order before locking so the order's
// items can be locked ahead of it.
func (c *Coordinator) paymentPlan(paymentID uuid.UUID) func(ctx context.Context, db *gorm.DB) (lockPlan, error) {
	return func(ctx context.Context, db *gorm.DB) (lockPlan, error) {
		payment, err := payments.NewRepository(db).FindByID(ctx, paymentID)
		if err != nil {
			return lockPlan{}, pkgerrors.Classify(err, "load payment")
		}
		if payment == nil {
			return lockPlan{}, paymentNotFound(paymentID)
		}
		ids, err := c.orders.ItemIDs(ctx, db, payment.OrderID)
		if err != nil {
			return lockPlan{}, err
		}
		return lockPlan{items: catalog.SortedIDs(ids), order: payment.OrderID}, nil
	}
}

// lockPayment locks items, order and then the payment row.
func (c *Coordinator) lockPayment(ctx context.Context, tx *gorm.DB, plan lockPlan, paymentID uuid.UUID) (*models.Order, *models.Payment, error) {
	order, err := c.lockOrderWithItems(ctx, tx, plan)
	if err != nil {
		return nil, nil, err
	}
	payment, err := payments.NewRepository(tx).LockByID(ctx, paymentID)
	if err != nil {
		return nil, nil, pkgerrors.Classify(err, "lock payment")
	}
	if payment == nil {
		return nil, nil, paymentNotFound(paymentID)
	}
	if payment.OrderID != order.ID {
		return nil, nil, errItemSetChanged
	}
	return order, payment, nil
}

func newPaymentView(order *models.Order, outcome *payments.Outcome) *PaymentView {
	return &PaymentView{
		Payment:   outcome.Payment,
		Order:     *order,
		Restocked: len(outcome.Restocked) > 0,
	}
}

func paymentNotFound(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
		WithDetails(map[string]any{"payment_id": id.String()})
}
