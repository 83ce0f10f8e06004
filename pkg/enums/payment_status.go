package enums

import "fmt"

// PaymentStatus is the settlement outcome recorded on a payment. Completed
// and Failed are final; Flagged waits for a privileged revision.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusFlagged   PaymentStatus = "flagged"
)

var paymentStatusEvents = map[PaymentStatus]OutboxEventType{
	PaymentStatusCompleted: EventPaymentCompleted,
	PaymentStatusFailed:    EventPaymentFailed,
	PaymentStatusFlagged:   EventPaymentFlagged,
}

func (p PaymentStatus) String() string {
	return string(p)
}

func (p PaymentStatus) IsValid() bool {
	_, ok := paymentStatusEvents[p]
	return ok
}

// Revisable reports whether the outcome may still be replaced.
func (p PaymentStatus) Revisable() bool {
	return p == PaymentStatusFlagged
}

// Voidable reports whether a payment in this status may be voided.
func (p PaymentStatus) Voidable() bool {
	return p.IsValid() && p != PaymentStatusCompleted
}

// EventType is the outbox event announcing a payment that reached p.
func (p PaymentStatus) EventType() OutboxEventType {
	return paymentStatusEvents[p]
}

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	status := PaymentStatus(value)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid payment status %q", value)
	}
	return status, nil
}
