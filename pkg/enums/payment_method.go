package enums

import (
	"fmt"
	"strings"
)

// PaymentMethod enumerates how a client paid.
type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodPayPal     PaymentMethod = "paypal"
	PaymentMethodMPesa      PaymentMethod = "mpesa"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCreditCard,
	PaymentMethodPayPal,
	PaymentMethodMPesa,
}

// legacy display labels still sent by older clients
var paymentMethodLabels = map[string]PaymentMethod{
	"credit card": PaymentMethodCreditCard,
	"paypal":      PaymentMethodPayPal,
	"m-pesa":      PaymentMethodMPesa,
}

// String implements fmt.Stringer.
func (m PaymentMethod) String() string {
	return string(m)
}

// IsValid reports whether the method is recognized.
func (m PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParsePaymentMethod accepts canonical values and the legacy display labels.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	if method, ok := paymentMethodLabels[strings.ToLower(strings.TrimSpace(value))]; ok {
		return method, nil
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
