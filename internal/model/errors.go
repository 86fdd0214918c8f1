package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyOrder         = errors.New("order: at least one line is required")
	ErrInvalidLine        = errors.New("order: invalid line")
	ErrInconsistentTotals = errors.New("order: totals do not reconcile")
	ErrInvalidTransition  = errors.New("order: invalid state transition")
	ErrOrderNotFound      = errors.New("order: not found")
	ErrOrderClosed        = errors.New("order: payment already failed")
	ErrPaymentAmount      = errors.New("payment: amount or currency mismatch")
	ErrPaymentDeclined    = errors.New("payment: declined by gateway")
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")
	ErrMissingPaymentRef  = errors.New("payment: order has no payment reference")
	ErrKeyUnavailable     = errors.New("inventory: no available key")
	ErrInvalidKeyState    = errors.New("inventory: key is not in the expected state")
	ErrReserveContention  = errors.New("inventory: key pool is contended")
	ErrStockOut           = errors.New("fulfillment: products out of stock")
	ErrProductNotFound    = errors.New("catalog: product not found")
	ErrInvalidWebhook     = errors.New("webhook: rejected notification")
)

// InvalidLineError describes the cart line that failed validation.
type InvalidLineError struct {
	ProductID string
	Quantity  int
	Reason    string
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("order: invalid line product=%q quantity=%d: %s", e.ProductID, e.Quantity, e.Reason)
}

func (e *InvalidLineError) Unwrap() error { return ErrInvalidLine }

// KeyUnavailableError is returned by the key pool when a product has no available key.
type KeyUnavailableError struct {
	ProductID string
}

func (e *KeyUnavailableError) Error() string {
	return fmt.Sprintf("inventory: no available key for product %q", e.ProductID)
}

func (e *KeyUnavailableError) Unwrap() error { return ErrKeyUnavailable }

// PaymentAmountMismatchError carries both sides of a failed amount check.
type PaymentAmountMismatchError struct {
	ExpectedAmount   decimal.Decimal
	ExpectedCurrency string
	GotAmount        decimal.Decimal
	GotCurrency      string
}

func (e *PaymentAmountMismatchError) Error() string {
	return fmt.Sprintf("payment: expected %s %s, got %s %s",
		e.ExpectedAmount.StringFixed(2), e.ExpectedCurrency,
		e.GotAmount.StringFixed(2), e.GotCurrency)
}

func (e *PaymentAmountMismatchError) Unwrap() error { return ErrPaymentAmount }
