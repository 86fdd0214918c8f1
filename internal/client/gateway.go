package client

import (
	"context"
	"fmt"

	"gameshop-fulfillment/internal/model"

	"github.com/shopspring/decimal"
)

type CaptureStatus string

const (
	CaptureCompleted CaptureStatus = "COMPLETED"
	CaptureDeclined  CaptureStatus = "DECLINED"
)

// AuthorizeRequest carries the priced order to the gateway. The component
// amounts are only used by gateways that display a breakdown to the buyer.
type AuthorizeRequest struct {
	OrderCode    string
	Amount       decimal.Decimal
	Currency     string
	ItemTotal    decimal.Decimal
	Shipping     decimal.Decimal
	Tax          decimal.Decimal
	ServiceFee   decimal.Decimal
	PaymentToken string // vaulted method, braintree only
	ReturnURL    string
	CancelURL    string
}

type Approval struct {
	Reference   string
	ApprovalURL string
}

type CaptureResult struct {
	Status    CaptureStatus
	CaptureID string
	Amount    decimal.Decimal
	Currency  string
	Reason    string // processor message when declined
}

func (r *CaptureResult) Completed() bool {
	return r.Status == CaptureCompleted
}

// PaymentGateway is the external payment provider. Authorize reserves the
// funds or creates a payment the buyer approves; Capture settles it.
// Transport failures and timeouts are returned wrapping model.ErrGatewayUnavailable;
// a decline is a result, not an error.
type PaymentGateway interface {
	Name() string
	Authorize(ctx context.Context, req *AuthorizeRequest) (*Approval, error)
	Capture(ctx context.Context, reference string) (*CaptureResult, error)
}

func gatewayUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrGatewayUnavailable, op, err)
}
