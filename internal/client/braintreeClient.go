package client

import (
	"context"
	"errors"
	"fmt"

	"gameshop-fulfillment/internal/config"
	"gameshop-fulfillment/internal/model"

	"github.com/braintree-go/braintree-go"
	"github.com/shopspring/decimal"
)

type braintreeClientImpl struct {
	gateway *braintree.Braintree
}

// NewBraintreeClient initializes the Braintree SDK gateway. Authorize runs a
// sale without settlement against the vaulted token; Capture submits it for settlement.
func NewBraintreeClient(cfg *config.Braintree) PaymentGateway {
	env := braintree.Sandbox
	if cfg.Environment == "production" {
		env = braintree.Production
	}

	gateway := braintree.New(
		env,
		cfg.MerchantID,
		cfg.PublicKey,
		cfg.PrivateKey,
	)

	return &braintreeClientImpl{
		gateway: gateway,
	}
}

func (c *braintreeClientImpl) Name() string {
	return "braintree"
}

func (c *braintreeClientImpl) Authorize(ctx context.Context, r *AuthorizeRequest) (*Approval, error) {
	if r.PaymentToken == "" {
		return nil, fmt.Errorf("%w: braintree requires a payment token", model.ErrMissingPaymentRef)
	}

	req := &braintree.TransactionRequest{
		Type:               "sale",
		Amount:             toBraintreeDecimal(r.Amount),
		OrderId:            r.OrderCode,
		PaymentMethodToken: r.PaymentToken,
		Options: &braintree.TransactionOptions{
			SubmitForSettlement: false, // captured on confirmation
		},
	}

	tx, err := c.gateway.Transaction().Create(ctx, req)
	if err != nil {
		var btErr *braintree.BraintreeError
		if errors.As(err, &btErr) {
			return nil, fmt.Errorf("%w: %s", model.ErrPaymentDeclined, btErr.Error())
		}
		return nil, gatewayUnavailable("braintree authorize", err)
	}

	if tx.Status == braintree.TransactionStatusProcessorDeclined || tx.Status == braintree.TransactionStatusGatewayRejected {
		return nil, fmt.Errorf("%w: %s", model.ErrPaymentDeclined, tx.ProcessorResponseText)
	}

	return &Approval{Reference: tx.Id}, nil
}

func (c *braintreeClientImpl) Capture(ctx context.Context, transactionID string) (*CaptureResult, error) {
	tx, err := c.gateway.Transaction().SubmitForSettlement(ctx, transactionID)
	if err != nil {
		var btErr *braintree.BraintreeError
		if !errors.As(err, &btErr) {
			return nil, gatewayUnavailable("braintree capture", err)
		}

		// already submitted by an earlier attempt: report the stored outcome
		existing, findErr := c.gateway.Transaction().Find(ctx, transactionID)
		if findErr != nil {
			return nil, gatewayUnavailable("braintree find", findErr)
		}
		if !settled(existing.Status) {
			return &CaptureResult{Status: CaptureDeclined, CaptureID: transactionID, Reason: btErr.Error()}, nil
		}
		tx = existing
	}

	result := &CaptureResult{
		CaptureID: tx.Id,
		Amount:    fromBraintreeDecimal(tx.Amount),
		Currency:  tx.CurrencyISOCode,
	}
	if settled(tx.Status) {
		result.Status = CaptureCompleted
	} else {
		result.Status = CaptureDeclined
		result.Reason = string(tx.Status)
		if tx.ProcessorResponseText != "" {
			result.Reason = tx.ProcessorResponseText
		}
	}
	return result, nil
}

func settled(status braintree.TransactionStatus) bool {
	switch status {
	case braintree.TransactionStatusSubmittedForSettlement,
		braintree.TransactionStatusSettling,
		braintree.TransactionStatusSettled:
		return true
	}
	return false
}

// Braintree expects NewDecimal(unscaled, scale). For 2 decimal places (like USD):
// "50.00" * 100 = 5000 -> braintree.NewDecimal(5000, 2)
func toBraintreeDecimal(d decimal.Decimal) *braintree.Decimal {
	cents := d.RoundBank(2).Mul(decimal.NewFromInt(100)).IntPart()
	return braintree.NewDecimal(cents, 2)
}

func fromBraintreeDecimal(d *braintree.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return decimal.New(d.Unscaled, -int32(d.Scale))
}
