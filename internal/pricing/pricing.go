// Package pricing turns cart lines and catalog snapshots into order totals.
package pricing

import (
	"fmt"

	"gameshop-fulfillment/internal/model"

	"github.com/shopspring/decimal"
)

const places = 2

var (
	DefaultTaxRate        = decimal.RequireFromString("0.10")
	DefaultServiceFeeRate = decimal.RequireFromString("0.05")
)

type LineInput struct {
	ProductID string
	Quantity  int
}

type PricedLine struct {
	Snapshot     model.PriceSnapshot
	Quantity     int
	SubTotal     decimal.Decimal
	ShippingCost decimal.Decimal
}

type PricedOrder struct {
	Lines      []PricedLine
	SubTotal   decimal.Decimal
	Shipping   decimal.Decimal
	Tax        decimal.Decimal
	ServiceFee decimal.Decimal
	Total      decimal.Decimal
}

type Engine struct {
	TaxRate        decimal.Decimal
	ServiceFeeRate decimal.Decimal
}

func NewEngine(taxRate, serviceFeeRate decimal.Decimal) *Engine {
	return &Engine{
		TaxRate:        taxRate,
		ServiceFeeRate: serviceFeeRate,
	}
}

// NewEngineFromStrings parses rates as configured in the environment.
func NewEngineFromStrings(taxRate, serviceFeeRate string) (*Engine, error) {
	tax, err := decimal.NewFromString(taxRate)
	if err != nil {
		return nil, fmt.Errorf("parse tax rate %q: %w", taxRate, err)
	}
	fee, err := decimal.NewFromString(serviceFeeRate)
	if err != nil {
		return nil, fmt.Errorf("parse service fee rate %q: %w", serviceFeeRate, err)
	}
	if tax.IsNegative() || fee.IsNegative() {
		return nil, fmt.Errorf("pricing rates must not be negative")
	}
	return NewEngine(tax, fee), nil
}

// Price computes the totals of lines against catalog. Every amount is rounded
// half-to-even to cents before it is summed.
func (e *Engine) Price(lines []LineInput, catalog map[string]model.PriceSnapshot) (*PricedOrder, error) {
	if len(lines) == 0 {
		return nil, model.ErrEmptyOrder
	}

	out := &PricedOrder{
		Lines:    make([]PricedLine, 0, len(lines)),
		SubTotal: decimal.Zero,
		Shipping: decimal.Zero,
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, &model.InvalidLineError{ProductID: l.ProductID, Quantity: l.Quantity, Reason: "quantity must be positive"}
		}
		snap, ok := catalog[l.ProductID]
		if !ok {
			return nil, &model.InvalidLineError{ProductID: l.ProductID, Quantity: l.Quantity, Reason: "unknown product"}
		}
		if snap.UnitPrice.IsNegative() || snap.UnitShipping.IsNegative() {
			return nil, &model.InvalidLineError{ProductID: l.ProductID, Quantity: l.Quantity, Reason: "negative price"}
		}

		qty := decimal.NewFromInt(int64(l.Quantity))
		line := PricedLine{
			Snapshot:     snap,
			Quantity:     l.Quantity,
			SubTotal:     snap.UnitPrice.Mul(qty).RoundBank(places),
			ShippingCost: snap.UnitShipping.Mul(qty).RoundBank(places),
		}
		out.Lines = append(out.Lines, line)
		out.SubTotal = out.SubTotal.Add(line.SubTotal)
		out.Shipping = out.Shipping.Add(line.ShippingCost)
	}

	out.Tax = out.SubTotal.Mul(e.TaxRate).RoundBank(places)
	out.ServiceFee = out.SubTotal.Mul(e.ServiceFeeRate).RoundBank(places)
	out.Total = out.SubTotal.Add(out.Shipping).Add(out.Tax).Add(out.ServiceFee).RoundBank(places)
	return out, nil
}
