package model

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// MoneyTolerance is the rounding slack allowed when comparing monetary amounts.
var MoneyTolerance = decimal.RequireFromString("0.01")

// AmountsMatch reports whether a and b differ by at most one cent.
func AmountsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(MoneyTolerance)
}

// ValidateTotals checks total == sub_total + shipping + tax + service_fee.
func (o *Order) ValidateTotals() error {
	sum := o.SubTotal.Add(o.Shipping).Add(o.Tax).Add(o.ServiceFee)
	if !AmountsMatch(sum, o.Total) {
		return fmt.Errorf("%w: components sum to %s, total is %s",
			ErrInconsistentTotals, sum.StringFixed(2), o.Total.StringFixed(2))
	}
	return nil
}

// MarkPaid moves a Processing payment to Paid. It is not idempotent: calling it
// on a Paid order is an error.
func (o *Order) MarkPaid(reference string) error {
	if o.PaymentStatus != PaymentProcessing {
		return fmt.Errorf("%w: mark paid from %s", ErrInvalidTransition, o.PaymentStatus)
	}
	o.PaymentStatus = PaymentPaid
	if reference != "" {
		o.PaymentReference = &reference
	}
	if o.OrderStatus == OrderPending {
		o.OrderStatus = OrderProcessing
	}
	o.FailureReason = ""
	return nil
}

func (o *Order) MarkFailed(reason string) error {
	if o.PaymentStatus != PaymentProcessing {
		return fmt.Errorf("%w: mark failed from %s", ErrInvalidTransition, o.PaymentStatus)
	}
	o.PaymentStatus = PaymentFailed
	o.FailureReason = reason
	return nil
}

// Cancel closes an order the buyer abandoned before paying. Only an order
// that has not been paid, failed or started fulfillment can be canceled.
func (o *Order) Cancel(reason string) error {
	if o.PaymentStatus != PaymentProcessing || o.OrderStatus != OrderPending {
		return fmt.Errorf("%w: cancel %s/%s order", ErrInvalidTransition, o.PaymentStatus, o.OrderStatus)
	}
	o.PaymentStatus = PaymentFailed
	o.OrderStatus = OrderCanceled
	o.FailureReason = reason
	return nil
}

// FulfillLine binds sold keys to a line. Once every line holds as many sold keys
// as its quantity the order becomes Fulfilled.
func (o *Order) FulfillLine(lineID uint, keys []GameKey) error {
	if o.PaymentStatus != PaymentPaid {
		return fmt.Errorf("%w: fulfill line of %s order", ErrInvalidTransition, o.PaymentStatus)
	}
	if o.OrderStatus != OrderProcessing {
		return fmt.Errorf("%w: fulfill line of %s order", ErrInvalidTransition, o.OrderStatus)
	}

	line := o.line(lineID)
	if line == nil {
		return fmt.Errorf("%w: line %d not in order %s", ErrInvalidTransition, lineID, o.Code)
	}
	for _, k := range keys {
		if k.Status != KeySold || k.OrderLineID == nil || *k.OrderLineID != lineID {
			return fmt.Errorf("%w: key %d not sold to line %d", ErrInvalidKeyState, k.ID, lineID)
		}
	}
	line.Keys = keys

	if o.IsFulfilled() {
		o.OrderStatus = OrderFulfilled
	}
	return nil
}

// IsFulfilled reports whether every line has a sold key per unit.
func (o *Order) IsFulfilled() bool {
	if len(o.Lines) == 0 {
		return false
	}
	for _, l := range o.Lines {
		if len(l.Keys) != l.Quantity {
			return false
		}
	}
	return true
}

// Vendors is derived from the lines on every call.
func (o *Order) Vendors() []string {
	seen := make(map[string]struct{}, len(o.Lines))
	vendors := make([]string, 0, len(o.Lines))
	for _, l := range o.Lines {
		if l.VendorID == "" {
			continue
		}
		if _, ok := seen[l.VendorID]; ok {
			continue
		}
		seen[l.VendorID] = struct{}{}
		vendors = append(vendors, l.VendorID)
	}
	sort.Strings(vendors)
	return vendors
}

func (o *Order) Reference() string {
	if o.PaymentReference == nil {
		return ""
	}
	return *o.PaymentReference
}

func (o *Order) line(id uint) *OrderLine {
	for i := range o.Lines {
		if o.Lines[i].ID == id {
			return &o.Lines[i]
		}
	}
	return nil
}
