package dto

import (
	"time"

	"gameshop-fulfillment/internal/model"

	"github.com/shopspring/decimal"
)

type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	Items        []*Item `json:"items"`
	PaymentToken string  `json:"payment_token"`
}

// Customer is the authenticated buyer, taken from request headers.
type Customer struct {
	ID    string
	Email string
}

type CreateOrderResponse struct {
	Order    *Order    `json:"order"`
	Approval *Approval `json:"approval,omitempty"`
}

type Approval struct {
	OrderCode   string `json:"order_code"`
	Reference   string `json:"reference"`
	ApprovalURL string `json:"approval_url,omitempty"`
}

type ConfirmRequest struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

type OrderLine struct {
	ID           uint   `json:"id"`
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	VendorID     string `json:"vendor_id"`
	Quantity     int    `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	UnitShipping string `json:"unit_shipping"`
	SubTotal     string `json:"sub_total"`
}

type Order struct {
	Code          string      `json:"code"`
	CustomerID    string      `json:"customer_id"`
	SubTotal      string      `json:"sub_total"`
	Shipping      string      `json:"shipping"`
	Tax           string      `json:"tax"`
	ServiceFee    string      `json:"service_fee"`
	Total         string      `json:"total"`
	Currency      string      `json:"currency"`
	PaymentStatus string      `json:"payment_status"`
	OrderStatus   string      `json:"order_status"`
	PaymentMethod string      `json:"payment_method,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
	Vendors       []string    `json:"vendors"`
	Lines         []OrderLine `json:"lines"`
	CreatedAt     time.Time   `json:"created_at"`
}

func NewOrder(o *model.Order) *Order {
	lines := make([]OrderLine, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = OrderLine{
			ID:           l.ID,
			ProductID:    l.ProductID,
			ProductName:  l.ProductName,
			VendorID:     l.VendorID,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice.StringFixed(2),
			UnitShipping: l.UnitShipping.StringFixed(2),
			SubTotal:     l.SubTotal.StringFixed(2),
		}
	}

	return &Order{
		Code:          o.Code,
		CustomerID:    o.CustomerID,
		SubTotal:      o.SubTotal.StringFixed(2),
		Shipping:      o.Shipping.StringFixed(2),
		Tax:           o.Tax.StringFixed(2),
		ServiceFee:    o.ServiceFee.StringFixed(2),
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
		PaymentStatus: string(o.PaymentStatus),
		OrderStatus:   string(o.OrderStatus),
		PaymentMethod: o.PaymentMethod,
		FailureReason: o.FailureReason,
		Vendors:       o.Vendors(),
		Lines:         lines,
		CreatedAt:     o.CreatedAt,
	}
}

type KeyAssignment struct {
	LineID      uint   `json:"line_id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	KeyID       uint   `json:"key_id"`
	Secret      string `json:"secret"`
}

// OwnedKey is a delivered key as shown in the customer's library.
type OwnedKey struct {
	OrderCode string `json:"order_code"`
	KeyAssignment
	SoldAt time.Time `json:"sold_at"`
}

// FulfillmentResult is the outcome of a payment confirmation.
type FulfillmentResult struct {
	OrderCode           string          `json:"order_code"`
	PaymentStatus       string          `json:"payment_status"`
	OrderStatus         string          `json:"order_status"`
	Success             bool            `json:"success"`
	Reason              string          `json:"reason,omitempty"`
	Keys                []KeyAssignment `json:"keys"`
	UnavailableProducts []string        `json:"unavailable_products,omitempty"`
}

type StockResponse struct {
	ProductID string `json:"product_id"`
	Available int64  `json:"available"`
}

type ErrorResponse struct {
	Error  string             `json:"error"`
	Order  *Order             `json:"order,omitempty"`
	Result *FulfillmentResult `json:"result,omitempty"`
}
