package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentProcessing PaymentStatus = "Processing"
	PaymentPaid       PaymentStatus = "Paid"
	PaymentFailed     PaymentStatus = "Failed"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "Pending"
	OrderProcessing OrderStatus = "Processing"
	OrderFulfilled  OrderStatus = "Fulfilled"
	OrderCanceled   OrderStatus = "Canceled"
)

type KeyStatus string

const (
	KeyAvailable KeyStatus = "available"
	KeyReserved  KeyStatus = "reserved"
	KeySold      KeyStatus = "sold"
)

type Product struct {
	ID        string          `gorm:"primaryKey;size:64;not null"` // product sku
	Name      string          `gorm:"size:255;not null"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Shipping  decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency  string          `gorm:"size:8;not null"`
	VendorID  string          `gorm:"size:64;index"`
	CreatedAt time.Time
}

// Snapshot copies the values an order is priced with.
func (p *Product) Snapshot() PriceSnapshot {
	return PriceSnapshot{
		ProductID:    p.ID,
		Name:         p.Name,
		UnitPrice:    p.Price,
		UnitShipping: p.Shipping,
		Currency:     p.Currency,
		VendorID:     p.VendorID,
	}
}

// PriceSnapshot is the immutable catalog data captured when an order is created.
type PriceSnapshot struct {
	ProductID    string
	Name         string
	UnitPrice    decimal.Decimal
	UnitShipping decimal.Decimal
	Currency     string
	VendorID     string
}

type Order struct {
	ID               uint            `gorm:"primaryKey"`
	Code             string          `gorm:"size:64;uniqueIndex;not null"` // public order code
	CustomerID       string          `gorm:"size:64;index;not null"`
	CustomerEmail    string          `gorm:"size:255"`
	SubTotal         decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Shipping         decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Tax              decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	ServiceFee       decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Total            decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency         string          `gorm:"size:8;not null"`
	PaymentStatus    PaymentStatus   `gorm:"size:32;index;not null"`
	OrderStatus      OrderStatus     `gorm:"size:32;index;not null"`
	PaymentMethod    string          `gorm:"size:32"`
	PaymentReference *string         `gorm:"size:128;index"` // gateway approval / order id
	ApprovalURL      string          `gorm:"size:512"`
	FailureReason    string          `gorm:"size:512"`
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Lines []OrderLine `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

type OrderLine struct {
	ID           uint            `gorm:"primaryKey"`
	OrderID      uint            `gorm:"index;not null"`
	ProductID    string          `gorm:"size:64;index;not null"`
	ProductName  string          `gorm:"size:255"`
	VendorID     string          `gorm:"size:64"`
	Quantity     int             `gorm:"not null;check:quantity > 0"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	UnitShipping decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	SubTotal     decimal.Decimal `gorm:"type:decimal(12,2);not null"`

	// Keys bound to this line; populated by fulfillment, never persisted through the line.
	Keys []GameKey `gorm:"-"`
}

type GameKey struct {
	ID          uint      `gorm:"primaryKey"`
	ProductID   string    `gorm:"size:64;not null;index:idx_game_keys_pool,priority:1"`
	Secret      string    `gorm:"size:255;uniqueIndex;not null"`
	Status      KeyStatus `gorm:"size:16;not null;index:idx_game_keys_pool,priority:2"`
	OrderID     *uint     `gorm:"index"`
	OrderLineID *uint     `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentEvent records a confirmation event that has been applied to an order.
type PaymentEvent struct {
	TransactionID string `gorm:"primaryKey;size:128;not null"`
	OrderID       uint   `gorm:"index;not null"`
	ProcessedAt   time.Time
	CreatedAt     time.Time
}
