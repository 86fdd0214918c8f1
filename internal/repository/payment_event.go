package repository

import (
	"context"
	"time"

	"gameshop-fulfillment/internal/model"

	"gorm.io/gorm"
)

type PaymentEventRepository interface {
	Exists(ctx context.Context, tx *gorm.DB, transactionID string) (bool, error)
	MarkProcessed(ctx context.Context, tx *gorm.DB, transactionID string, orderID uint) error
}

type paymentEventRepositoryImpl struct {
	db *gorm.DB
}

func NewPaymentEventRepository(db *gorm.DB) PaymentEventRepository {
	return &paymentEventRepositoryImpl{db: db}
}

func (r *paymentEventRepositoryImpl) Exists(ctx context.Context, tx *gorm.DB, transactionID string) (bool, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).Model(&model.PaymentEvent{}).
		Where("transaction_id = ?", transactionID).
		Count(&count).Error

	return count > 0, err
}

func (r *paymentEventRepositoryImpl) MarkProcessed(ctx context.Context, tx *gorm.DB, transactionID string, orderID uint) error {
	return r.conn(tx).WithContext(ctx).Create(&model.PaymentEvent{
		TransactionID: transactionID,
		OrderID:       orderID,
		ProcessedAt:   time.Now(),
	}).Error
}

func (r *paymentEventRepositoryImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
