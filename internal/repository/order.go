package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gameshop-fulfillment/internal/model"

	"gorm.io/gorm"
)

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	FindByCode(ctx context.Context, tx *gorm.DB, code string) (*model.Order, error)
	FindByPaymentReference(ctx context.Context, reference string) (*model.Order, error)
	SetPaymentReference(ctx context.Context, tx *gorm.DB, order *model.Order) error
	MarkPaid(ctx context.Context, tx *gorm.DB, order *model.Order) error
	MarkFailed(ctx context.Context, tx *gorm.DB, order *model.Order) error
	UpdateOrderStatus(ctx context.Context, tx *gorm.DB, order *model.Order) error
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

// Create persists the order together with its lines.
func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	if err := order.ValidateTotals(); err != nil {
		return err
	}
	return r.conn(tx).WithContext(ctx).Create(order).Error
}

func (r *orderRepoImpl) FindByCode(ctx context.Context, tx *gorm.DB, code string) (*model.Order, error) {
	var order model.Order
	err := r.conn(tx).WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_lines.id ASC")
		}).
		Where("code = ?", code).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", model.ErrOrderNotFound, code)
		}
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) FindByPaymentReference(ctx context.Context, reference string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("payment_reference = ?", reference).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: payment reference %s", model.ErrOrderNotFound, reference)
		}
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) SetPaymentReference(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	result := r.conn(tx).WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND payment_status = ?", order.ID, model.PaymentProcessing).
		Updates(map[string]interface{}{
			"payment_reference": order.PaymentReference,
			"approval_url":      order.ApprovalURL,
			"updated_at":        time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: order %s is no longer processing", model.ErrInvalidTransition, order.Code)
	}
	return nil
}

// MarkPaid writes the Paid transition only if the stored row is still
// Processing, so two writers racing on the same order cannot both win.
func (r *orderRepoImpl) MarkPaid(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return r.transition(ctx, tx, order, map[string]interface{}{
		"payment_status":    order.PaymentStatus,
		"order_status":      order.OrderStatus,
		"payment_reference": order.PaymentReference,
		"failure_reason":    "",
		"updated_at":        time.Now(),
	})
}

// MarkFailed also stores the order status, so a cancellation is written the same way.
func (r *orderRepoImpl) MarkFailed(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return r.transition(ctx, tx, order, map[string]interface{}{
		"payment_status": order.PaymentStatus,
		"order_status":   order.OrderStatus,
		"failure_reason": order.FailureReason,
		"updated_at":     time.Now(),
	})
}

func (r *orderRepoImpl) UpdateOrderStatus(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	result := r.conn(tx).WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"order_status": order.OrderStatus,
			"updated_at":   time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", model.ErrOrderNotFound, order.Code)
	}
	return nil
}

func (r *orderRepoImpl) transition(ctx context.Context, tx *gorm.DB, order *model.Order, updates map[string]interface{}) error {
	result := r.conn(tx).WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND payment_status = ?", order.ID, model.PaymentProcessing).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: order %s is no longer processing", model.ErrInvalidTransition, order.Code)
	}
	return nil
}

func (r *orderRepoImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
