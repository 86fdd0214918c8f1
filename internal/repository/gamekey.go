package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gameshop-fulfillment/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyPoolRepository manages the per-product pool of activation keys.
// Every status change is a compare-and-swap on the current status, so
// concurrent callers can never move the same key twice.
type KeyPoolRepository interface {
	Stock(ctx context.Context, productID string, secrets []string) error
	Reserve(ctx context.Context, tx *gorm.DB, productID string, orderID uint) (*model.GameKey, error)
	ConfirmSale(ctx context.Context, tx *gorm.DB, keyID uint, line *model.OrderLine) error
	Release(ctx context.Context, tx *gorm.DB, keyID uint) error
	CountAvailable(ctx context.Context, productID string) (int64, error)
	ListSoldByOrder(ctx context.Context, tx *gorm.DB, orderID uint) ([]*model.GameKey, error)
	ListSoldByCustomer(ctx context.Context, customerID string) ([]*OwnedKey, error)
}

type keyPoolRepoImpl struct {
	db *gorm.DB
}

func NewKeyPoolRepository(db *gorm.DB) KeyPoolRepository {
	return &keyPoolRepoImpl{
		db: db,
	}
}

func (r *keyPoolRepoImpl) Stock(ctx context.Context, productID string, secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}

	keys := make([]*model.GameKey, len(secrets))
	for i, s := range secrets {
		keys[i] = &model.GameKey{
			ProductID: productID,
			Secret:    s,
			Status:    model.KeyAvailable,
		}
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "secret"}}, DoNothing: true}).
		Create(&keys).Error
}

// maxReserveAttempts bounds how often Reserve retries after losing a key to
// a concurrent reservation.
const maxReserveAttempts = 16

// Reserve picks the oldest available key of the product and binds it to the order.
// On MySQL the candidate is read with FOR UPDATE SKIP LOCKED, so the read sees
// the latest committed rows and skips keys another transaction is claiming.
func (r *keyPoolRepoImpl) Reserve(ctx context.Context, tx *gorm.DB, productID string, orderID uint) (*model.GameKey, error) {
	db := r.conn(tx).WithContext(ctx)

	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		query := db.
			Where("product_id = ? AND status = ?", productID, model.KeyAvailable).
			Order("created_at ASC, id ASC")
		if db.Dialector.Name() == "mysql" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidate model.GameKey
		err := query.Take(&candidate).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &model.KeyUnavailableError{ProductID: productID}
			}
			return nil, fmt.Errorf("select available key: %w", err)
		}

		now := time.Now()
		result := db.Model(&model.GameKey{}).
			Where("id = ? AND status = ?", candidate.ID, model.KeyAvailable).
			Updates(map[string]interface{}{
				"status":     model.KeyReserved,
				"order_id":   orderID,
				"updated_at": now,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("reserve key %d: %w", candidate.ID, result.Error)
		}
		if result.RowsAffected == 1 {
			candidate.Status = model.KeyReserved
			candidate.OrderID = &orderID
			candidate.UpdatedAt = now
			return &candidate, nil
		}
		// lost the race for this key, someone else reserved it; try the next one
	}

	return nil, fmt.Errorf("%w: reserve %s: still contended after %d attempts",
		model.ErrReserveContention, productID, maxReserveAttempts)
}

// ConfirmSale moves a key reserved by the line's order to sold and binds it to the line.
func (r *keyPoolRepoImpl) ConfirmSale(ctx context.Context, tx *gorm.DB, keyID uint, line *model.OrderLine) error {
	lineID := line.ID
	result := r.conn(tx).WithContext(ctx).Model(&model.GameKey{}).
		Where("id = ? AND status = ? AND order_id = ?", keyID, model.KeyReserved, line.OrderID).
		Updates(map[string]interface{}{
			"status":        model.KeySold,
			"order_line_id": lineID,
			"updated_at":    time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("confirm sale of key %d: %w", keyID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: key %d is not reserved by order %d", model.ErrInvalidKeyState, keyID, line.OrderID)
	}
	return nil
}

// Release returns a reserved key to the pool. Sold keys are left untouched.
func (r *keyPoolRepoImpl) Release(ctx context.Context, tx *gorm.DB, keyID uint) error {
	return r.conn(tx).WithContext(ctx).Model(&model.GameKey{}).
		Where("id = ? AND status = ?", keyID, model.KeyReserved).
		Updates(map[string]interface{}{
			"status":        model.KeyAvailable,
			"order_id":      nil,
			"order_line_id": nil,
			"updated_at":    time.Now(),
		}).Error
}

func (r *keyPoolRepoImpl) CountAvailable(ctx context.Context, productID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.GameKey{}).
		Where("product_id = ? AND status = ?", productID, model.KeyAvailable).
		Count(&count).Error

	return count, err
}

func (r *keyPoolRepoImpl) ListSoldByOrder(ctx context.Context, tx *gorm.DB, orderID uint) ([]*model.GameKey, error) {
	var keys []*model.GameKey
	err := r.conn(tx).WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, model.KeySold).
		Order("order_line_id ASC, id ASC").
		Find(&keys).Error

	if err != nil {
		return nil, err
	}

	return keys, nil
}

// OwnedKey is a sold key together with the order line it was delivered on.
type OwnedKey struct {
	KeyID       uint
	Secret      string
	ProductID   string
	ProductName string
	LineID      uint
	OrderCode   string
	SoldAt      time.Time
}

// ListSoldByCustomer returns every key delivered to the customer, newest first.
func (r *keyPoolRepoImpl) ListSoldByCustomer(ctx context.Context, customerID string) ([]*OwnedKey, error) {
	var keys []*OwnedKey
	err := r.db.WithContext(ctx).
		Table("game_keys").
		Select(`game_keys.id AS key_id, game_keys.secret, game_keys.product_id,
			order_lines.product_name, order_lines.id AS line_id,
			orders.code AS order_code, game_keys.updated_at AS sold_at`).
		Joins("JOIN orders ON orders.id = game_keys.order_id").
		Joins("JOIN order_lines ON order_lines.id = game_keys.order_line_id").
		Where("orders.customer_id = ? AND game_keys.status = ?", customerID, model.KeySold).
		Order("game_keys.updated_at DESC, game_keys.id DESC").
		Scan(&keys).Error

	if err != nil {
		return nil, err
	}

	return keys, nil
}

func (r *keyPoolRepoImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
