package repository

import (
	"context"
	"errors"
	"fmt"

	"gameshop-fulfillment/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductRepository interface {
	Seed(ctx context.Context, currency string) error
	Create(ctx context.Context, product *model.Product) error
	FindByID(ctx context.Context, productID string) (*model.Product, error)
	FindMany(ctx context.Context, productIDs []string) ([]*model.Product, error)
	Snapshots(ctx context.Context, productIDs []string) (map[string]model.PriceSnapshot, error)
}

type productRepoImpl struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepoImpl{
		db: db,
	}
}

func (r *productRepoImpl) Seed(ctx context.Context, currency string) error {
	products := []model.Product{
		{ID: "SKU10001", Name: "Starfall Odyssey", Price: decimal.RequireFromString("19.99"), Shipping: decimal.Zero, Currency: currency, VendorID: "vendor-nova"},
		{ID: "SKU10002", Name: "Iron Harbor", Price: decimal.RequireFromString("39.99"), Shipping: decimal.Zero, Currency: currency, VendorID: "vendor-nova"},
		{ID: "SKU10003", Name: "Pixel Drift Deluxe", Price: decimal.RequireFromString("9.49"), Shipping: decimal.Zero, Currency: currency, VendorID: "vendor-arcade"},
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&products).Error
}

func (r *productRepoImpl) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *productRepoImpl) FindByID(ctx context.Context, productID string) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).
		Where("id = ?", productID).
		First(&product).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", model.ErrProductNotFound, productID)
		}
		return nil, err
	}

	return &product, nil
}

func (r *productRepoImpl) FindMany(ctx context.Context, productIDs []string) ([]*model.Product, error) {
	var products []*model.Product
	err := r.db.WithContext(ctx).
		Where("id IN ?", productIDs).
		Find(&products).
		Error

	if err != nil {
		return nil, err
	}

	return products, nil
}

// Snapshots returns the price snapshot of every product found; unknown ids are
// simply absent from the map.
func (r *productRepoImpl) Snapshots(ctx context.Context, productIDs []string) (map[string]model.PriceSnapshot, error) {
	products, err := r.FindMany(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	snapshots := make(map[string]model.PriceSnapshot, len(products))
	for _, p := range products {
		snapshots[p.ID] = p.Snapshot()
	}
	return snapshots, nil
}
