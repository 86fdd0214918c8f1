package service

import (
	"context"

	"gameshop-fulfillment/internal/dto"
	"gameshop-fulfillment/internal/repository"
)

// CustomerService exposes what a customer already owns.
type CustomerService interface {
	GetLibrary(ctx context.Context, customerID string) ([]*dto.OwnedKey, error)
}

type customerServiceImpl struct {
	keyRepo repository.KeyPoolRepository
}

func NewCustomerService(
	keyRepo repository.KeyPoolRepository,
) CustomerService {
	return &customerServiceImpl{
		keyRepo: keyRepo,
	}
}

func (s *customerServiceImpl) GetLibrary(ctx context.Context, customerID string) ([]*dto.OwnedKey, error) {
	keys, err := s.keyRepo.ListSoldByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	library := make([]*dto.OwnedKey, len(keys))
	for i, k := range keys {
		library[i] = &dto.OwnedKey{
			OrderCode: k.OrderCode,
			KeyAssignment: dto.KeyAssignment{
				LineID:      k.LineID,
				ProductID:   k.ProductID,
				ProductName: k.ProductName,
				KeyID:       k.KeyID,
				Secret:      k.Secret,
			},
			SoldAt: k.SoldAt,
		}
	}
	return library, nil
}
