package service

import (
	"context"
	"errors"
	"fmt"

	"gameshop-fulfillment/internal/dto"
	"gameshop-fulfillment/internal/model"
	"gameshop-fulfillment/internal/pricing"
	"gameshop-fulfillment/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type OrderService interface {
	Checkout(ctx context.Context, customer dto.Customer, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error)
	ResumePayment(ctx context.Context, customerID, orderCode, paymentToken string) (*dto.Approval, error)
	CancelOrder(ctx context.Context, customerID, orderCode string) (*dto.Order, error)
	GetOrder(ctx context.Context, customerID, orderCode string) (*dto.Order, error)
	AvailableStock(ctx context.Context, productID string) (*dto.StockResponse, error)
}

type orderServiceImpl struct {
	db             *gorm.DB
	engine         *pricing.Engine
	currency       string
	paymentMethod  string
	productRepo    repository.ProductRepository
	orderRepo      repository.OrderRepository
	keyRepo        repository.KeyPoolRepository
	paymentService PaymentService
	logger         *zap.Logger
}

func NewOrderService(
	db *gorm.DB,
	engine *pricing.Engine,
	currency string,
	paymentMethod string,
	productRepo repository.ProductRepository,
	orderRepo repository.OrderRepository,
	keyRepo repository.KeyPoolRepository,
	paymentService PaymentService,
	logger *zap.Logger,
) OrderService {
	return &orderServiceImpl{
		db:             db,
		engine:         engine,
		currency:       currency,
		paymentMethod:  paymentMethod,
		productRepo:    productRepo,
		orderRepo:      orderRepo,
		keyRepo:        keyRepo,
		paymentService: paymentService,
		logger:         logger.Named("order"),
	}
}

// Checkout prices the cart against the current catalog, stores the order as
// Processing/Pending and asks the gateway for an approval. If the gateway is
// unreachable the order is still returned together with the error, so the
// caller can resume the payment later.
func (s *orderServiceImpl) Checkout(ctx context.Context, customer dto.Customer, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error) {
	if customer.ID == "" {
		return nil, errors.New("checkout requires a customer")
	}

	lines := make([]pricing.LineInput, len(req.Items))
	productIDs := make([]string, 0, len(req.Items))
	for i, item := range req.Items {
		if item == nil {
			return nil, &model.InvalidLineError{Reason: "empty line"}
		}
		lines[i] = pricing.LineInput{ProductID: item.ProductID, Quantity: item.Quantity}
		productIDs = append(productIDs, item.ProductID)
	}

	catalog, err := s.productRepo.Snapshots(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("load price snapshots: %w", err)
	}

	for _, l := range lines {
		snap, ok := catalog[l.ProductID]
		if ok && snap.Currency != s.currency {
			return nil, &model.InvalidLineError{
				ProductID: l.ProductID,
				Quantity:  l.Quantity,
				Reason:    fmt.Sprintf("priced in %s, orders are settled in %s", snap.Currency, s.currency),
			}
		}
	}

	priced, err := s.engine.Price(lines, catalog)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		Code:          uuid.NewString(),
		CustomerID:    customer.ID,
		CustomerEmail: customer.Email,
		SubTotal:      priced.SubTotal,
		Shipping:      priced.Shipping,
		Tax:           priced.Tax,
		ServiceFee:    priced.ServiceFee,
		Total:         priced.Total,
		Currency:      s.currency,
		PaymentStatus: model.PaymentProcessing,
		OrderStatus:   model.OrderPending,
		PaymentMethod: s.paymentMethod,
		Lines:         make([]model.OrderLine, len(priced.Lines)),
	}
	for i, pl := range priced.Lines {
		order.Lines[i] = model.OrderLine{
			ProductID:    pl.Snapshot.ProductID,
			ProductName:  pl.Snapshot.Name,
			VendorID:     pl.Snapshot.VendorID,
			Quantity:     pl.Quantity,
			UnitPrice:    pl.Snapshot.UnitPrice,
			UnitShipping: pl.Snapshot.UnitShipping,
			SubTotal:     pl.SubTotal,
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("store order in db: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("order_code", order.Code),
		zap.String("customer_id", order.CustomerID),
		zap.String("total", order.Total.StringFixed(2)),
	)

	resp := &dto.CreateOrderResponse{Order: dto.NewOrder(order)}

	approval, err := s.paymentService.Initiate(ctx, order, req.PaymentToken)
	if err != nil {
		return resp, err
	}
	resp.Approval = approval

	return resp, nil
}

func (s *orderServiceImpl) ResumePayment(ctx context.Context, customerID, orderCode, paymentToken string) (*dto.Approval, error) {
	order, err := s.findOwned(ctx, customerID, orderCode)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == model.PaymentFailed {
		return nil, fmt.Errorf("%w: %s", model.ErrOrderClosed, order.FailureReason)
	}

	return s.paymentService.Initiate(ctx, order, paymentToken)
}

func (s *orderServiceImpl) CancelOrder(ctx context.Context, customerID, orderCode string) (*dto.Order, error) {
	if _, err := s.findOwned(ctx, customerID, orderCode); err != nil {
		return nil, err
	}

	return s.paymentService.Cancel(ctx, orderCode, "canceled by customer")
}

func (s *orderServiceImpl) GetOrder(ctx context.Context, customerID, orderCode string) (*dto.Order, error) {
	order, err := s.findOwned(ctx, customerID, orderCode)
	if err != nil {
		return nil, err
	}
	return dto.NewOrder(order), nil
}

// findOwned treats an order of another customer as unknown, so its existence
// does not leak.
func (s *orderServiceImpl) findOwned(ctx context.Context, customerID, orderCode string) (*model.Order, error) {
	order, err := s.orderRepo.FindByCode(ctx, nil, orderCode)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, fmt.Errorf("%w: %s", model.ErrOrderNotFound, orderCode)
	}
	return order, nil
}

func (s *orderServiceImpl) AvailableStock(ctx context.Context, productID string) (*dto.StockResponse, error) {
	if _, err := s.productRepo.FindByID(ctx, productID); err != nil {
		return nil, err
	}

	count, err := s.keyRepo.CountAvailable(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("count available keys: %w", err)
	}

	return &dto.StockResponse{ProductID: productID, Available: count}, nil
}
