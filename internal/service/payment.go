package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gameshop-fulfillment/internal/client"
	"gameshop-fulfillment/internal/dto"
	"gameshop-fulfillment/internal/lock"
	"gameshop-fulfillment/internal/metrics"
	"gameshop-fulfillment/internal/model"
	"gameshop-fulfillment/internal/repository"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentService is the only writer of an order's payment status.
type PaymentService interface {
	Initiate(ctx context.Context, order *model.Order, paymentToken string) (*dto.Approval, error)
	Confirm(ctx context.Context, orderCode string, event *dto.ConfirmRequest) (*dto.FulfillmentResult, error)
	Cancel(ctx context.Context, orderCode, reason string) (*dto.Order, error)
}

// PaymentServiceConfig.NotifyTimeout bounds the background delivery of the
// keys of one order.
type PaymentServiceConfig struct {
	BaseURL        string
	GatewayTimeout time.Duration
	NotifyTimeout  time.Duration
}

type paymentServiceImpl struct {
	db               *gorm.DB
	gateway          client.PaymentGateway
	locker           lock.Locker
	orderRepo        repository.OrderRepository
	keyRepo          repository.KeyPoolRepository
	paymentEventRepo repository.PaymentEventRepository
	notifier         NotificationService
	metrics          *metrics.Metrics
	logger           *zap.Logger
	tracer           trace.Tracer
	cfg              PaymentServiceConfig
}

func NewPaymentService(
	db *gorm.DB,
	gateway client.PaymentGateway,
	locker lock.Locker,
	orderRepo repository.OrderRepository,
	keyRepo repository.KeyPoolRepository,
	paymentEventRepo repository.PaymentEventRepository,
	notifier NotificationService,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg PaymentServiceConfig,
) PaymentService {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 30 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 2 * time.Minute
	}
	return &paymentServiceImpl{
		db:               db,
		gateway:          gateway,
		locker:           locker,
		orderRepo:        orderRepo,
		keyRepo:          keyRepo,
		paymentEventRepo: paymentEventRepo,
		notifier:         notifier,
		metrics:          m,
		logger:           logger.Named("payment"),
		tracer:           otel.Tracer("gameshop-fulfillment/service"),
		cfg:              cfg,
	}
}

// Initiate asks the gateway to authorize the order total and stores the
// approval reference. The payment status is left untouched. An order that
// already has a reference is handed back without calling the gateway again.
func (s *paymentServiceImpl) Initiate(ctx context.Context, order *model.Order, paymentToken string) (*dto.Approval, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.Initiate",
		trace.WithAttributes(attribute.String("order.code", order.Code)))
	defer span.End()

	if order.PaymentStatus != model.PaymentProcessing {
		return nil, fmt.Errorf("%w: initiate payment of %s order", model.ErrInvalidTransition, order.PaymentStatus)
	}
	if ref := order.Reference(); ref != "" {
		return &dto.Approval{OrderCode: order.Code, Reference: ref, ApprovalURL: order.ApprovalURL}, nil
	}

	var approval *client.Approval
	err := s.callGateway(ctx, "authorize", func(ctx context.Context) error {
		var err error
		approval, err = s.gateway.Authorize(ctx, &client.AuthorizeRequest{
			OrderCode:    order.Code,
			Amount:       order.Total,
			Currency:     order.Currency,
			ItemTotal:    order.SubTotal,
			Shipping:     order.Shipping,
			Tax:          order.Tax,
			ServiceFee:   order.ServiceFee,
			PaymentToken: paymentToken,
			ReturnURL:    s.cfg.BaseURL + "/api/paypal/success",
			CancelURL:    s.cfg.BaseURL + "/api/paypal/cancel",
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("authorize payment", zap.String("order_code", order.Code), zap.Error(err))
		return nil, fmt.Errorf("authorize order %s: %w", order.Code, err)
	}

	order.PaymentReference = &approval.Reference
	order.ApprovalURL = approval.ApprovalURL
	if err := s.orderRepo.SetPaymentReference(ctx, nil, order); err != nil {
		return nil, fmt.Errorf("store payment reference: %w", err)
	}

	s.logger.Info("payment initiated",
		zap.String("order_code", order.Code),
		zap.String("reference", approval.Reference),
		zap.String("gateway", s.gateway.Name()),
	)

	return &dto.Approval{
		OrderCode:   order.Code,
		Reference:   approval.Reference,
		ApprovalURL: approval.ApprovalURL,
	}, nil
}

// Confirm applies a payment confirmation event. Confirmations of the same
// order are serialized; once an order is Paid every further call returns the
// recorded result without touching the gateway or the key pool.
func (s *paymentServiceImpl) Confirm(ctx context.Context, orderCode string, event *dto.ConfirmRequest) (result *dto.FulfillmentResult, err error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.Confirm",
		trace.WithAttributes(attribute.String("order.code", orderCode)))
	defer span.End()

	outcome := "error"
	start := time.Now()
	defer func() {
		s.metrics.ConfirmDuration.Observe(time.Since(start).Seconds())
		s.metrics.ConfirmTotal.WithLabelValues(outcome).Inc()
		span.SetAttributes(attribute.String("confirm.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	unlock, err := s.locker.Lock(ctx, "order:"+orderCode)
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", orderCode, err)
	}
	defer unlock()

	order, err := s.orderRepo.FindByCode(ctx, nil, orderCode)
	if err != nil {
		return nil, err
	}

	switch order.PaymentStatus {
	case model.PaymentPaid:
		outcome = "replayed"
		return s.buildResult(ctx, orderCode)
	case model.PaymentFailed:
		outcome = "closed"
		return nil, fmt.Errorf("%w: %s", model.ErrOrderClosed, order.FailureReason)
	}

	if event.TransactionID != "" {
		applied, err := s.paymentEventRepo.Exists(ctx, nil, event.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("check payment event: %w", err)
		}
		if applied {
			return nil, fmt.Errorf("%w: transaction %s was already applied to another order",
				model.ErrInvalidTransition, event.TransactionID)
		}
	}

	if err := checkAmount(order, event.Amount, event.Currency); err != nil {
		outcome = "mismatch"
		return nil, err
	}

	reference := order.Reference()
	if reference == "" {
		return nil, fmt.Errorf("%w: %s", model.ErrMissingPaymentRef, orderCode)
	}

	var capture *client.CaptureResult
	err = s.callGateway(ctx, "capture", func(ctx context.Context) error {
		var err error
		capture, err = s.gateway.Capture(ctx, reference)
		return err
	})
	if err != nil {
		outcome = "gateway_error"
		s.logger.Warn("capture payment", zap.String("order_code", orderCode), zap.Error(err))
		return nil, fmt.Errorf("capture order %s: %w", orderCode, err)
	}

	if !capture.Completed() {
		outcome = "declined"
		if err := order.MarkFailed("payment declined: " + capture.Reason); err != nil {
			return nil, err
		}
		if err := s.orderRepo.MarkFailed(ctx, nil, order); err != nil {
			return nil, fmt.Errorf("mark order failed: %w", err)
		}
		s.logger.Info("payment declined", zap.String("order_code", orderCode), zap.String("reason", capture.Reason))
		return nil, fmt.Errorf("%w: %s", model.ErrPaymentDeclined, capture.Reason)
	}

	if err := checkAmount(order, capture.Amount, capture.Currency); err != nil {
		outcome = "mismatch"
		// funds were captured for a different amount; an operator has to settle it
		s.logger.Error("captured amount differs from order total",
			zap.String("order_code", orderCode),
			zap.String("capture_id", capture.CaptureID),
			zap.Error(err),
		)
		return nil, err
	}

	transactionID := event.TransactionID
	if transactionID == "" {
		transactionID = capture.CaptureID
	}

	var (
		unavailable []string
		sold        int
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		unavailable, sold, err = s.fulfill(ctx, tx, order, transactionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fulfill order %s: %w", orderCode, err)
	}

	if len(unavailable) > 0 {
		outcome = "stockout"
		for _, productID := range unavailable {
			s.metrics.Stockouts.WithLabelValues(productID).Inc()
		}
		s.logger.Error("order failed after capture, products out of stock",
			zap.String("order_code", orderCode),
			zap.String("capture_id", capture.CaptureID),
			zap.Strings("products", unavailable),
		)
		return &dto.FulfillmentResult{
			OrderCode:           orderCode,
			PaymentStatus:       string(order.PaymentStatus),
			OrderStatus:         string(order.OrderStatus),
			Success:             false,
			Reason:              order.FailureReason,
			Keys:                []dto.KeyAssignment{},
			UnavailableProducts: unavailable,
		}, fmt.Errorf("%w: %s", model.ErrStockOut, strings.Join(unavailable, ", "))
	}

	outcome = "fulfilled"
	s.metrics.KeysSold.Add(float64(sold))

	result, err = s.buildResult(ctx, orderCode)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order fulfilled",
		zap.String("order_code", orderCode),
		zap.String("transaction_id", transactionID),
		zap.Int("keys", len(result.Keys)),
	)

	// delivery is best-effort and runs after the order lock is released
	keys := append([]dto.KeyAssignment(nil), result.Keys...)
	go s.deliverKeys(context.WithoutCancel(ctx), order.CustomerEmail, orderCode, keys)

	return result, nil
}

func (s *paymentServiceImpl) deliverKeys(ctx context.Context, email, orderCode string, keys []dto.KeyAssignment) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()

	if err := s.notifier.SendKeys(ctx, email, orderCode, keys); err != nil {
		s.logger.Warn("send keys", zap.String("order_code", orderCode), zap.Error(err))
	}
}

// Cancel closes an unpaid order. It takes the same lock as Confirm, so a
// cancellation cannot interleave with a capture of the same order. Canceling
// an already canceled order returns it unchanged.
func (s *paymentServiceImpl) Cancel(ctx context.Context, orderCode, reason string) (*dto.Order, error) {
	unlock, err := s.locker.Lock(ctx, "order:"+orderCode)
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", orderCode, err)
	}
	defer unlock()

	order, err := s.orderRepo.FindByCode(ctx, nil, orderCode)
	if err != nil {
		return nil, err
	}

	switch {
	case order.OrderStatus == model.OrderCanceled:
		return dto.NewOrder(order), nil
	case order.PaymentStatus == model.PaymentFailed:
		return nil, fmt.Errorf("%w: %s", model.ErrOrderClosed, order.FailureReason)
	}

	if err := order.Cancel(reason); err != nil {
		return nil, err
	}
	if err := s.orderRepo.MarkFailed(ctx, nil, order); err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	s.logger.Info("order canceled", zap.String("order_code", orderCode), zap.String("reason", reason))
	return dto.NewOrder(order), nil
}

// fulfill reserves and sells one key per unit of every line inside tx. When a
// product has no key left every reservation is released and the order fails;
// the transaction still commits so the failure is recorded.
func (s *paymentServiceImpl) fulfill(ctx context.Context, tx *gorm.DB, order *model.Order, transactionID string) ([]string, int, error) {
	reserved := make(map[uint][]*model.GameKey, len(order.Lines))
	var unavailable []string

	for _, line := range order.Lines {
		for unit := 0; unit < line.Quantity; unit++ {
			key, err := s.keyRepo.Reserve(ctx, tx, line.ProductID, order.ID)
			if err != nil {
				if errors.Is(err, model.ErrKeyUnavailable) {
					unavailable = appendUnique(unavailable, line.ProductID)
					break
				}
				return nil, 0, fmt.Errorf("reserve key for %s: %w", line.ProductID, err)
			}
			reserved[line.ID] = append(reserved[line.ID], key)
		}
	}

	if len(unavailable) > 0 {
		for _, keys := range reserved {
			for _, key := range keys {
				if err := s.keyRepo.Release(ctx, tx, key.ID); err != nil {
					return nil, 0, fmt.Errorf("release key %d: %w", key.ID, err)
				}
			}
		}
		if err := order.MarkFailed("out of stock: " + strings.Join(unavailable, ", ")); err != nil {
			return nil, 0, err
		}
		if err := s.orderRepo.MarkFailed(ctx, tx, order); err != nil {
			return nil, 0, fmt.Errorf("mark order failed: %w", err)
		}
		if err := s.paymentEventRepo.MarkProcessed(ctx, tx, transactionID, order.ID); err != nil {
			return nil, 0, fmt.Errorf("record payment event: %w", err)
		}
		return unavailable, 0, nil
	}

	if err := order.MarkPaid(order.Reference()); err != nil {
		return nil, 0, err
	}
	if err := s.orderRepo.MarkPaid(ctx, tx, order); err != nil {
		return nil, 0, fmt.Errorf("mark order paid: %w", err)
	}

	sold := 0
	for i := range order.Lines {
		line := &order.Lines[i]
		lineID := line.ID

		keys := make([]model.GameKey, 0, len(reserved[lineID]))
		for _, key := range reserved[lineID] {
			if err := s.keyRepo.ConfirmSale(ctx, tx, key.ID, line); err != nil {
				return nil, 0, err
			}
			key.Status = model.KeySold
			key.OrderLineID = &lineID
			keys = append(keys, *key)
			sold++
		}

		if err := order.FulfillLine(lineID, keys); err != nil {
			return nil, 0, err
		}
	}

	if err := s.orderRepo.UpdateOrderStatus(ctx, tx, order); err != nil {
		return nil, 0, fmt.Errorf("update order status: %w", err)
	}
	if err := s.paymentEventRepo.MarkProcessed(ctx, tx, transactionID, order.ID); err != nil {
		return nil, 0, fmt.Errorf("record payment event: %w", err)
	}

	return nil, sold, nil
}

// buildResult reads the fulfilled order back from the database, so the first
// confirmation and every replay return the same result.
func (s *paymentServiceImpl) buildResult(ctx context.Context, orderCode string) (*dto.FulfillmentResult, error) {
	order, err := s.orderRepo.FindByCode(ctx, nil, orderCode)
	if err != nil {
		return nil, err
	}

	keys, err := s.keyRepo.ListSoldByOrder(ctx, nil, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list sold keys: %w", err)
	}

	lines := make(map[uint]*model.OrderLine, len(order.Lines))
	for i := range order.Lines {
		lines[order.Lines[i].ID] = &order.Lines[i]
	}

	assignments := make([]dto.KeyAssignment, 0, len(keys))
	for _, key := range keys {
		a := dto.KeyAssignment{
			ProductID: key.ProductID,
			KeyID:     key.ID,
			Secret:    key.Secret,
		}
		if key.OrderLineID != nil {
			a.LineID = *key.OrderLineID
			if line, ok := lines[a.LineID]; ok {
				a.ProductName = line.ProductName
			}
		}
		assignments = append(assignments, a)
	}

	return &dto.FulfillmentResult{
		OrderCode:     order.Code,
		PaymentStatus: string(order.PaymentStatus),
		OrderStatus:   string(order.OrderStatus),
		Success:       order.PaymentStatus == model.PaymentPaid,
		Reason:        order.FailureReason,
		Keys:          assignments,
	}, nil
}

// callGateway bounds a gateway call by the configured timeout and counts it.
func (s *paymentServiceImpl) callGateway(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	err := fn(ctx)
	switch {
	case err == nil:
		s.metrics.GatewayRequests.WithLabelValues(op, "ok").Inc()
		return nil
	case errors.Is(err, model.ErrGatewayUnavailable):
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%w: %s timed out: %v", model.ErrGatewayUnavailable, op, err)
	case errors.Is(err, model.ErrPaymentDeclined):
		s.metrics.GatewayRequests.WithLabelValues(op, "declined").Inc()
		return err
	default:
		s.metrics.GatewayRequests.WithLabelValues(op, "error").Inc()
		return err
	}
	s.metrics.GatewayRequests.WithLabelValues(op, "unavailable").Inc()
	return err
}

func checkAmount(order *model.Order, amount decimal.Decimal, currency string) error {
	if currency != order.Currency || !model.AmountsMatch(amount, order.Total) {
		return &model.PaymentAmountMismatchError{
			ExpectedAmount:   order.Total,
			ExpectedCurrency: order.Currency,
			GotAmount:        amount,
			GotCurrency:      currency,
		}
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
