package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"gameshop-fulfillment/internal/client"
	"gameshop-fulfillment/internal/dto"
	"gameshop-fulfillment/internal/model"
	"gameshop-fulfillment/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaypalService turns PayPal callbacks into payment confirmations.
type PaypalService interface {
	HandleReturn(ctx context.Context, paypalOrderID string) (*dto.FulfillmentResult, error)
	HandleCancel(ctx context.Context, paypalOrderID string) (*dto.Order, error)
	HandleWebhook(ctx context.Context, headers http.Header, body []byte) error
}

type paypalServiceImpl struct {
	paypalClient   client.PaypalClient
	orderRepo      repository.OrderRepository
	paymentService PaymentService
	logger         *zap.Logger
}

func NewPaypalService(
	paypalClient client.PaypalClient,
	orderRepo repository.OrderRepository,
	paymentService PaymentService,
	logger *zap.Logger,
) PaypalService {
	return &paypalServiceImpl{
		paypalClient:   paypalClient,
		orderRepo:      orderRepo,
		paymentService: paymentService,
		logger:         logger.Named("paypal"),
	}
}

// HandleReturn confirms the order the buyer just approved on PayPal. The
// amount check here is trivially satisfied; the captured amount is what counts.
func (s *paypalServiceImpl) HandleReturn(ctx context.Context, paypalOrderID string) (*dto.FulfillmentResult, error) {
	order, err := s.orderRepo.FindByPaymentReference(ctx, paypalOrderID)
	if err != nil {
		return nil, err
	}

	return s.paymentService.Confirm(ctx, order.Code, &dto.ConfirmRequest{
		Amount:   order.Total,
		Currency: order.Currency,
	})
}

// HandleCancel closes the order when the buyer backs out on the PayPal page.
func (s *paypalServiceImpl) HandleCancel(ctx context.Context, paypalOrderID string) (*dto.Order, error) {
	order, err := s.orderRepo.FindByPaymentReference(ctx, paypalOrderID)
	if err != nil {
		return nil, err
	}

	return s.paymentService.Cancel(ctx, order.Code, "canceled by buyer at paypal")
}

func (s *paypalServiceImpl) HandleWebhook(ctx context.Context, headers http.Header, body []byte) error {
	err := s.paypalClient.VerifyWebhookSignature(ctx, headers, body)
	if err != nil {
		if errors.Is(err, model.ErrGatewayUnavailable) {
			return fmt.Errorf("verify webhook signature: %w", err)
		}
		return fmt.Errorf("%w: verify signature: %v", model.ErrInvalidWebhook, err)
	}

	var eventPayload client.PaypalWebhookEvent
	if err := json.Unmarshal(body, &eventPayload); err != nil {
		return fmt.Errorf("%w: decode payload: %v", model.ErrInvalidWebhook, err)
	}

	switch eventPayload.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		return s.handleCaptureCompleted(ctx, &eventPayload)
	default:
		s.logger.Debug("ignored webhook event",
			zap.String("event_id", eventPayload.ID),
			zap.String("event_type", eventPayload.EventType),
		)
	}

	return nil
}

func (s *paypalServiceImpl) handleCaptureCompleted(ctx context.Context, event *client.PaypalWebhookEvent) error {
	paypalOrderID := event.Resource.SupplementaryData.RelatedIDs.OrderID
	if paypalOrderID == "" {
		return fmt.Errorf("%w: could not find order_id in webhook payload", model.ErrInvalidWebhook)
	}

	order, err := s.orderRepo.FindByPaymentReference(ctx, paypalOrderID)
	if err != nil {
		return fmt.Errorf("find order: %w", err)
	}

	amount, err := decimal.NewFromString(event.Resource.Amount.Value)
	if err != nil {
		return fmt.Errorf("parse capture amount %q: %w", event.Resource.Amount.Value, err)
	}

	_, err = s.paymentService.Confirm(ctx, order.Code, &dto.ConfirmRequest{
		TransactionID: event.Resource.ID,
		Amount:        amount,
		Currency:      event.Resource.Amount.CurrencyCode,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrGatewayUnavailable):
		// PayPal redelivers the event when we answer with an error
		return err
	default:
		// retrying would not change the outcome
		s.logger.Warn("webhook confirmation not applied",
			zap.String("order_code", order.Code),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		return nil
	}
}
