package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"gameshop-fulfillment/internal/client"
	"gameshop-fulfillment/internal/dto"
	"gameshop-fulfillment/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxParallelMails = 4

type NotificationService interface {
	SendKeys(ctx context.Context, email, orderCode string, keys []dto.KeyAssignment) error
}

type notificationServiceImpl struct {
	mailer  client.Mailer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewNotificationService(mailer client.Mailer, m *metrics.Metrics, logger *zap.Logger) NotificationService {
	return &notificationServiceImpl{
		mailer:  mailer,
		metrics: m,
		logger:  logger.Named("notification"),
	}
}

// SendKeys mails every key separately. A failed mail is logged and counted but
// does not stop the others; the returned error only summarizes the failures.
func (s *notificationServiceImpl) SendKeys(ctx context.Context, email, orderCode string, keys []dto.KeyAssignment) error {
	if email == "" {
		s.logger.Warn("order has no customer email, keys not mailed", zap.String("order_code", orderCode))
		return nil
	}

	var failed int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelMails)
	for _, key := range keys {
		g.Go(func() error {
			subject := fmt.Sprintf("Your key for %s", key.ProductName)
			body := fmt.Sprintf("Thanks for your order %s.\n\nProduct: %s\nKey: %s\n", orderCode, key.ProductName, key.Secret)

			if err := s.mailer.Send(gctx, email, subject, body); err != nil {
				atomic.AddInt32(&failed, 1)
				s.metrics.Notifications.WithLabelValues("failed").Inc()
				s.logger.Warn("send key mail",
					zap.String("order_code", orderCode),
					zap.Uint("key_id", key.KeyID),
					zap.Error(err),
				)
				return nil
			}
			s.metrics.Notifications.WithLabelValues("sent").Inc()
			return nil
		})
	}
	_ = g.Wait()

	if failed > 0 {
		return fmt.Errorf("%d of %d key mails failed", failed, len(keys))
	}
	return nil
}
