package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gameshop-fulfillment/internal/client"
	"gameshop-fulfillment/internal/dto"
	"gameshop-fulfillment/internal/lock"
	"gameshop-fulfillment/internal/metrics"
	"gameshop-fulfillment/internal/model"
	"gameshop-fulfillment/internal/pricing"
	"gameshop-fulfillment/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu sync.Mutex

	authorizeErr   error
	blockAuthorize bool
	captureErr     error
	declineReason  string
	captureAmount  *decimal.Decimal

	authorizations int
	captures       int
	amounts        map[string]decimal.Decimal
	currencies     map[string]string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		amounts:    make(map[string]decimal.Decimal),
		currencies: make(map[string]string),
	}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Authorize(ctx context.Context, req *client.AuthorizeRequest) (*client.Approval, error) {
	g.mu.Lock()
	block, authErr := g.blockAuthorize, g.authorizeErr
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if authErr != nil {
		return nil, authErr
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorizations++
	ref := "REF-" + req.OrderCode
	g.amounts[ref] = req.Amount
	g.currencies[ref] = req.Currency
	return &client.Approval{Reference: ref, ApprovalURL: "https://pay.example/approve/" + ref}, nil
}

func (g *fakeGateway) Capture(ctx context.Context, reference string) (*client.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	g.captures++
	if g.declineReason != "" {
		return &client.CaptureResult{Status: client.CaptureDeclined, Reason: g.declineReason}, nil
	}

	amount := g.amounts[reference]
	if g.captureAmount != nil {
		amount = *g.captureAmount
	}
	return &client.CaptureResult{
		Status:    client.CaptureCompleted,
		CaptureID: "CAP-" + reference,
		Amount:    amount,
		Currency:  g.currencies[reference],
	}, nil
}

func (g *fakeGateway) captureCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captures
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeMailer struct {
	mu    sync.Mutex
	err   error
	stall bool
	sent  []sentMail
}

// Send blocks until ctx is done when the mailer is stalled, like an SMTP
// server that accepts the connection and never answers.
func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	stall := m.stall
	m.mu.Unlock()
	if stall {
		<-ctx.Done()
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

// waitSent waits for the background key delivery to hand n mails to the mailer.
func (m *fakeMailer) waitSent(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return m.count() == n }, 2*time.Second, 10*time.Millisecond)
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type testEnv struct {
	db       *gorm.DB
	gateway  *fakeGateway
	mailer   *fakeMailer
	metrics  *metrics.Metrics
	products repository.ProductRepository
	orders   repository.OrderRepository
	keys     repository.KeyPoolRepository
	payments PaymentService
	checkout OrderService
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := client.InitSqliteClient(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	env := &testEnv{
		db:       db,
		gateway:  newFakeGateway(),
		mailer:   &fakeMailer{},
		metrics:  metrics.New(prometheus.NewRegistry()),
		products: repository.NewProductRepository(db),
		orders:   repository.NewOrderRepository(db),
		keys:     repository.NewKeyPoolRepository(db),
	}
	logger := zap.NewNop()

	notifier := NewNotificationService(env.mailer, env.metrics, logger)
	env.payments = NewPaymentService(
		db,
		env.gateway,
		lock.NewMemoryLocker(),
		env.orders,
		env.keys,
		repository.NewPaymentEventRepository(db),
		notifier,
		env.metrics,
		logger,
		PaymentServiceConfig{
			BaseURL:        "http://shop.test",
			GatewayTimeout: 200 * time.Millisecond,
			NotifyTimeout:  time.Second,
		},
	)
	env.checkout = NewOrderService(
		db,
		pricing.NewEngine(pricing.DefaultTaxRate, pricing.DefaultServiceFeeRate),
		"USD",
		"fake",
		env.products,
		env.orders,
		env.keys,
		env.payments,
		logger,
	)

	ctx := context.Background()
	require.NoError(t, env.products.Create(ctx, &model.Product{
		ID: "A", Name: "Game A", Price: decimal.RequireFromString("19.99"), Shipping: decimal.Zero, Currency: "USD", VendorID: "v1",
	}))
	require.NoError(t, env.products.Create(ctx, &model.Product{
		ID: "B", Name: "Game B", Price: decimal.RequireFromString("5.55"), Shipping: decimal.RequireFromString("1.25"), Currency: "USD", VendorID: "v2",
	}))

	return env
}

func (e *testEnv) stock(t *testing.T, productID string, n int) {
	t.Helper()
	secrets := make([]string, n)
	for i := range secrets {
		secrets[i] = fmt.Sprintf("%s-%s-%d", productID, t.Name(), i)
	}
	require.NoError(t, e.keys.Stock(context.Background(), productID, secrets))
}

func (e *testEnv) available(t *testing.T, productID string) int64 {
	t.Helper()
	n, err := e.keys.CountAvailable(context.Background(), productID)
	require.NoError(t, err)
	return n
}

func (e *testEnv) placeOrder(t *testing.T, items ...*dto.Item) *dto.CreateOrderResponse {
	t.Helper()
	resp, err := e.checkout.Checkout(context.Background(),
		dto.Customer{ID: "cust-1", Email: "buyer@example.com"},
		&dto.CreateOrderRequest{Items: items})
	require.NoError(t, err)
	require.NotNil(t, resp.Approval)
	return resp
}

func (e *testEnv) order(t *testing.T, code string) *model.Order {
	t.Helper()
	o, err := e.orders.FindByCode(context.Background(), nil, code)
	require.NoError(t, err)
	return o
}

func paid(amount string) *dto.ConfirmRequest {
	return &dto.ConfirmRequest{
		Amount:   decimal.RequireFromString(amount),
		Currency: "USD",
	}
}

var errSMTPDown = errors.New("smtp: connection refused")
