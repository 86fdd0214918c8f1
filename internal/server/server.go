package server

import (
	"context"
	"net/http"
	"time"

	"gameshop-fulfillment/internal/config"
	"gameshop-fulfillment/internal/handler"
	appmiddleware "gameshop-fulfillment/internal/middleware"
	"gameshop-fulfillment/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Server struct {
	echo            *echo.Echo
	orderHandler    *handler.OrderHandler
	customerHandler *handler.CustomerHandler
	paypalHandler   *handler.PaypalHandler
	gatherer        prometheus.Gatherer
}

// NewServer wires the HTTP routes. paypalService may be nil when another
// gateway is configured; the PayPal callback routes are then not mounted.
func NewServer(
	orderService service.OrderService,
	paymentService service.PaymentService,
	customerService service.CustomerService,
	paypalService service.PaypalService,
	gatherer prometheus.Gatherer,
	rateLimit config.RateLimit,
	logger *zap.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(logger)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if rateLimit.RPS > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: middleware.DefaultSkipper,
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(
				middleware.RateLimiterMemoryStoreConfig{
					Rate:      rate.Limit(rateLimit.RPS),
					Burst:     rateLimit.Burst,
					ExpiresIn: 3 * time.Minute,
				}),
			IdentifierExtractor: func(c echo.Context) (string, error) {
				return c.RealIP(), nil
			},
		}))
	}

	s := &Server{
		echo:            e,
		orderHandler:    handler.NewOrderHandler(orderService, paymentService),
		customerHandler: handler.NewCustomerHandler(customerService),
		gatherer:        gatherer,
	}
	if paypalService != nil {
		s.paypalHandler = handler.NewPaypalHandler(paypalService)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api.GET("/products/:id/stock", s.orderHandler.GetStock)

	customer := appmiddleware.CustomerMiddleware()

	orders := api.Group("/orders")
	orders.POST("", s.orderHandler.CreateOrder, customer)
	orders.GET("/:code", s.orderHandler.GetOrder, customer)
	orders.POST("/:code/payment", s.orderHandler.ResumePayment, customer)
	orders.POST("/:code/cancel", s.orderHandler.CancelOrder, customer)
	// confirmations come from the payment side, not from the buyer
	orders.POST("/:code/confirm", s.orderHandler.ConfirmPayment)

	customers := api.Group("/customers", customer)
	customers.GET("/me/keys", s.customerHandler.GetLibrary)

	// -------- paypal callbacks / webhooks --------
	if s.paypalHandler != nil {
		paypal := api.Group("/paypal")
		paypal.GET("/success", s.paypalHandler.HandleSuccess)
		paypal.GET("/cancel", s.paypalHandler.HandleCancel)
		paypal.POST("/webhook", s.paypalHandler.PayPalWebhook)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
