package handler

import (
	"net/http"

	"gameshop-fulfillment/internal/dto"
	"gameshop-fulfillment/internal/middleware"
	"gameshop-fulfillment/internal/service"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	orderService   service.OrderService
	paymentService service.PaymentService
}

func NewOrderHandler(orderService service.OrderService, paymentService service.PaymentService) *OrderHandler {
	return &OrderHandler{
		orderService:   orderService,
		paymentService: paymentService,
	}
}

func (h *OrderHandler) CreateOrder(c echo.Context) error {
	ctx := c.Request().Context()

	customer, ok := middleware.CustomerFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing customer")
	}

	var req dto.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	resp, err := h.orderService.Checkout(ctx, customer, &req)
	if err != nil {
		if resp != nil {
			return &responseError{err: err, order: resp.Order}
		}
		return err
	}

	return c.JSON(http.StatusCreated, resp)
}

func (h *OrderHandler) ResumePayment(c echo.Context) error {
	ctx := c.Request().Context()

	customer, ok := middleware.CustomerFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing customer")
	}

	var req struct {
		PaymentToken string `json:"payment_token"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	approval, err := h.orderService.ResumePayment(ctx, customer.ID, c.Param("code"), req.PaymentToken)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, approval)
}

func (h *OrderHandler) ConfirmPayment(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ConfirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if req.Currency == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "currency is required")
	}

	result, err := h.paymentService.Confirm(ctx, c.Param("code"), &req)
	if err != nil {
		return &responseError{err: err, result: result}
	}

	return c.JSON(http.StatusOK, result)
}

func (h *OrderHandler) CancelOrder(c echo.Context) error {
	customer, ok := middleware.CustomerFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing customer")
	}

	order, err := h.orderService.CancelOrder(c.Request().Context(), customer.ID, c.Param("code"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) GetOrder(c echo.Context) error {
	customer, ok := middleware.CustomerFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing customer")
	}

	order, err := h.orderService.GetOrder(c.Request().Context(), customer.ID, c.Param("code"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) GetStock(c echo.Context) error {
	stock, err := h.orderService.AvailableStock(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, stock)
}
