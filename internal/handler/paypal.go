package handler

import (
	"fmt"
	"io"
	"net/http"

	"gameshop-fulfillment/internal/service"

	"github.com/labstack/echo/v4"
)

type PaypalHandler struct {
	paypalService service.PaypalService
}

func NewPaypalHandler(paypalService service.PaypalService) *PaypalHandler {
	return &PaypalHandler{
		paypalService: paypalService,
	}
}

// HandleSuccess is PayPal's return url: the buyer approved the order, so capture it.
func (h *PaypalHandler) HandleSuccess(c echo.Context) error {
	ctx := c.Request().Context()

	orderID := c.QueryParam("token")
	if orderID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing order token")
	}

	result, err := h.paypalService.HandleReturn(ctx, orderID)
	if err != nil {
		return &responseError{err: err, result: result}
	}

	return c.JSON(http.StatusOK, result)
}

// HandleCancel is PayPal's cancel url.
func (h *PaypalHandler) HandleCancel(c echo.Context) error {
	orderID := c.QueryParam("token")
	if orderID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing order token")
	}

	order, err := h.paypalService.HandleCancel(c.Request().Context(), orderID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

func (h *PaypalHandler) PayPalWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	err = h.paypalService.HandleWebhook(ctx, c.Request().Header, body)
	if err != nil {
		return fmt.Errorf("handle webhook: %w", err)
	}

	return c.NoContent(http.StatusOK)
}
