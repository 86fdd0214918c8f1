package handler

import (
	"net/http"

	"gameshop-fulfillment/internal/middleware"
	"gameshop-fulfillment/internal/service"

	"github.com/labstack/echo/v4"
)

type CustomerHandler struct {
	customerService service.CustomerService
}

func NewCustomerHandler(customerService service.CustomerService) *CustomerHandler {
	return &CustomerHandler{
		customerService: customerService,
	}
}

func (h *CustomerHandler) GetLibrary(c echo.Context) error {
	ctx := c.Request().Context()

	customer, ok := middleware.CustomerFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing customer")
	}

	library, err := h.customerService.GetLibrary(ctx, customer.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, library)
}
