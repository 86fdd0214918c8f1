package middleware

import (
	"net/http"

	"gameshop-fulfillment/internal/dto"

	"github.com/labstack/echo/v4"
)

const customerKey = "customer"

// CustomerMiddleware reads the buyer identity set by the upstream auth proxy.
// later we can expand this to jwt auth or session auth
func CustomerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			customerID := c.Request().Header.Get("X-Customer-Id")
			if customerID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing X-Customer-Id header")
			}

			c.Set(customerKey, dto.Customer{
				ID:    customerID,
				Email: c.Request().Header.Get("X-Customer-Email"),
			})
			return next(c)
		}
	}
}

func CustomerFrom(c echo.Context) (dto.Customer, bool) {
	customer, ok := c.Get(customerKey).(dto.Customer)
	return customer, ok
}
