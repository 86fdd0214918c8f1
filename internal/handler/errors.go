package handler

import (
	"errors"
	"net/http"

	"gameshop-fulfillment/internal/dto"
	"gameshop-fulfillment/internal/model"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// responseError attaches the order or fulfillment result to an error response.
type responseError struct {
	err    error
	order  *dto.Order
	result *dto.FulfillmentResult
}

func (e *responseError) Error() string { return e.err.Error() }

func (e *responseError) Unwrap() error { return e.err }

func statusFor(err error) int {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.Is(err, model.ErrEmptyOrder),
		errors.Is(err, model.ErrInvalidLine),
		errors.Is(err, model.ErrInconsistentTotals),
		errors.Is(err, model.ErrPaymentAmount),
		errors.Is(err, model.ErrMissingPaymentRef),
		errors.Is(err, model.ErrInvalidWebhook):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrOrderNotFound),
		errors.Is(err, model.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrStockOut),
		errors.Is(err, model.ErrOrderClosed),
		errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, model.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrGatewayUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrReserveContention):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders every error returned by a handler as dto.ErrorResponse.
// Unexpected errors are logged and answered without their details.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := statusFor(err)
		resp := dto.ErrorResponse{Error: err.Error()}

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			resp.Error = http.StatusText(httpErr.Code)
			if msg, ok := httpErr.Message.(string); ok {
				resp.Error = msg
			}
		}

		var re *responseError
		if errors.As(err, &re) {
			resp.Order = re.order
			resp.Result = re.result
		}

		if status == http.StatusInternalServerError {
			logger.Error("unhandled error",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			resp.Error = http.StatusText(http.StatusInternalServerError)
		}

		if err := c.JSON(status, resp); err != nil {
			logger.Warn("write error response", zap.Error(err))
		}
	}
}
