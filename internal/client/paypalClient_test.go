package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gameshop-fulfillment/internal/config"
	"gameshop-fulfillment/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakePaypal(t *testing.T, routes map[string]http.HandlerFunc) PaypalClient {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "id", user)
		assert.Equal(t, "secret", pass)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
	})
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewPaypalClient(&config.Paypal{
		BaseApiURL:   srv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		WebhookID:    "wh-1",
		BrandName:    "Game Shop",
	}, 2*time.Second)
}

func TestPaypalAuthorize(t *testing.T) {
	gw := newFakePaypal(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.Equal(t, "create-ord-1", r.Header.Get("PayPal-Request-Id"))

			var body struct {
				PurchaseUnits []struct {
					ReferenceID string `json:"reference_id"`
					Amount      struct {
						Value     string                  `json:"value"`
						Breakdown map[string]PaypalAmount `json:"breakdown"`
					} `json:"amount"`
				} `json:"purchase_units"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body.PurchaseUnits, 1)
			unit := body.PurchaseUnits[0]
			assert.Equal(t, "ord-1", unit.ReferenceID)
			assert.Equal(t, "45.98", unit.Amount.Value)
			assert.Equal(t, "39.98", unit.Amount.Breakdown["item_total"].Value)
			assert.Equal(t, "4.00", unit.Amount.Breakdown["tax_total"].Value)
			assert.Equal(t, "2.00", unit.Amount.Breakdown["handling"].Value)

			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(PaypalCreateOrderResult{
				ID:     "PP-ORDER-1",
				Status: "CREATED",
				Links: []PaypalLink{
					{Rel: "self", Href: "https://paypal.example/self"},
					{Rel: "approve", Href: "https://paypal.example/approve"},
				},
			})
		},
	})

	approval, err := gw.Authorize(context.Background(), &AuthorizeRequest{
		OrderCode:  "ord-1",
		Amount:     decimal.RequireFromString("45.98"),
		Currency:   "USD",
		ItemTotal:  decimal.RequireFromString("39.98"),
		Shipping:   decimal.Zero,
		Tax:        decimal.RequireFromString("4.00"),
		ServiceFee: decimal.RequireFromString("2.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "PP-ORDER-1", approval.Reference)
	assert.Equal(t, "https://paypal.example/approve", approval.ApprovalURL)
}

func TestPaypalCapture_Completed(t *testing.T) {
	gw := newFakePaypal(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders/PP-1/capture": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{
				"id": "PP-1",
				"status": "COMPLETED",
				"purchase_units": [{
					"reference_id": "ord-1",
					"payments": {"captures": [{
						"id": "CAP-1",
						"status": "COMPLETED",
						"amount": {"currency_code": "USD", "value": "45.98"}
					}]}
				}]
			}`))
		},
	})

	res, err := gw.Capture(context.Background(), "PP-1")
	require.NoError(t, err)
	assert.True(t, res.Completed())
	assert.Equal(t, "CAP-1", res.CaptureID)
	assert.Equal(t, "USD", res.Currency)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("45.98")))
}

func TestPaypalCapture_Declined(t *testing.T) {
	gw := newFakePaypal(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders/PP-1/capture": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"INSTRUMENT_DECLINED"}]}`))
		},
	})

	res, err := gw.Capture(context.Background(), "PP-1")
	require.NoError(t, err)
	assert.False(t, res.Completed())
	assert.Equal(t, "INSTRUMENT_DECLINED", res.Reason)
}

func TestPaypalCapture_AlreadyCaptured(t *testing.T) {
	gw := newFakePaypal(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders/PP-1/capture": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`))
		},
		"/v2/checkout/orders/PP-1": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte(`{"id":"PP-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[
				{"id":"CAP-1","status":"COMPLETED","amount":{"currency_code":"USD","value":"10.00"}}]}}]}`))
		},
	})

	res, err := gw.Capture(context.Background(), "PP-1")
	require.NoError(t, err)
	assert.True(t, res.Completed())
	assert.Equal(t, "CAP-1", res.CaptureID)
}

func TestPaypalCapture_ServerErrorIsUnavailable(t *testing.T) {
	gw := newFakePaypal(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders/PP-1/capture": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})

	_, err := gw.Capture(context.Background(), "PP-1")
	assert.ErrorIs(t, err, model.ErrGatewayUnavailable)
}

func TestPaypalCapture_TimeoutIsUnavailable(t *testing.T) {
	gw := newFakePaypal(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders/PP-1/capture": func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := gw.Capture(ctx, "PP-1")
	assert.ErrorIs(t, err, model.ErrGatewayUnavailable)
}

func TestPaypalVerifyWebhookSignature(t *testing.T) {
	status := "SUCCESS"
	gw := newFakePaypal(t, map[string]http.HandlerFunc{
		"/v1/notifications/verify-webhook-signature": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]json.RawMessage
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.JSONEq(t, `"wh-1"`, string(body["webhook_id"]))
			assert.JSONEq(t, `{"id":"WH-1"}`, string(body["webhook_event"]))
			_ = json.NewEncoder(w).Encode(map[string]string{"verification_status": status})
		},
	})

	headers := http.Header{}
	headers.Set("PAYPAL-TRANSMISSION-ID", "t-1")
	require.NoError(t, gw.VerifyWebhookSignature(context.Background(), headers, []byte(`{"id":"WH-1"}`)))

	status = "FAILURE"
	assert.Error(t, gw.VerifyWebhookSignature(context.Background(), headers, []byte(`{"id":"WH-1"}`)))
}
