package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"gameshop-fulfillment/internal/config"

	"github.com/shopspring/decimal"
)

// PaypalClient is the PayPal Orders v2 gateway plus webhook verification.
type PaypalClient interface {
	PaymentGateway
	VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error
}

type paypalClientImpl struct {
	httpClient         *http.Client
	baseApiURL         string
	paypalClientID     string
	paypalClientSecret string
	webhookID          string
	brandName          string
}

type PaypalLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type PaypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type PaypalCreateOrderResult struct {
	ID     string       `json:"id"`
	Links  []PaypalLink `json:"links"`
	Status string       `json:"status"`
}

type PaypalCapture struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Amount        PaypalAmount `json:"amount"`
	StatusDetails *struct {
		Reason string `json:"reason"`
	} `json:"status_details,omitempty"`
}

type PaypalCaptureOrderResult struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Payments    struct {
			Captures []PaypalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type paypalErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

// PaypalWebhookEvent is the subset of a webhook notification the service reads.
type PaypalWebhookEvent struct {
	ID           string `json:"id"`
	EventType    string `json:"event_type"`
	ResourceType string `json:"resource_type"`
	Resource     struct {
		ID                string       `json:"id"`
		Status            string       `json:"status"`
		Amount            PaypalAmount `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

var declineIssues = map[string]bool{
	"INSTRUMENT_DECLINED":   true,
	"PAYER_ACTION_REQUIRED": true,
	"TRANSACTION_REFUSED":   true,
	"ORDER_NOT_APPROVED":    true,
	"PAYER_CANNOT_PAY":      true,
}

func NewPaypalClient(paypalCfg *config.Paypal, timeout time.Duration) PaypalClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &paypalClientImpl{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseApiURL:         paypalCfg.BaseApiURL,
		paypalClientID:     paypalCfg.ClientID,
		paypalClientSecret: paypalCfg.ClientSecret,
		webhookID:          paypalCfg.WebhookID,
		brandName:          paypalCfg.BrandName,
	}
}

func (c *paypalClientImpl) Name() string {
	return "paypal"
}

func (c *paypalClientImpl) getAccessToken(ctx context.Context) (string, error) {
	auth := base64.StdEncoding.EncodeToString(
		[]byte(c.paypalClientID + ":" + c.paypalClientSecret),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseApiURL+"/v1/oauth2/token",
		bytes.NewBufferString("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", gatewayUnavailable("paypal oauth", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", gatewayUnavailable("paypal oauth", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("paypal oauth error %d: %s", resp.StatusCode, string(b))
	}

	var res struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode paypal token: %w", err)
	}
	if res.AccessToken == "" {
		return "", errors.New("paypal returned an empty access token")
	}

	return res.AccessToken, nil
}

// Authorize creates a PayPal order the buyer approves at the returned URL.
func (c *paypalClientImpl) Authorize(ctx context.Context, r *AuthorizeRequest) (*Approval, error) {
	accessToken, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get paypal access token: %w", err)
	}

	money := func(d decimal.Decimal) map[string]string {
		return map[string]string{
			"currency_code": r.Currency,
			"value":         d.StringFixed(2),
		}
	}

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"reference_id": r.OrderCode,
				"custom_id":    r.OrderCode,
				"amount": map[string]interface{}{
					"currency_code": r.Currency,
					"value":         r.Amount.StringFixed(2),
					"breakdown": map[string]interface{}{
						"item_total": money(r.ItemTotal),
						"tax_total":  money(r.Tax),
						"shipping":   money(r.Shipping),
						"handling":   money(r.ServiceFee),
					},
				},
			},
		},
		"application_context": map[string]string{
			"brand_name":  c.brandName,
			"user_action": "PAY_NOW",
			"return_url":  r.ReturnURL,
			"cancel_url":  r.CancelURL,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal req payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseApiURL+"/v2/checkout/orders",
		bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	// PayPal dedupes create requests carrying the same id
	req.Header.Set("PayPal-Request-Id", "create-"+r.OrderCode)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, gatewayUnavailable("paypal create order", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, gatewayUnavailable("paypal create order", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("paypal error %d: %s", resp.StatusCode, string(b))
	}

	var result PaypalCreateOrderResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode paypal response: %w", err)
	}

	return &Approval{
		Reference:   result.ID,
		ApprovalURL: extractApproveURL(result.Links),
	}, nil
}

// Capture settles an approved PayPal order.
func (c *paypalClientImpl) Capture(ctx context.Context, orderID string) (*CaptureResult, error) {
	accessToken, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get paypal access token: %w", err)
	}

	url := fmt.Sprintf(
		"%s/v2/checkout/orders/%s/capture",
		c.baseApiURL,
		orderID,
	)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		url,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create capture request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("PayPal-Request-Id", "capture-"+orderID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, gatewayUnavailable("paypal capture", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 {
		return nil, gatewayUnavailable("paypal capture", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusUnprocessableEntity {
		var perr paypalErrorResponse
		if err := json.Unmarshal(body, &perr); err == nil {
			for _, d := range perr.Details {
				if declineIssues[d.Issue] {
					return &CaptureResult{Status: CaptureDeclined, Reason: d.Issue}, nil
				}
				if d.Issue == "ORDER_ALREADY_CAPTURED" {
					return c.capturedOrder(ctx, accessToken, orderID)
				}
			}
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf(
			"paypal capture failed: status=%d body=%s",
			resp.StatusCode,
			string(body),
		)
	}

	var result PaypalCaptureOrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode paypal capture: %w", err)
	}

	return parseCapture(&result)
}

// capturedOrder reads back an order PayPal has already captured, so a retried
// capture reports the same outcome as the first one.
func (c *paypalClientImpl) capturedOrder(ctx context.Context, accessToken, orderID string) (*CaptureResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v2/checkout/orders/%s", c.baseApiURL, orderID), nil)
	if err != nil {
		return nil, fmt.Errorf("create get order request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, gatewayUnavailable("paypal get order", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, gatewayUnavailable("paypal get order", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("paypal get order error %d: %s", resp.StatusCode, string(b))
	}

	var result PaypalCaptureOrderResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode paypal order: %w", err)
	}
	return parseCapture(&result)
}

func parseCapture(result *PaypalCaptureOrderResult) (*CaptureResult, error) {
	for _, unit := range result.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			amount, err := decimal.NewFromString(capture.Amount.Value)
			if err != nil {
				return nil, fmt.Errorf("parse captured amount %q: %w", capture.Amount.Value, err)
			}

			res := &CaptureResult{
				CaptureID: capture.ID,
				Amount:    amount,
				Currency:  capture.Amount.CurrencyCode,
			}
			switch capture.Status {
			case "COMPLETED", "PENDING":
				res.Status = CaptureCompleted
			default:
				res.Status = CaptureDeclined
				res.Reason = capture.Status
				if capture.StatusDetails != nil && capture.StatusDetails.Reason != "" {
					res.Reason = capture.StatusDetails.Reason
				}
			}
			return res, nil
		}
	}
	return nil, fmt.Errorf("paypal order %s returned no capture", result.ID)
}

// VerifyWebhookSignature asks PayPal to validate the transmission headers of a
// webhook notification against the configured webhook id.
func (c *paypalClientImpl) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error {
	accessToken, err := c.getAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("get paypal access token: %w", err)
	}

	payload := map[string]interface{}{
		"auth_algo":         headers.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          headers.Get("PAYPAL-CERT-URL"),
		"transmission_id":   headers.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  headers.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": headers.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        c.webhookID,
		"webhook_event":     json.RawMessage(body),
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal verify payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseApiURL+"/v1/notifications/verify-webhook-signature",
		bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gatewayUnavailable("paypal verify webhook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("paypal verify webhook error %d: %s", resp.StatusCode, string(b))
	}

	var res struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("decode verify response: %w", err)
	}
	if res.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("webhook signature verification %s", res.VerificationStatus)
	}
	return nil
}

func extractApproveURL(links []PaypalLink) string {
	for _, link := range links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}
