package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StripeGateway calls the payment provider's callable functions
// (createPaymentIntent, capturePayment, refundPayment). Intents are created
// with manual capture so approved funds sit in escrow until the verification
// quorum resolves.
type StripeGateway struct {
	baseURL string
	secret  string
	client  *http.Client
}

// NewStripeGateway builds a gateway client with a bounded per-call timeout.
func NewStripeGateway(baseURL, secret string, timeout time.Duration) *StripeGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &StripeGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

type createIntentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	JobID    string `json:"jobId"`
	BuyerID  string `json:"buyerId"`
	SellerID string `json:"sellerId"`
}

type createIntentResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

func (g *StripeGateway) Authorize(ctx context.Context, params AuthorizeParams) (Authorization, error) {
	if params.AmountCents <= 0 {
		return Authorization{}, &GatewayError{Op: "authorize", Err: fmt.Errorf("non-positive amount %d", params.AmountCents)}
	}
	currency := params.Currency
	if currency == "" {
		currency = "usd"
	}

	body := createIntentRequest{
		Amount:   params.AmountCents,
		Currency: currency,
		JobID:    params.JobID,
		BuyerID:  params.BuyerID,
		SellerID: params.SellerID,
	}

	var resp createIntentResponse
	if err := g.post(ctx, "authorize", "/createPaymentIntent", params.IdempotencyKey, body, &resp); err != nil {
		return Authorization{}, err
	}
	if resp.PaymentIntentID == "" {
		return Authorization{}, &GatewayError{Op: "authorize", Err: fmt.Errorf("provider returned empty payment intent id")}
	}

	return Authorization{
		PaymentIntentID: resp.PaymentIntentID,
		ClientSecret:    resp.ClientSecret,
	}, nil
}

type captureRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

type captureResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Error   string `json:"error"`
}

func (g *StripeGateway) Capture(ctx context.Context, paymentIntentID string) (CaptureResult, error) {
	if paymentIntentID == "" {
		return CaptureResult{}, &GatewayError{Op: "capture", Err: fmt.Errorf("empty payment intent id")}
	}

	var resp captureResponse
	err := g.post(ctx, "capture", "/capturePayment", "capture-"+paymentIntentID, captureRequest{PaymentIntentID: paymentIntentID}, &resp)
	if err != nil {
		var gwErr *GatewayError
		// The provider answers 400 with a "already been captured" detail when a
		// prior attempt landed; that is success for our purposes.
		if errors.As(err, &gwErr) && alreadyDone(gwErr, "captured") {
			return CaptureResult{PaymentIntentID: paymentIntentID, AlreadyCaptured: true}, nil
		}
		return CaptureResult{}, err
	}
	if !resp.Success && resp.Status != "succeeded" {
		return CaptureResult{}, &GatewayError{Op: "capture", Err: fmt.Errorf("provider reported failure: %s", resp.Error)}
	}

	return CaptureResult{PaymentIntentID: paymentIntentID}, nil
}

type refundRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

type refundResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Error   string `json:"error"`
}

func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID string) (RefundResult, error) {
	if paymentIntentID == "" {
		return RefundResult{}, &GatewayError{Op: "refund", Err: fmt.Errorf("empty payment intent id")}
	}

	var resp refundResponse
	err := g.post(ctx, "refund", "/refundPayment", "refund-"+paymentIntentID, refundRequest{PaymentIntentID: paymentIntentID}, &resp)
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && (alreadyDone(gwErr, "refunded") || alreadyDone(gwErr, "canceled")) {
			return RefundResult{PaymentIntentID: paymentIntentID, AlreadyRefunded: true}, nil
		}
		return RefundResult{}, err
	}
	if !resp.Success && resp.Status != "succeeded" {
		return RefundResult{}, &GatewayError{Op: "refund", Err: fmt.Errorf("provider reported failure: %s", resp.Error)}
	}

	return RefundResult{PaymentIntentID: paymentIntentID}, nil
}

func (g *StripeGateway) post(ctx context.Context, op, path, idempotencyKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &GatewayError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &GatewayError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.secret != "" {
		req.Header.Set("Authorization", "Bearer "+g.secret)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		gatewayCalls.WithLabelValues(op, "transport_error").Inc()
		return &GatewayError{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		gatewayCalls.WithLabelValues(op, "transport_error").Inc()
		return &GatewayError{Op: op, Retryable: true, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 500 {
		gatewayCalls.WithLabelValues(op, "server_error").Inc()
		return &GatewayError{Op: op, Status: resp.StatusCode, Retryable: true, Err: fmt.Errorf("%s", strings.TrimSpace(string(raw)))}
	}
	if resp.StatusCode >= 400 {
		gatewayCalls.WithLabelValues(op, "rejected").Inc()
		return &GatewayError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(raw)))}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &GatewayError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}

	gatewayCalls.WithLabelValues(op, "ok").Inc()
	return nil
}

func alreadyDone(err *GatewayError, verb string) bool {
	if err == nil || err.Err == nil {
		return false
	}
	msg := strings.ToLower(err.Err.Error())
	return strings.Contains(msg, "already") && strings.Contains(msg, verb)
}
