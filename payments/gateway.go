package payments

import (
	"context"
	"fmt"
)

// AuthorizeParams captures everything the provider needs to place a hold on
// the buyer's payment method. Amounts are integer cents.
type AuthorizeParams struct {
	AmountCents    int64
	Currency       string
	JobID          string
	BuyerID        string
	SellerID       string
	IdempotencyKey string
}

// Authorization is the escrow reference handed back by the provider.
type Authorization struct {
	PaymentIntentID string
	ClientSecret    string
}

// CaptureResult reports a completed (or previously completed) capture.
type CaptureResult struct {
	PaymentIntentID string
	AlreadyCaptured bool
}

// RefundResult reports a completed (or previously completed) refund.
type RefundResult struct {
	PaymentIntentID string
	AlreadyRefunded bool
}

// Gateway wraps the provider's two-phase payment primitives. Every operation
// is safe to retry with the same payment intent id: the implementation either
// uses the provider's idempotency facility or treats "already done" responses
// as success.
type Gateway interface {
	Authorize(ctx context.Context, params AuthorizeParams) (Authorization, error)
	Capture(ctx context.Context, paymentIntentID string) (CaptureResult, error)
	Refund(ctx context.Context, paymentIntentID string) (RefundResult, error)
}

// GatewayError distinguishes retryable transport failures from terminal
// provider rejections.
type GatewayError struct {
	Op        string
	Status    int
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payments: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("payments: %s: provider returned status %d", e.Op, e.Status)
}

func (e *GatewayError) Unwrap() error { return e.Err }
