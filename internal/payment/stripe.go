package payment

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Settlement is a thin wrapper around stripe-go used to mirror confirmed
// chat payments into the provider account as PaymentIntents. The chat
// platform carries the checkout itself; this records the captured charge
// for reconciliation.
type Settlement struct{}

// NewSettlement initializes the stripe client from the STRIPE_API_KEY env
// var and returns nil when no key is configured.
func NewSettlement() *Settlement {
	key := os.Getenv("STRIPE_API_KEY")
	if key == "" {
		return nil
	}
	stripe.Key = key
	return &Settlement{}
}

// Record creates a confirmed PaymentIntent mirroring a captured charge.
func (s *Settlement) Record(ctx context.Context, requestID string, amountMinor int64, currency string) error {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(currency),
	}
	params.AddMetadata("ride_request_id", requestID)
	_, err := paymentintent.New(params)
	return err
}

// Cancel releases a recorded PaymentIntent, used if reconciliation finds
// a duplicate.
func (s *Settlement) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
