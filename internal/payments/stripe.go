package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
)

// Charger collects a membership payment. Ride settlement never touches a
// payment provider; only paid membership grants do.
type Charger interface {
	Charge(ctx context.Context, amountCents int64, currency, accountID string) (string, error)
}

// StripeCharger is a thin wrapper around stripe-go PaymentIntents.
type StripeCharger struct{}

// NewStripeCharger initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeCharger() *StripeCharger {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeCharger{}
}

// Charge creates and immediately confirms a PaymentIntent for the amount.
// It returns the PaymentIntent ID on success.
func (s *StripeCharger) Charge(ctx context.Context, amountCents int64, currency, accountID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	if accountID != "" {
		params.Customer = stripe.String(accountID)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", faults.Wrap(faults.Transient, "payment provider error", err)
	}
	return pi.ID, nil
}

// NopCharger accepts every charge; used when no provider key is configured.
type NopCharger struct{}

func (NopCharger) Charge(ctx context.Context, amountCents int64, currency, accountID string) (string, error) {
	return "charge-disabled", nil
}
