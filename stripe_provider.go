package main

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
)

// donationDescription appears on the Stripe dashboard and the donor's statement metadata.
const donationDescription = "Zomi Youth Development Donation"

// PaymentProvider defines the interface for payment processors.
// Implemented by StripeProvider; tests substitute fakes.
type PaymentProvider interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntentResult, error)
	ConfirmIntent(ctx context.Context, params ConfirmIntentParams) (*PaymentIntentResult, error)
	RetrieveIntent(ctx context.Context, paymentIntentID string) (*PaymentIntentResult, error)
	CancelIntent(ctx context.Context, paymentIntentID string) error
}

// CreateIntentParams contains parameters for creating a payment intent
type CreateIntentParams struct {
	Amount     int64  // Amount in cents (e.g., 1000 = $10.00)
	Currency   string // Currency code (e.g., "usd")
	DonorName  string // Attached as free-form metadata, not structured billing
	DonorEmail string
}

// ConfirmIntentParams contains parameters for confirming a payment intent
type ConfirmIntentParams struct {
	PaymentIntentID string
	PaymentMethodID string // pm_... collected by the hosted payment element
	ReturnURL       string // Where step-up authentication redirects back to
}

// PaymentIntentResult contains the provider's view of a payment intent
type PaymentIntentResult struct {
	PaymentIntentID string // Stripe PaymentIntent ID (pi_...)
	ClientSecret    string // client_secret for Stripe Elements
	Status          string // Payment intent status (e.g., "requires_payment_method")
	Amount          int64  // Amount in cents
	Currency        string
	DonorName       string // From intent metadata
	DonorEmail      string
	RedirectURL     string // Set when status is requires_action with a redirect
	FailureMessage  string // Last payment error, if any
}

// MinorUnits converts an amount in major currency units to the smallest
// currency unit, rounding to the nearest cent (12.345 -> 1235, 10 -> 1000).
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// StripeProvider implements PaymentProvider for Stripe
type StripeProvider struct {
	apiKey string
}

// NewStripeProvider creates a new Stripe payment provider
func NewStripeProvider(apiKey string) *StripeProvider {
	if apiKey == "" {
		log.Fatal("[Stripe] STRIPE_SECRET_KEY is required")
	}

	// Set global API key for Stripe SDK
	stripe.Key = apiKey

	log.Printf("[Stripe] Provider initialized (key: %s)", maskAPIKey(apiKey))

	return &StripeProvider{
		apiKey: apiKey,
	}
}

// CreateIntent creates a Stripe PaymentIntent with donor metadata
func (s *StripeProvider) CreateIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntentResult, error) {
	log.Printf("[Stripe] Creating PaymentIntent: amount=%d %s", params.Amount, params.Currency)

	if params.Amount <= 0 {
		return nil, fmt.Errorf("invalid amount: %d (must be > 0)", params.Amount)
	}
	if params.Currency == "" {
		params.Currency = "usd"
	}

	intentParams := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(params.Amount),
		Currency:    stripe.String(params.Currency),
		Description: stripe.String(donationDescription),

		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	intentParams.Context = ctx
	intentParams.AddMetadata("donor_name", params.DonorName)
	intentParams.AddMetadata("donor_email", params.DonorEmail)

	intent, err := paymentintent.New(intentParams)
	if err != nil {
		log.Printf("[Stripe] Error creating PaymentIntent: %v", err)
		return nil, fmt.Errorf("stripe API error: %w", err)
	}

	log.Printf("[Stripe] ✓ PaymentIntent created: id=%s, status=%s, client_secret=%s",
		intent.ID, intent.Status, maskSecret(intent.ClientSecret))

	return resultFromIntent(intent), nil
}

// ConfirmIntent confirms a PaymentIntent against a collected payment method.
// Redirect-based step-up authentication surfaces as a requires_action status
// with a RedirectURL in the result.
func (s *StripeProvider) ConfirmIntent(ctx context.Context, params ConfirmIntentParams) (*PaymentIntentResult, error) {
	log.Printf("[Stripe] Confirming PaymentIntent %s", params.PaymentIntentID)

	confirmParams := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(params.PaymentMethodID),
		ReturnURL:     stripe.String(params.ReturnURL),
	}
	confirmParams.Context = ctx

	intent, err := paymentintent.Confirm(params.PaymentIntentID, confirmParams)
	if err != nil {
		log.Printf("[Stripe] Error confirming PaymentIntent %s: %v", params.PaymentIntentID, err)
		return nil, fmt.Errorf("stripe API error: %w", err)
	}

	log.Printf("[Stripe] ✓ PaymentIntent %s confirmed: status=%s", intent.ID, intent.Status)
	return resultFromIntent(intent), nil
}

// RetrieveIntent fetches the current state of a PaymentIntent. Read-only.
func (s *StripeProvider) RetrieveIntent(ctx context.Context, paymentIntentID string) (*PaymentIntentResult, error) {
	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = ctx

	intent, err := paymentintent.Get(paymentIntentID, getParams)
	if err != nil {
		log.Printf("[Stripe] Error retrieving PaymentIntent %s: %v", paymentIntentID, err)
		return nil, fmt.Errorf("stripe API error: %w", err)
	}

	return resultFromIntent(intent), nil
}

// CancelIntent cancels an abandoned PaymentIntent. Intents already in a
// terminal state cannot be canceled; callers treat that error as non-fatal.
func (s *StripeProvider) CancelIntent(ctx context.Context, paymentIntentID string) error {
	cancelParams := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("abandoned"),
	}
	cancelParams.Context = ctx

	_, err := paymentintent.Cancel(paymentIntentID, cancelParams)
	if err != nil {
		return fmt.Errorf("stripe API error: %w", err)
	}

	log.Printf("[Stripe] ✓ PaymentIntent %s canceled", paymentIntentID)
	return nil
}

// resultFromIntent maps a Stripe PaymentIntent onto the provider-neutral result
func resultFromIntent(intent *stripe.PaymentIntent) *PaymentIntentResult {
	result := &PaymentIntentResult{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Status:          string(intent.Status),
		Amount:          intent.Amount,
		Currency:        string(intent.Currency),
		DonorName:       intent.Metadata["donor_name"],
		DonorEmail:      intent.Metadata["donor_email"],
	}
	if intent.NextAction != nil && intent.NextAction.RedirectToURL != nil {
		result.RedirectURL = intent.NextAction.RedirectToURL.URL
	}
	if intent.LastPaymentError != nil {
		result.FailureMessage = intent.LastPaymentError.Msg
	}
	return result
}

// maskAPIKey masks API key for logging (show first 7 chars + last 4)
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 10 {
		return "***"
	}
	return apiKey[:7] + "..." + apiKey[len(apiKey)-4:]
}

// maskSecret masks a client_secret for logging (show first 12 chars only)
func maskSecret(secret string) string {
	if len(secret) <= 15 {
		return "***"
	}
	return secret[:12] + "..."
}
