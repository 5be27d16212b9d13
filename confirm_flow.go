package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// Confirmation outcomes, provider-status-neutral
const (
	OutcomeSucceeded      = "succeeded"
	OutcomeProcessing     = "processing"
	OutcomeRequiresAction = "requires_action"
	OutcomeFailed         = "failed"
)

var (
	// ErrPaymentDetailsIncomplete aborts the confirm step before any intent
	// confirmation is attempted.
	ErrPaymentDetailsIncomplete = errors.New("payment details are incomplete")

	// ErrClientSecretMismatch means the secret in a return URL does not match
	// the intent it claims to belong to.
	ErrClientSecretMismatch = errors.New("client secret does not match payment intent")
)

// ConfirmOutcome is the terminal or interim result of a confirmation attempt.
type ConfirmOutcome struct {
	Status      string // One of the Outcome* constants
	RedirectURL string // Set when Status is OutcomeRequiresAction
	Message     string // Processor's message for declines and interim states
}

// CollectedPayment is the packaged output of the hosted payment element:
// a payment method reference plus the billing details typed into the form.
type CollectedPayment struct {
	PaymentMethodID string
	BillingName     string
	BillingEmail    string
}

// ConfirmFlow drives the two-phase confirmation protocol: collect-phase
// validation of the packaged payment details, then a confirm call against the
// intent handle with a return URL for redirect-based step-up authentication.
type ConfirmFlow struct {
	provider  PaymentProvider
	returnURL string
}

func NewConfirmFlow(provider PaymentProvider, returnURL string) *ConfirmFlow {
	return &ConfirmFlow{
		provider:  provider,
		returnURL: returnURL,
	}
}

// Confirm submits the collected payment against the intent identified by
// clientSecret. A collect-phase failure returns ErrPaymentDetailsIncomplete
// without touching the processor.
func (f *ConfirmFlow) Confirm(ctx context.Context, clientSecret string, collected CollectedPayment) (*ConfirmOutcome, error) {
	// Collect phase
	if collected.PaymentMethodID == "" {
		return nil, ErrPaymentDetailsIncomplete
	}

	intentID, err := PaymentIntentIDFromClientSecret(clientSecret)
	if err != nil {
		return nil, err
	}

	// Confirm phase
	result, err := f.provider.ConfirmIntent(ctx, ConfirmIntentParams{
		PaymentIntentID: intentID,
		PaymentMethodID: collected.PaymentMethodID,
		ReturnURL:       f.returnURL,
	})
	if err != nil {
		return nil, err
	}

	return outcomeFromResult(result), nil
}

// ResolveReturn handles the redirect back from step-up authentication. The
// return URL carries the intent's client secret; the intent is re-queried and
// its status mapped without re-confirming, so reloading the return URL can
// never double-charge.
func (f *ConfirmFlow) ResolveReturn(ctx context.Context, clientSecret string) (*ConfirmOutcome, error) {
	intentID, err := PaymentIntentIDFromClientSecret(clientSecret)
	if err != nil {
		return nil, err
	}

	result, err := f.provider.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	// The secret from the URL must belong to the intent it names; anything
	// else is a forged or mangled return URL.
	if result.ClientSecret != clientSecret {
		log.Printf("[Confirm] Client secret mismatch for intent %s", intentID)
		return nil, ErrClientSecretMismatch
	}

	return outcomeFromResult(result), nil
}

// outcomeFromResult maps a provider intent status onto a confirmation outcome
func outcomeFromResult(result *PaymentIntentResult) *ConfirmOutcome {
	switch result.Status {
	case "succeeded":
		return &ConfirmOutcome{Status: OutcomeSucceeded}
	case "processing":
		return &ConfirmOutcome{
			Status:  OutcomeProcessing,
			Message: "Your payment is processing.",
		}
	case "requires_action":
		return &ConfirmOutcome{
			Status:      OutcomeRequiresAction,
			RedirectURL: result.RedirectURL,
		}
	default:
		// requires_payment_method after a decline, canceled, etc.
		message := result.FailureMessage
		if message == "" {
			message = "Payment failed. Please try again."
		}
		return &ConfirmOutcome{
			Status:  OutcomeFailed,
			Message: message,
		}
	}
}

// PaymentIntentIDFromClientSecret derives the intent ID from its client
// secret (pi_..._secret_...). The secret itself is never logged.
func PaymentIntentIDFromClientSecret(clientSecret string) (string, error) {
	id, _, found := strings.Cut(clientSecret, "_secret")
	if !found || id == "" {
		return "", fmt.Errorf("malformed client secret")
	}
	return id, nil
}
