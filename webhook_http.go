package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// webhookProcessor handles an authenticated event. Implemented by
// WebhookHandler; tests substitute fakes.
type webhookProcessor interface {
	ProcessStripeWebhook(ctx context.Context, event stripe.Event) error
}

// StripeWebhookHandler is the HTTP front for webhook deliveries: it verifies
// the signature against the raw body and hands verified events to the
// processor. Verification failures never reach the processor.
type StripeWebhookHandler struct {
	processor     webhookProcessor
	webhookSecret string
}

func NewStripeWebhookHandler(processor webhookProcessor, webhookSecret string) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		processor:     processor,
		webhookSecret: webhookSecret,
	}
}

// HandleWebhook processes incoming Stripe webhook requests
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Misconfiguration is a server problem; say nothing about which secret
	if h.webhookSecret == "" {
		log.Printf("[Webhook] STRIPE_WEBHOOK_SECRET is not configured")
		writeJSONError(w, "Webhook secret not configured.", http.StatusInternalServerError)
		return
	}

	// Limit request body size (64KB max, per Stripe guidance)
	const maxBodyBytes = 65536
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[Webhook] Failed to read body: %v", err)
		writeJSONError(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		log.Printf("[Webhook] Missing Stripe-Signature header")
		writeJSONError(w, "Missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	// Verify signature and construct event from the raw body.
	// IgnoreAPIVersionMismatch allows Stripe CLI deliveries built against a
	// different API version than the SDK.
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signature,
		h.webhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		log.Printf("[Webhook] Signature verification failed: %v", err)
		writeJSONError(w, "Webhook signature verification failed", http.StatusBadRequest)
		return
	}

	log.Printf("[Webhook] Received verified event: id=%s, type=%s", event.ID, event.Type)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.processor.ProcessStripeWebhook(ctx, event); err != nil {
		log.Printf("[Webhook] Processing failed: %v", err)
		writeJSONError(w, "Webhook processing failed", http.StatusInternalServerError)
		return
	}

	// Acknowledge so Stripe stops redelivering
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"received": true})
}
