package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
)

// createIntentRequest is the body of POST /api/create-payment-intent
type createIntentRequest struct {
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	DonorName  string  `json:"donorName"`
	DonorEmail string  `json:"donorEmail"`
}

// confirmPaymentRequest is the body of POST /api/confirm-payment
type confirmPaymentRequest struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentMethodID string `json:"paymentMethodId"`
	DonorName       string `json:"donorName"`
	DonorEmail      string `json:"donorEmail"`
}

// APIServer serves the donation site's HTTP API: payment intent creation,
// payment confirmation, redirect-return status resolution, the CMS content
// proxy, and the Stripe webhook endpoint.
type APIServer struct {
	provider       PaymentProvider
	store          DonationStore
	flow           *ConfirmFlow
	cms            *CMSClient
	webhooks       *StripeWebhookHandler
	publishableKey string
	server         *http.Server
}

func NewAPIServer(provider PaymentProvider, store DonationStore, flow *ConfirmFlow, cms *CMSClient, webhooks *StripeWebhookHandler, publishableKey, port string) *APIServer {
	s := &APIServer{
		provider:       provider,
		store:          store,
		flow:           flow,
		cms:            cms,
		webhooks:       webhooks,
		publishableKey: publishableKey,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("POST /api/create-payment-intent", s.handleCreatePaymentIntent)
	mux.HandleFunc("POST /api/confirm-payment", s.handleConfirmPayment)
	mux.HandleFunc("GET /api/payment-status", s.handlePaymentStatus)
	mux.HandleFunc("GET /api/newsletters", s.handleListNewsletters)
	mux.HandleFunc("GET /api/newsletters/{slug}", s.handleNewsletterBySlug)
	mux.HandleFunc("/api/stripe-webhook", webhooks.HandleWebhook) // method checked inside, 405 with Allow header
	mux.HandleFunc("GET /health", s.handleHealth)

	s.server = &http.Server{
		Addr:           ":" + port,
		Handler:        mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	return s
}

// Start begins listening for HTTP requests
func (s *APIServer) Start() error {
	log.Printf("[HTTP] Starting API server on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server
func (s *APIServer) Shutdown(ctx context.Context) error {
	log.Println("[HTTP] Shutting down API server...")
	return s.server.Shutdown(ctx)
}

// handleConfig exposes the client-safe configuration the donation page needs
// to load the hosted payment element. Only the publishable key ever appears
// here; server-side secrets have no client-safe form.
func (s *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"publishableKey": s.publishableKey,
	})
}

// handleCreatePaymentIntent validates the requested amount, creates a payment
// intent with donor metadata, records the pending donation, and returns the
// client secret. One secret is valid for exactly one amount; the browser
// re-requests whenever the amount changes.
func (s *APIServer) handleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body.", http.StatusBadRequest)
		return
	}

	// Reject before any processor traffic
	if req.Amount <= 0 {
		writeJSONError(w, "Valid amount is required.", http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		req.Currency = "usd"
	}

	amountCents := MinorUnits(req.Amount)

	result, err := s.provider.CreateIntent(r.Context(), CreateIntentParams{
		Amount:     amountCents,
		Currency:   req.Currency,
		DonorName:  req.DonorName,
		DonorEmail: req.DonorEmail,
	})
	if err != nil {
		log.Printf("[API] Error creating PaymentIntent: %v", err)
		writeJSONError(w, upstreamMessage(err), http.StatusInternalServerError)
		return
	}

	// Bookkeeping only: the donation proceeds even if the record fails, and
	// the webhook handler tolerates the missing row.
	if err := s.store.CreateDonation(r.Context(), &Donation{
		AmountCents:      amountCents,
		Currency:         req.Currency,
		DonorName:        req.DonorName,
		DonorEmail:       req.DonorEmail,
		ProviderIntentID: result.PaymentIntentID,
	}); err != nil {
		log.Printf("[API] Failed to record donation for intent %s: %v", result.PaymentIntentID, err)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"clientSecret": result.ClientSecret,
	})
}

// handleConfirmPayment drives the two-phase confirmation flow for a collected
// payment method against the intent named by the client secret.
func (s *APIServer) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body.", http.StatusBadRequest)
		return
	}
	if req.ClientSecret == "" {
		writeJSONError(w, "Client secret is required.", http.StatusBadRequest)
		return
	}

	outcome, err := s.flow.Confirm(r.Context(), req.ClientSecret, CollectedPayment{
		PaymentMethodID: req.PaymentMethodID,
		BillingName:     req.DonorName,
		BillingEmail:    req.DonorEmail,
	})
	if err != nil {
		if errors.Is(err, ErrPaymentDetailsIncomplete) {
			writeJSONError(w, "Card details are not complete.", http.StatusBadRequest)
			return
		}
		log.Printf("[API] Error confirming payment: %v", err)
		writeJSONError(w, upstreamMessage(err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, outcomeResponse(outcome))
}

// handlePaymentStatus resolves the redirect back from step-up authentication.
// Read-only: reloading the return URL re-queries status, never re-confirms.
func (s *APIServer) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	clientSecret := r.URL.Query().Get("payment_intent_client_secret")
	if clientSecret == "" {
		writeJSONError(w, "payment_intent_client_secret is required.", http.StatusBadRequest)
		return
	}

	outcome, err := s.flow.ResolveReturn(r.Context(), clientSecret)
	if err != nil {
		if errors.Is(err, ErrClientSecretMismatch) {
			writeJSONError(w, "Payment could not be verified.", http.StatusBadRequest)
			return
		}
		log.Printf("[API] Error resolving payment status: %v", err)
		writeJSONError(w, upstreamMessage(err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, outcomeResponse(outcome))
}

// handleListNewsletters proxies the CMS newsletter list
func (s *APIServer) handleListNewsletters(w http.ResponseWriter, r *http.Request) {
	newsletters, err := s.cms.ListNewsletters(r.Context())
	if err != nil {
		log.Printf("[API] Error listing newsletters: %v", err)
		writeJSONError(w, "Could not load newsletters.", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": newsletters})
}

// handleNewsletterBySlug proxies a single newsletter lookup
func (s *APIServer) handleNewsletterBySlug(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	newsletter, err := s.cms.NewsletterBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, ErrNewsletterNotFound) {
			writeJSONError(w, "Newsletter not found.", http.StatusNotFound)
			return
		}
		log.Printf("[API] Error fetching newsletter %q: %v", slug, err)
		writeJSONError(w, "Could not load newsletter.", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": newsletter})
}

// HandleHealth provides a health check endpoint
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// outcomeResponse shapes a confirmation outcome for the browser
func outcomeResponse(outcome *ConfirmOutcome) map[string]string {
	resp := map[string]string{"status": outcome.Status}
	if outcome.RedirectURL != "" {
		resp["redirectUrl"] = outcome.RedirectURL
	}
	if outcome.Message != "" {
		resp["message"] = outcome.Message
	}
	return resp
}

// upstreamMessage extracts the processor's own message when the error wraps a
// Stripe error, falling back to a generic line. Never includes secrets.
func upstreamMessage(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	return "Failed to initialize payment."
}

// writeJSON writes a JSON response body with the given status
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeJSONError writes an error response in the {"error": ...} shape
func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
