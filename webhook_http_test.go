package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v81"
)

const testWebhookSecret = "whsec_test_secret"

// fakeWebhookProcessor records which events reached dispatch
type fakeWebhookProcessor struct {
	events []stripe.Event
	err    error
}

func (f *fakeWebhookProcessor) ProcessStripeWebhook(ctx context.Context, event stripe.Event) error {
	f.events = append(f.events, event)
	return f.err
}

// signPayload builds a Stripe-Signature header for a raw payload, matching
// the v1 scheme (HMAC-SHA256 over "<timestamp>.<payload>").
func signPayload(payload []byte, secret string, ts time.Time) string {
	signed := fmt.Sprintf("%d.%s", ts.Unix(), payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func succeededEventPayload(eventID, intentID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"api_version": "2024-06-20",
		"type": "payment_intent.succeeded",
		"data": {
			"object": {
				"id": %q,
				"object": "payment_intent",
				"amount": 2500,
				"currency": "usd",
				"status": "succeeded",
				"metadata": {"donor_name": "Jane Doe", "donor_email": "jane@example.com"}
			}
		}
	}`, eventID, intentID))
}

func postWebhook(t *testing.T, handler *StripeWebhookHandler, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", strings.NewReader(string(payload)))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	handler.HandleWebhook(w, req)
	return w
}

func TestWebhookValidSignatureDispatches(t *testing.T) {
	processor := &fakeWebhookProcessor{}
	handler := NewStripeWebhookHandler(processor, testWebhookSecret)

	payload := succeededEventPayload("evt_1", "pi_1")
	w := postWebhook(t, handler, payload, signPayload(payload, testWebhookSecret, time.Now()))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	var resp map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if !resp["received"] {
		t.Errorf("response missing received=true: %v", resp)
	}

	if len(processor.events) != 1 {
		t.Fatalf("dispatched %d events, want 1", len(processor.events))
	}
	if processor.events[0].ID != "evt_1" {
		t.Errorf("dispatched event ID = %q", processor.events[0].ID)
	}
	if string(processor.events[0].Type) != "payment_intent.succeeded" {
		t.Errorf("dispatched event type = %q", processor.events[0].Type)
	}
}

// TestWebhookTamperedSignatureRejected: a bad signature is 400 and must not
// trigger any dispatch, independent of payload content.
func TestWebhookTamperedSignatureRejected(t *testing.T) {
	processor := &fakeWebhookProcessor{}
	handler := NewStripeWebhookHandler(processor, testWebhookSecret)

	payload := succeededEventPayload("evt_1", "pi_1")
	w := postWebhook(t, handler, payload, signPayload(payload, "whsec_wrong_secret", time.Now()))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(processor.events) != 0 {
		t.Fatalf("tampered event reached dispatch")
	}
}

func TestWebhookTamperedPayloadRejected(t *testing.T) {
	processor := &fakeWebhookProcessor{}
	handler := NewStripeWebhookHandler(processor, testWebhookSecret)

	payload := succeededEventPayload("evt_1", "pi_1")
	signature := signPayload(payload, testWebhookSecret, time.Now())

	// Body altered after signing
	tampered := []byte(strings.Replace(string(payload), `"amount": 2500`, `"amount": 1`, 1))
	w := postWebhook(t, handler, tampered, signature)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(processor.events) != 0 {
		t.Fatalf("tampered event reached dispatch")
	}
}

func TestWebhookMissingSignatureRejected(t *testing.T) {
	processor := &fakeWebhookProcessor{}
	handler := NewStripeWebhookHandler(processor, testWebhookSecret)

	w := postWebhook(t, handler, succeededEventPayload("evt_1", "pi_1"), "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(processor.events) != 0 {
		t.Fatalf("unsigned event reached dispatch")
	}
}

func TestWebhookStaleTimestampRejected(t *testing.T) {
	processor := &fakeWebhookProcessor{}
	handler := NewStripeWebhookHandler(processor, testWebhookSecret)

	payload := succeededEventPayload("evt_1", "pi_1")
	stale := signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour))
	w := postWebhook(t, handler, payload, stale)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(processor.events) != 0 {
		t.Fatalf("replayed event reached dispatch")
	}
}

func TestWebhookRejectsNonPost(t *testing.T) {
	handler := NewStripeWebhookHandler(&fakeWebhookProcessor{}, testWebhookSecret)

	req := httptest.NewRequest(http.MethodGet, "/api/stripe-webhook", nil)
	w := httptest.NewRecorder()
	handler.HandleWebhook(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
	if allow := w.Header().Get("Allow"); allow != http.MethodPost {
		t.Errorf("Allow header = %q, want POST", allow)
	}
}

// TestWebhookMissingSecretIs500: a missing signing secret is a server-side
// configuration error; the response says nothing about which secret.
func TestWebhookMissingSecretIs500(t *testing.T) {
	processor := &fakeWebhookProcessor{}
	handler := NewStripeWebhookHandler(processor, "")

	payload := succeededEventPayload("evt_1", "pi_1")
	w := postWebhook(t, handler, payload, signPayload(payload, testWebhookSecret, time.Now()))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if len(processor.events) != 0 {
		t.Fatalf("event dispatched despite missing secret")
	}
	if strings.Contains(w.Body.String(), testWebhookSecret) {
		t.Fatalf("response leaked the secret")
	}
}

// TestWebhookUnknownTypeAcknowledged: unrecognized but authentic events are
// dispatched (where the processor logs and ignores them) and acknowledged
// with 200 so Stripe stops redelivering.
func TestWebhookUnknownTypeAcknowledged(t *testing.T) {
	processor := &fakeWebhookProcessor{}
	handler := NewStripeWebhookHandler(processor, testWebhookSecret)

	payload := []byte(`{
		"id": "evt_2",
		"object": "event",
		"api_version": "2024-06-20",
		"type": "customer.created",
		"data": {"object": {"id": "cus_1", "object": "customer"}}
	}`)
	w := postWebhook(t, handler, payload, signPayload(payload, testWebhookSecret, time.Now()))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(processor.events) != 1 {
		t.Fatalf("dispatched %d events, want 1", len(processor.events))
	}
}

// TestWebhookProcessorFailureIs500: a dispatch failure returns 500 so the
// processor redelivers.
func TestWebhookProcessorFailureIs500(t *testing.T) {
	processor := &fakeWebhookProcessor{err: fmt.Errorf("database down")}
	handler := NewStripeWebhookHandler(processor, testWebhookSecret)

	payload := succeededEventPayload("evt_1", "pi_1")
	w := postWebhook(t, handler, payload, signPayload(payload, testWebhookSecret, time.Now()))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

// TestWebhookOversizedBodyRejected: bodies beyond the 64KB cap never reach
// signature verification.
func TestWebhookOversizedBodyRejected(t *testing.T) {
	processor := &fakeWebhookProcessor{}
	handler := NewStripeWebhookHandler(processor, testWebhookSecret)

	oversized := []byte(`{"padding": "` + strings.Repeat("x", 70000) + `"}`)
	w := postWebhook(t, handler, oversized, signPayload(oversized, testWebhookSecret, time.Now()))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(processor.events) != 0 {
		t.Fatalf("oversized event reached dispatch")
	}
}
