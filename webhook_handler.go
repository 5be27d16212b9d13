package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/stripe/stripe-go/v81"
)

// webhookTx is one transactional webhook processing attempt. Effects become
// visible only on Commit; Rollback after a partial run leaves no trace,
// including the ledger row, so redelivery reprocesses the event from scratch.
type webhookTx interface {
	// InsertEvent records the event in the ledger. duplicate is true when the
	// event is already there, making this delivery a no-op.
	InsertEvent(ctx context.Context, event stripe.Event) (ledgerID string, duplicate bool, err error)
	// MarkDonationStatus updates the donation for an intent. Returns false
	// (and no error) when no row matches: intents abandoned after an amount
	// change still complete at Stripe but have no record worth updating.
	MarkDonationStatus(ctx context.Context, providerIntentID, status, failureMessage string) (bool, error)
	// MarkDonationCanceled cancels the donation for an intent only while it
	// is still pending.
	MarkDonationCanceled(ctx context.Context, providerIntentID string) (bool, error)
	EnqueueReceipt(ctx context.Context, args ReceiptWorkerArgs) error
	MarkEventProcessed(ctx context.Context, ledgerID string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// webhookStore opens webhook processing transactions
type webhookStore interface {
	Begin(ctx context.Context) (webhookTx, error)
}

// WebhookHandler processes verified Stripe webhook events inside a database
// transaction. The webhook ledger makes processing idempotent: redelivery of
// an event already in the ledger is a logged no-op.
type WebhookHandler struct {
	store webhookStore
}

func NewWebhookHandler(dbPool *pgxpool.Pool, riverClient *river.Client[pgx.Tx]) *WebhookHandler {
	return &WebhookHandler{
		store: &pgxWebhookStore{dbPool: dbPool, riverClient: riverClient},
	}
}

// ProcessStripeWebhook handles a verified Stripe webhook event.
// Returns nil on success (including duplicates), error triggers HTTP 500.
func (h *WebhookHandler) ProcessStripeWebhook(ctx context.Context, event stripe.Event) error {
	log.Printf("[Webhook] Processing event: id=%s, type=%s", event.ID, event.Type)

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // Auto-rollback if not committed

	ledgerID, duplicate, err := tx.InsertEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	if duplicate {
		// Duplicate delivery - already processed
		log.Printf("[Webhook] Duplicate event %s, skipping", event.ID)
		return nil // Return success (200 OK to Stripe)
	}

	var processingErr error
	switch event.Type {
	case "payment_intent.succeeded":
		processingErr = h.handlePaymentIntentSucceeded(ctx, tx, event)
	case "payment_intent.payment_failed":
		processingErr = h.handlePaymentIntentFailed(ctx, tx, event)
	case "payment_intent.canceled":
		processingErr = h.handlePaymentIntentCanceled(ctx, tx, event)
	case "payment_intent.processing", "payment_intent.requires_action":
		// Interim statuses; the browser flow reflects them, nothing to record
		intent, err := intentFromEvent(event)
		if err != nil {
			processingErr = err
		} else {
			log.Printf("[Webhook] PaymentIntent %s now %s", intent.ID, event.Type)
		}
	default:
		log.Printf("[Webhook] Unhandled event type '%s', marking as processed", event.Type)
	}

	if processingErr != nil {
		// Rollback discards the ledger row too, so redelivery reprocesses
		// the event from scratch.
		return processingErr
	}

	if err := tx.MarkEventProcessed(ctx, ledgerID); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	log.Printf("[Webhook] ✓ Event %s processed successfully", event.ID)
	return nil
}

// handlePaymentIntentSucceeded records the completed donation and queues
// receipt bookkeeping.
func (h *WebhookHandler) handlePaymentIntentSucceeded(ctx context.Context, tx webhookTx, event stripe.Event) error {
	intent, err := intentFromEvent(event)
	if err != nil {
		return err
	}

	donorName := intent.Metadata["donor_name"]
	if donorName == "" {
		donorName = "N/A"
	}
	donorEmail := intent.Metadata["donor_email"]
	if donorEmail == "" {
		donorEmail = "N/A"
	}

	log.Printf("[Webhook] Donation of %d %s received from %s (%s)",
		intent.Amount, intent.Currency, donorName, donorEmail)

	updated, err := tx.MarkDonationStatus(ctx, intent.ID, DonationSucceeded, "")
	if err != nil {
		return fmt.Errorf("update donation: %w", err)
	}
	if !updated {
		// No record - likely an intent abandoned when the donor changed the
		// amount but completed anyway in a stale tab. Safe to acknowledge.
		log.Printf("[Webhook] ⚠ No donation for intent %s (likely abandoned handle), acknowledging", intent.ID)
		return nil
	}

	if err := tx.EnqueueReceipt(ctx, ReceiptWorkerArgs{
		EventID:         event.ID,
		PaymentIntentID: intent.ID,
		AmountCents:     intent.Amount,
		Currency:        string(intent.Currency),
		DonorName:       donorName,
		DonorEmail:      donorEmail,
	}); err != nil {
		return fmt.Errorf("enqueue receipt job: %w", err)
	}

	log.Printf("[Webhook] ✓ Donation for intent %s marked succeeded, receipt queued", intent.ID)
	return nil
}

// handlePaymentIntentFailed records the failure reason on the donation
func (h *WebhookHandler) handlePaymentIntentFailed(ctx context.Context, tx webhookTx, event stripe.Event) error {
	intent, err := intentFromEvent(event)
	if err != nil {
		return err
	}

	reason := ""
	if intent.LastPaymentError != nil {
		reason = intent.LastPaymentError.Msg
	}
	log.Printf("[Webhook] PaymentIntent %s failed: %s", intent.ID, reason)

	updated, err := tx.MarkDonationStatus(ctx, intent.ID, DonationFailed, reason)
	if err != nil {
		return fmt.Errorf("update donation: %w", err)
	}
	if !updated {
		log.Printf("[Webhook] ⚠ No donation for intent %s (likely abandoned handle), acknowledging", intent.ID)
		return nil
	}

	log.Printf("[Webhook] ✓ Donation for intent %s marked failed", intent.ID)
	return nil
}

// handlePaymentIntentCanceled records cancellation (expiry sweep or manual)
func (h *WebhookHandler) handlePaymentIntentCanceled(ctx context.Context, tx webhookTx, event stripe.Event) error {
	intent, err := intentFromEvent(event)
	if err != nil {
		return err
	}

	log.Printf("[Webhook] PaymentIntent %s canceled", intent.ID)

	updated, err := tx.MarkDonationCanceled(ctx, intent.ID)
	if err != nil {
		return fmt.Errorf("update donation: %w", err)
	}
	if !updated {
		// Already expired by the cleanup sweep, or never recorded
		log.Printf("[Webhook] No pending donation for canceled intent %s, acknowledging", intent.ID)
	}
	return nil
}

// intentFromEvent unmarshals the payment intent carried in an event payload
func intentFromEvent(event stripe.Event) (*stripe.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("unmarshal payment_intent: %w", err)
	}
	return &intent, nil
}

// ===========================================================================
// PostgreSQL implementation
// ===========================================================================

// pgxWebhookStore implements webhookStore on the connection pool, with
// receipt jobs enqueued through River on the same transaction.
type pgxWebhookStore struct {
	dbPool      *pgxpool.Pool
	riverClient *river.Client[pgx.Tx]
}

func (s *pgxWebhookStore) Begin(ctx context.Context) (webhookTx, error) {
	tx, err := s.dbPool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxWebhookTx{tx: tx, riverClient: s.riverClient}, nil
}

type pgxWebhookTx struct {
	tx          pgx.Tx
	riverClient *river.Client[pgx.Tx]
}

func (t *pgxWebhookTx) InsertEvent(ctx context.Context, event stripe.Event) (string, bool, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return "", false, fmt.Errorf("marshal event: %w", err)
	}

	// Insert into the ledger with idempotency check
	var ledgerID string
	err = t.tx.QueryRow(ctx, `
		INSERT INTO webhook_events (
			provider,
			provider_event_id,
			event_type,
			payload,
			processed
		) VALUES ($1, $2, $3, $4, FALSE)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
		RETURNING id
	`, "stripe", event.ID, event.Type, eventJSON).Scan(&ledgerID)
	if err == pgx.ErrNoRows {
		return "", true, nil
	}
	if err != nil {
		return "", false, err
	}
	return ledgerID, false, nil
}

func (t *pgxWebhookTx) MarkDonationStatus(ctx context.Context, providerIntentID, status, failureMessage string) (bool, error) {
	result, err := t.tx.Exec(ctx, `
		UPDATE donations
		SET status = $1, failure_message = NULLIF($2, ''), updated_at = NOW()
		WHERE provider_intent_id = $3
	`, status, failureMessage, providerIntentID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (t *pgxWebhookTx) MarkDonationCanceled(ctx context.Context, providerIntentID string) (bool, error) {
	result, err := t.tx.Exec(ctx, `
		UPDATE donations
		SET status = $1, updated_at = NOW()
		WHERE provider_intent_id = $2
		  AND status = $3
	`, DonationCanceled, providerIntentID, DonationPending)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (t *pgxWebhookTx) EnqueueReceipt(ctx context.Context, args ReceiptWorkerArgs) error {
	_, err := t.riverClient.InsertTx(ctx, t.tx, args, nil)
	return err
}

func (t *pgxWebhookTx) MarkEventProcessed(ctx context.Context, ledgerID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE webhook_events
		SET processed = TRUE, processed_at = NOW(), error_message = NULL
		WHERE id = $1
	`, ledgerID)
	return err
}

func (t *pgxWebhookTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgxWebhookTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
