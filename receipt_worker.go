package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/riverqueue/river"
)

// ReceiptWorkerArgs contains the arguments for ReceiptWorker, enqueued from
// the payment_intent.succeeded webhook handler.
type ReceiptWorkerArgs struct {
	EventID         string `json:"event_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	DonorName       string `json:"donor_name"`
	DonorEmail      string `json:"donor_email"`
}

// Kind returns the job kind identifier for River
func (ReceiptWorkerArgs) Kind() string {
	return "send_donation_receipt"
}

// InsertOpts deduplicates receipt jobs per webhook event, so a redelivered
// event that slips past the ledger still produces at most one receipt.
func (a ReceiptWorkerArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
		},
	}
}

// ReceiptWorker performs the confirmation bookkeeping for a completed
// donation. Delivery of an actual receipt email is the concrete followup;
// until a mail provider is wired in, this logs the receipt line.
type ReceiptWorker struct {
	river.WorkerDefaults[ReceiptWorkerArgs]
	store DonationStore
}

func NewReceiptWorker(store DonationStore) *ReceiptWorker {
	return &ReceiptWorker{store: store}
}

// Work processes a single receipt job
func (w *ReceiptWorker) Work(ctx context.Context, job *river.Job[ReceiptWorkerArgs]) error {
	args := job.Args

	log.Printf("[Receipt] Processing receipt for intent %s (event %s)", args.PaymentIntentID, args.EventID)

	donation, err := w.store.DonationByIntent(ctx, args.PaymentIntentID)
	if err != nil {
		return fmt.Errorf("fetch donation: %w", err)
	}

	// Re-runs after a partial failure must not double-send
	if donation.Status != DonationSucceeded {
		log.Printf("[Receipt] Donation %s is %s, not succeeded - skipping receipt", donation.ID, donation.Status)
		return nil
	}

	log.Printf("[Receipt] ✓ Donation of %.2f %s from %s <%s> acknowledged (donation %s)",
		float64(args.AmountCents)/100, strings.ToUpper(args.Currency),
		args.DonorName, args.DonorEmail, donation.ID)

	// TODO: send the thank-you email once a mail provider is configured
	return nil
}
