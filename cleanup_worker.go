package main

import (
	"context"
	"log"
	"time"

	"github.com/riverqueue/river"
)

// CleanupWorkerArgs contains the arguments for CleanupWorker
type CleanupWorkerArgs struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

// Kind returns the job kind identifier for River
func (CleanupWorkerArgs) Kind() string {
	return "expire_stale_donations"
}

// InsertOpts keeps at most one sweep queued at a time
func (CleanupWorkerArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 15 * time.Minute,
		},
	}
}

// CleanupWorker expires donations whose payment intent was issued but never
// confirmed. Changing the amount abandons the previous intent rather than
// canceling it, so this sweep is what eventually cancels those upstream.
type CleanupWorker struct {
	river.WorkerDefaults[CleanupWorkerArgs]
	store    DonationStore
	provider PaymentProvider
}

func NewCleanupWorker(store DonationStore, provider PaymentProvider) *CleanupWorker {
	return &CleanupWorker{
		store:    store,
		provider: provider,
	}
}

// Work runs one expiry sweep
func (w *CleanupWorker) Work(ctx context.Context, job *river.Job[CleanupWorkerArgs]) error {
	ttl := time.Duration(job.Args.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	log.Printf("[Cleanup] Expiring pending donations older than %s", ttl)

	expired, err := w.store.ExpireStaleDonations(ctx, ttl)
	if err != nil {
		return err
	}

	if len(expired) == 0 {
		log.Printf("[Cleanup] Nothing to expire")
		return nil
	}

	canceled := 0
	for _, d := range expired {
		if d.ProviderIntentID == "" {
			continue
		}
		// A cancel can race the donor completing payment in a stale tab;
		// Stripe rejects cancels on terminal intents, which is fine here.
		if err := w.provider.CancelIntent(ctx, d.ProviderIntentID); err != nil {
			log.Printf("[Cleanup] Could not cancel intent %s: %v", d.ProviderIntentID, err)
			continue
		}
		canceled++
	}

	log.Printf("[Cleanup] ✓ Expired %d donations, canceled %d intents upstream", len(expired), canceled)
	return nil
}
