package main

import (
	"context"
	"testing"

	"github.com/riverqueue/river"
)

// TestCleanupWorkerCancelsExpiredIntents: every expired donation with an
// intent gets its intent canceled upstream.
func TestCleanupWorkerCancelsExpiredIntents(t *testing.T) {
	store := &fakeStore{expired: []Donation{
		{ID: "don_1", ProviderIntentID: "pi_1", Status: DonationExpired},
		{ID: "don_2", ProviderIntentID: "pi_2", Status: DonationExpired},
		{ID: "don_3", ProviderIntentID: "", Status: DonationExpired}, // never got an intent
	}}
	provider := &fakeProvider{}
	worker := NewCleanupWorker(store, provider)

	err := worker.Work(context.Background(), &river.Job[CleanupWorkerArgs]{
		Args: CleanupWorkerArgs{TTLSeconds: 3600},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.cancelCalls != 2 {
		t.Errorf("canceled %d intents, want 2", provider.cancelCalls)
	}
}

func TestCleanupWorkerNothingToExpire(t *testing.T) {
	provider := &fakeProvider{}
	worker := NewCleanupWorker(&fakeStore{}, provider)

	err := worker.Work(context.Background(), &river.Job[CleanupWorkerArgs]{
		Args: CleanupWorkerArgs{TTLSeconds: 3600},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.cancelCalls != 0 {
		t.Errorf("canceled %d intents, want 0", provider.cancelCalls)
	}
}
