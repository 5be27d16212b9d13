package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Donation statuses
const (
	DonationPending   = "pending"
	DonationSucceeded = "succeeded"
	DonationFailed    = "failed"
	DonationCanceled  = "canceled"
	DonationExpired   = "expired"
)

// Donation is one donation attempt, created when a payment intent is issued
// and resolved by webhook delivery.
type Donation struct {
	ID               string
	AmountCents      int64
	Currency         string
	DonorName        string
	DonorEmail       string
	ProviderIntentID string
	Status           string
	FailureMessage   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DonationStore persists donation records. The pgx implementation is below;
// HTTP handlers and workers depend on the interface so tests can fake it.
type DonationStore interface {
	CreateDonation(ctx context.Context, d *Donation) error
	DonationByIntent(ctx context.Context, providerIntentID string) (*Donation, error)
	// ExpireStaleDonations marks pending donations older than ttl as expired
	// and returns them so their intents can be canceled upstream.
	ExpireStaleDonations(ctx context.Context, ttl time.Duration) ([]Donation, error)
}

// PgxDonationStore implements DonationStore on a PostgreSQL pool
type PgxDonationStore struct {
	dbPool *pgxpool.Pool
}

func NewPgxDonationStore(dbPool *pgxpool.Pool) *PgxDonationStore {
	return &PgxDonationStore{dbPool: dbPool}
}

// CreateDonation inserts a pending donation record, assigning an ID when the
// caller left it empty.
func (s *PgxDonationStore) CreateDonation(ctx context.Context, d *Donation) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DonationPending
	}

	_, err := s.dbPool.Exec(ctx, `
		INSERT INTO donations (
			id,
			amount_cents,
			currency,
			donor_name,
			donor_email,
			provider_intent_id,
			status,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, d.ID, d.AmountCents, d.Currency, d.DonorName, d.DonorEmail, d.ProviderIntentID, d.Status)
	if err != nil {
		return fmt.Errorf("insert donation: %w", err)
	}

	log.Printf("[Store] ✓ Donation %s recorded (intent=%s, amount=%d %s)",
		d.ID, d.ProviderIntentID, d.AmountCents, d.Currency)
	return nil
}

// DonationByIntent fetches the donation for a provider intent ID
func (s *PgxDonationStore) DonationByIntent(ctx context.Context, providerIntentID string) (*Donation, error) {
	var d Donation
	err := s.dbPool.QueryRow(ctx, `
		SELECT
			id,
			amount_cents,
			currency,
			donor_name,
			donor_email,
			provider_intent_id,
			status,
			COALESCE(failure_message, ''),
			created_at,
			updated_at
		FROM donations
		WHERE provider_intent_id = $1
	`, providerIntentID).Scan(
		&d.ID,
		&d.AmountCents,
		&d.Currency,
		&d.DonorName,
		&d.DonorEmail,
		&d.ProviderIntentID,
		&d.Status,
		&d.FailureMessage,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("donation not found for intent %s", providerIntentID)
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &d, nil
}

// ExpireStaleDonations marks old pending donations as expired
func (s *PgxDonationStore) ExpireStaleDonations(ctx context.Context, ttl time.Duration) ([]Donation, error) {
	rows, err := s.dbPool.Query(ctx, `
		UPDATE donations
		SET status = $1, updated_at = NOW()
		WHERE status = $2
		  AND created_at < NOW() - $3::interval
		RETURNING id, provider_intent_id, amount_cents, currency
	`, DonationExpired, DonationPending, fmt.Sprintf("%d seconds", int64(ttl.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("expire donations: %w", err)
	}
	defer rows.Close()

	var expired []Donation
	for rows.Next() {
		var d Donation
		if err := rows.Scan(&d.ID, &d.ProviderIntentID, &d.AmountCents, &d.Currency); err != nil {
			return nil, fmt.Errorf("scan expired donation: %w", err)
		}
		d.Status = DonationExpired
		expired = append(expired, d)
	}
	return expired, rows.Err()
}
