// Package pgstore keeps the credit ledger in a hosted Postgres database.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	scanerrors "github.com/theboatscanner/boatscanner/internal/errors"
	"github.com/theboatscanner/boatscanner/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_credits (
  uid                  TEXT PRIMARY KEY,
  email                TEXT,
  free_credits         INTEGER NOT NULL DEFAULT 0 CHECK (free_credits >= 0),
  paid_credits         INTEGER NOT NULL DEFAULT 0 CHECK (paid_credits >= 0),
  subscribed_until     TIMESTAMPTZ,
  review_modal_shown   BOOLEAN NOT NULL DEFAULT FALSE,
  review_bonus_awarded BOOLEAN NOT NULL DEFAULT FALSE,
  created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store is a pgxpool-backed credit store. It implements ledger.Store.
type Store struct {
	pool          *pgxpool.Pool
	signupCredits int
}

// New connects to dbURL and ensures the user_credits table exists.
func New(ctx context.Context, dbURL string, signupCredits int) (*Store, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create user_credits: %w", err)
	}
	return &Store{pool: pool, signupCredits: signupCredits}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// FetchBalance returns the balance of uid, creating the row on first sight.
// Known users are a plain read; the signup upsert runs only on a miss.
func (s *Store) FetchBalance(ctx context.Context, uid string) (ledger.CreditState, error) {
	state, err := s.readBalance(ctx, uid)
	if !errors.Is(err, pgx.ErrNoRows) {
		return state, err
	}

	if err := s.EnsureUser(ctx, uid, ""); err != nil {
		return ledger.CreditState{}, err
	}
	state, err = s.readBalance(ctx, uid)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.CreditState{}, scanerrors.NewNotFound("user", uid)
	}
	return state, err
}

// readBalance returns pgx.ErrNoRows unwrapped for a missing row and an
// INTERNAL error for anything else.
func (s *Store) readBalance(ctx context.Context, uid string) (ledger.CreditState, error) {
	var (
		free, paid int
		until      *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT free_credits, paid_credits, subscribed_until FROM user_credits WHERE uid = $1`, uid,
	).Scan(&free, &paid, &until)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.CreditState{}, err
	}
	if err != nil {
		return ledger.CreditState{}, scanerrors.NewInternal(err)
	}
	if until != nil {
		u := until.UTC()
		until = &u
	}
	return ledger.CreditState{
		FreeCredits:     uint(max(free, 0)),
		PaidCredits:     uint(max(paid, 0)),
		SubscribedUntil: until,
	}, nil
}

// DebitOneCredit removes one credit, free before paid, in a single statement.
func (s *Store) DebitOneCredit(ctx context.Context, uid string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_credits
		SET free_credits = CASE WHEN free_credits > 0 THEN free_credits - 1 ELSE free_credits END,
			paid_credits = CASE WHEN free_credits > 0 THEN paid_credits ELSE paid_credits - 1 END,
			updated_at = now()
		WHERE uid = $1 AND (free_credits > 0 OR paid_credits > 0)
	`, uid)
	if err != nil {
		return false, scanerrors.NewInternal(err)
	}
	return tag.RowsAffected() == 1, nil
}

// EnsureUser creates the row for uid with the signup grant and records email when known.
func (s *Store) EnsureUser(ctx context.Context, uid, email string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_credits (uid, email, free_credits)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (uid) DO UPDATE SET
			email = COALESCE(user_credits.email, EXCLUDED.email)
	`, uid, email, max(s.signupCredits, 0))
	if err != nil {
		return scanerrors.NewInternal(err)
	}
	return nil
}

func (s *Store) AddPaidCredits(ctx context.Context, uid string, amount int) error {
	if amount <= 0 {
		return scanerrors.NewInvalidRequest("amount must be positive")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_credits (uid, paid_credits) VALUES ($1, $2)
		ON CONFLICT (uid) DO UPDATE SET
			paid_credits = user_credits.paid_credits + EXCLUDED.paid_credits,
			updated_at = now()
	`, uid, amount)
	if err != nil {
		return scanerrors.NewInternal(err)
	}
	return nil
}

func (s *Store) SetSubscribedUntil(ctx context.Context, uid string, until time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_credits (uid, subscribed_until) VALUES ($1, $2)
		ON CONFLICT (uid) DO UPDATE SET
			subscribed_until = EXCLUDED.subscribed_until,
			updated_at = now()
	`, uid, until)
	if err != nil {
		return scanerrors.NewInternal(err)
	}
	return nil
}

// AwardReviewBonus adds amount free credits the first time it is called for uid.
func (s *Store) AwardReviewBonus(ctx context.Context, uid string, amount int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_credits
		SET free_credits = free_credits + $2, review_bonus_awarded = TRUE, updated_at = now()
		WHERE uid = $1 AND NOT review_bonus_awarded
	`, uid, max(amount, 0))
	if err != nil {
		return false, scanerrors.NewInternal(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ReviewModalShown(ctx context.Context, uid string) (bool, error) {
	var shown bool
	err := s.pool.QueryRow(ctx,
		`SELECT review_modal_shown FROM user_credits WHERE uid = $1`, uid,
	).Scan(&shown)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, scanerrors.NewNotFound("user", uid)
	}
	if err != nil {
		return false, scanerrors.NewInternal(err)
	}
	return shown, nil
}

func (s *Store) MarkReviewModalShown(ctx context.Context, uid string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_credits SET review_modal_shown = TRUE, updated_at = now() WHERE uid = $1`, uid)
	if err != nil {
		return scanerrors.NewInternal(err)
	}
	if tag.RowsAffected() == 0 {
		return scanerrors.NewNotFound("user", uid)
	}
	return nil
}
