package ops

import (
	"context"
	"time"

	"github.com/theboatscanner/boatscanner/internal/errors"
)

// CreditsInput contains parameters for the Credits operation.
type CreditsInput struct {
	UserID string // required
	Email  string
}

// Credits returns the user's balance, creating the account with the signup
// grant on first sight.
func Credits(ctx context.Context, d *Deps, input CreditsInput) (*CreditsOutput, error) {
	uid, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	if err := d.Credits.EnsureUser(ctx, uid, input.Email); err != nil {
		return nil, err
	}
	state, err := d.Credits.FetchBalance(ctx, uid)
	if err != nil {
		return nil, err
	}
	out := creditsOutput(state, d.now())
	return &out, nil
}

// GrantCreditsInput contains parameters for the GrantCredits operation.
type GrantCreditsInput struct {
	UserID string // required
	Amount int    // required, > 0
}

// GrantCredits adds paid credits outside of a checkout (support refunds, manual top-ups).
func GrantCredits(ctx context.Context, d *Deps, input GrantCreditsInput) (*CreditsOutput, error) {
	uid, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	if input.Amount <= 0 {
		return nil, errors.NewInvalidRequest("amount must be positive")
	}
	if err := d.Credits.AddPaidCredits(ctx, uid, input.Amount); err != nil {
		return nil, err
	}
	return Credits(ctx, d, CreditsInput{UserID: uid})
}

// SubscribeInput contains parameters for the Subscribe operation.
type SubscribeInput struct {
	UserID string        // required
	For    time.Duration // required, > 0; counted from now
}

// Subscribe sets the user's subscription to expire For from now.
func Subscribe(ctx context.Context, d *Deps, input SubscribeInput) (*CreditsOutput, error) {
	uid, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	if input.For <= 0 {
		return nil, errors.NewInvalidRequest("subscription duration must be positive")
	}
	if err := d.Credits.SetSubscribedUntil(ctx, uid, d.now().Add(input.For).UTC()); err != nil {
		return nil, err
	}
	return Credits(ctx, d, CreditsInput{UserID: uid})
}
