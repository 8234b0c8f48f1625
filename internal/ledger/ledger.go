// Package ledger gates and accounts for search attempts against a user's
// credit balance.
//
// The credit store is authoritative. A CreditState held by a caller is a cache:
// it is refreshed from the store after every charged search and may briefly
// under-count in the user's favour when a debit call fails. It must never
// over-count, so a search performs at most one debit.
package ledger

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/theboatscanner/boatscanner/internal/normalize"
)

// CreditState is a snapshot of a user's balance.
type CreditState struct {
	FreeCredits     uint       `json:"free_credits"`
	PaidCredits     uint       `json:"paid_credits"`
	SubscribedUntil *time.Time `json:"subscribed_until,omitempty"`
}

// Total returns free plus paid credits.
func (s CreditState) Total() uint {
	return s.FreeCredits + s.PaidCredits
}

// HasActiveSubscription reports whether SubscribedUntil is after now.
func (s CreditState) HasActiveSubscription(now time.Time) bool {
	return s.SubscribedUntil != nil && s.SubscribedUntil.After(now)
}

// Debited returns the state after a local one-credit decrement.
// Free credits are spent before paid credits; an empty balance stays empty.
func (s CreditState) Debited() CreditState {
	switch {
	case s.FreeCredits > 0:
		s.FreeCredits--
	case s.PaidCredits > 0:
		s.PaidCredits--
	}
	return s
}

// Store is the authoritative credit store.
type Store interface {
	// FetchBalance returns the user's current balance.
	FetchBalance(ctx context.Context, userID string) (CreditState, error)
	// DebitOneCredit removes one credit. A false result or an error means no debit occurred.
	DebitOneCredit(ctx context.Context, userID string) (bool, error)
}

// Image is an uploaded photo forwarded to the matcher.
type Image struct {
	Filename string
	MimeType string
	Data     []byte
}

// Matcher sends an image to the upstream matching service and returns its
// decoded JSON payload. An error is a transport failure.
type Matcher interface {
	Match(ctx context.Context, img Image) (any, error)
}

// ErrNoDebit is reported when the store declined a debit without an error.
var ErrNoDebit = errors.New("credit store declined the debit")

// Phase is a step of one search attempt.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseChecking Phase = "checking"
	PhaseInFlight Phase = "in_flight"
	PhaseSettled  Phase = "settled"
)

// Attempt is the result of AttemptSearch.
type Attempt struct {
	// Allowed is false when the search was blocked before any network call.
	Allowed bool
	// Outcome is the normalized upstream response; nil when blocked.
	Outcome *normalize.Response
	// Ledger is the caller's updated balance; nil when blocked.
	Ledger *CreditState
	// Charged reports whether a debit was requested for this attempt.
	Charged bool
	// DebitErr is set when a chargeable search could not be debited.
	// Ledger then holds the optimistic local decrement.
	DebitErr error
	// Phase is the last phase the attempt reached.
	Phase Phase
}

// Coordinator runs search attempts.
type Coordinator struct {
	store   Store
	matcher Matcher
	now     func() time.Time
	logger  *log.Logger
	observe func(Phase)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the clock used for subscription checks.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger overrides the logger used for debit failures.
func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithObserver registers a callback invoked on every phase transition.
func WithObserver(fn func(Phase)) Option {
	return func(c *Coordinator) { c.observe = fn }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store Store, matcher Matcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		matcher: matcher,
		now:     time.Now,
		logger:  log.Default(),
		observe: func(Phase) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the coordinator's clock reading.
func (c *Coordinator) Now() time.Time {
	return c.now()
}

// AttemptSearch runs one search attempt for userID with the caller's cached state.
//
// Blocked (no subscription, no credits): returns Allowed=false without calling
// the matcher or the store. Transport failure: Outcome is a Failure and nothing
// is debited. Chargeable outcome without an active subscription: exactly one
// DebitOneCredit call, then the balance is refreshed from the store.
func (c *Coordinator) AttemptSearch(ctx context.Context, userID string, img Image, state CreditState) Attempt {
	c.observe(PhaseChecking)
	subscribed := state.HasActiveSubscription(c.now())
	if !subscribed && state.Total() == 0 {
		c.observe(PhaseIdle)
		return Attempt{Allowed: false, Phase: PhaseIdle}
	}

	c.observe(PhaseInFlight)
	payload, err := c.matcher.Match(ctx, img)

	var outcome normalize.Response
	if err != nil {
		outcome = normalize.Failure(err.Error())
	} else {
		outcome = normalize.Classify(payload)
	}

	attempt := Attempt{
		Allowed: true,
		Outcome: &outcome,
		Ledger:  &state,
		Phase:   PhaseSettled,
	}

	if outcome.Chargeable() && !subscribed {
		c.settleCharge(ctx, userID, state, &attempt)
	}
	c.observe(PhaseSettled)
	return attempt
}

// settleCharge performs the single debit of a chargeable attempt.
func (c *Coordinator) settleCharge(ctx context.Context, userID string, state CreditState, attempt *Attempt) {
	if attempt.Charged {
		return
	}
	attempt.Charged = true

	optimistic := state.Debited()

	ok, err := c.store.DebitOneCredit(ctx, userID)
	if err == nil && !ok {
		err = ErrNoDebit
	}
	if err != nil {
		c.logger.Printf("ledger: debit failed for user %s after chargeable search: %v", userID, err)
		attempt.DebitErr = err
		attempt.Ledger = &optimistic
		return
	}

	fresh, err := c.store.FetchBalance(ctx, userID)
	if err != nil {
		c.logger.Printf("ledger: balance refresh failed for user %s: %v", userID, err)
		attempt.Ledger = &optimistic
		return
	}
	attempt.Ledger = &fresh
}
