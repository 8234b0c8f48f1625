package ops

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"

	"github.com/theboatscanner/boatscanner/internal/config"
	"github.com/theboatscanner/boatscanner/internal/errors"
	"github.com/theboatscanner/boatscanner/internal/imaging"
	"github.com/theboatscanner/boatscanner/internal/ledger"
)

// Pagination limits
const (
	DefaultListLimit    = 20
	MaxListLimit        = 100
	DefaultReviewsLimit = 10
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// CreditBackend is the authoritative credit ledger: the local sqlite
// CreditStore or the hosted Postgres store.
type CreditBackend interface {
	ledger.Store
	EnsureUser(ctx context.Context, uid, email string) error
	AddPaidCredits(ctx context.Context, uid string, amount int) error
	SetSubscribedUntil(ctx context.Context, uid string, until time.Time) error
	AwardReviewBonus(ctx context.Context, uid string, amount int) (bool, error)
	ReviewModalShown(ctx context.Context, uid string) (bool, error)
	MarkReviewModalShown(ctx context.Context, uid string) error
}

// Notifier delivers JSON events to an automation webhook.
type Notifier interface {
	Configured() bool
	Notify(ctx context.Context, v any) error
}

// Deps bundles the collaborators operations need.
// DB holds history, favorites, reviews and billing events.
type Deps struct {
	DB      *sql.DB
	Config  *config.Config
	Credits CreditBackend
	Matcher ledger.Matcher
	Images  *imaging.Store // nil disables upload archiving
	Support Notifier
	Reviews Notifier
	Now     func() time.Time
	Logger  *log.Logger
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

// CreditsOutput is a user's balance as reported to clients.
type CreditsOutput struct {
	FreeCredits           uint       `json:"free_credits"`
	PaidCredits           uint       `json:"paid_credits"`
	TotalCredits          uint       `json:"total_credits"`
	SubscribedUntil       *time.Time `json:"subscribed_until"`
	HasActiveSubscription bool       `json:"has_active_subscription"`
}

func creditsOutput(s ledger.CreditState, now time.Time) CreditsOutput {
	return CreditsOutput{
		FreeCredits:           s.FreeCredits,
		PaidCredits:           s.PaidCredits,
		TotalCredits:          s.Total(),
		SubscribedUntil:       s.SubscribedUntil,
		HasActiveSubscription: s.HasActiveSubscription(now),
	}
}

// requireUser rejects operations without an authenticated user.
func requireUser(uid string) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", errors.NewUnauthorized("")
	}
	return uid, nil
}

// pageBounds applies limit defaults and bounds.
func pageBounds(limit, offset, def, maxLimit int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, max(offset, 0)
}
