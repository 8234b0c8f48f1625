package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/theboatscanner/boatscanner/internal/errors"
	"github.com/theboatscanner/boatscanner/internal/ledger"
)

// UserCredits is a row of user_credits.
type UserCredits struct {
	UID                string
	Email              string
	FreeCredits        int
	PaidCredits        int
	SubscribedUntil    *time.Time
	ReviewModalShown   bool
	ReviewBonusAwarded bool
	CreatedAt          int64
	UpdatedAt          int64
}

// State converts the row to the ledger's view of a balance.
func (u *UserCredits) State() ledger.CreditState {
	return ledger.CreditState{
		FreeCredits:     uint(max(u.FreeCredits, 0)),
		PaidCredits:     uint(max(u.PaidCredits, 0)),
		SubscribedUntil: u.SubscribedUntil,
	}
}

// debitOneSQL removes one credit, free before paid, in a single statement.
// It matches no row when both balances are zero.
const debitOneSQL = `
	UPDATE user_credits
	SET free_credits = CASE WHEN free_credits > 0 THEN free_credits - 1 ELSE free_credits END,
		paid_credits = CASE WHEN free_credits > 0 THEN paid_credits ELSE paid_credits - 1 END,
		updated_at = ?
	WHERE uid = ? AND (free_credits > 0 OR paid_credits > 0)
`

// GetCredits retrieves the credit row for uid.
func GetCredits(ctx context.Context, db *sql.DB, uid string) (*UserCredits, error) {
	query := `
		SELECT uid, email, free_credits, paid_credits, subscribed_until,
			review_modal_shown, review_bonus_awarded, created_at, updated_at
		FROM user_credits
		WHERE uid = ?
	`

	var (
		u       UserCredits
		email   sql.NullString
		subUnix sql.NullInt64
	)
	err := db.QueryRowContext(ctx, query, uid).Scan(
		&u.UID, &email, &u.FreeCredits, &u.PaidCredits, &subUnix,
		&u.ReviewModalShown, &u.ReviewBonusAwarded, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("user", uid)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	u.Email = email.String
	if subUnix.Valid {
		t := time.Unix(subUnix.Int64, 0).UTC()
		u.SubscribedUntil = &t
	}
	return &u, nil
}

// EnsureUser creates the credit row for uid with signupCredits free credits
// if it does not exist yet, records email when one is known, and returns the row.
func EnsureUser(ctx context.Context, db *sql.DB, uid, email string, signupCredits int) (*UserCredits, error) {
	now := time.Now().Unix()

	_, err := db.ExecContext(ctx, `
		INSERT INTO user_credits (uid, email, free_credits, paid_credits, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(uid) DO NOTHING
	`, uid, toNullString(email), max(signupCredits, 0), now, now)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	if email != "" {
		_, err := db.ExecContext(ctx, `
			UPDATE user_credits SET email = ?, updated_at = ?
			WHERE uid = ? AND (email IS NULL OR email = '')
		`, email, now, uid)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	return GetCredits(ctx, db, uid)
}

// DebitOneCredit removes one credit from uid. It returns false when the user
// has no row or no credits left.
func DebitOneCredit(ctx context.Context, db *sql.DB, uid string) (bool, error) {
	result, err := db.ExecContext(ctx, debitOneSQL, time.Now().Unix(), uid)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return rowsAffected == 1, nil
}

// AddPaidCredits adds amount paid credits to uid, creating the row if needed.
// A row created here carries no signup credits.
func AddPaidCredits(ctx context.Context, db *sql.DB, uid string, amount int) error {
	if amount <= 0 {
		return errors.NewInvalidRequest("amount must be positive")
	}
	now := time.Now().Unix()

	_, err := db.ExecContext(ctx, `
		INSERT INTO user_credits (uid, free_credits, paid_credits, created_at, updated_at)
		VALUES (?, 0, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			paid_credits = paid_credits + excluded.paid_credits,
			updated_at = excluded.updated_at
	`, uid, amount, now, now)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// SetSubscribedUntil records the subscription expiry for uid, creating the row if needed.
func SetSubscribedUntil(ctx context.Context, db *sql.DB, uid string, until time.Time) error {
	now := time.Now().Unix()

	_, err := db.ExecContext(ctx, `
		INSERT INTO user_credits (uid, free_credits, paid_credits, subscribed_until, created_at, updated_at)
		VALUES (?, 0, 0, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			subscribed_until = excluded.subscribed_until,
			updated_at = excluded.updated_at
	`, uid, until.Unix(), now, now)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// AwardReviewBonus adds amount free credits to uid the first time it is called
// for that user. Later calls return false and change nothing.
func AwardReviewBonus(ctx context.Context, db *sql.DB, uid string, amount int) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE user_credits
		SET free_credits = free_credits + ?, review_bonus_awarded = 1, updated_at = ?
		WHERE uid = ? AND review_bonus_awarded = 0
	`, max(amount, 0), time.Now().Unix(), uid)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return rowsAffected == 1, nil
}

// MarkReviewModalShown sets review_modal_shown for uid.
func MarkReviewModalShown(ctx context.Context, db *sql.DB, uid string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE user_credits SET review_modal_shown = 1, updated_at = ?
		WHERE uid = ?
	`, time.Now().Unix(), uid)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("user", uid)
	}
	return nil
}

// CreditStore is the local credit ledger. It implements ledger.Store.
type CreditStore struct {
	db            *sql.DB
	signupCredits int
}

// NewCreditStore creates a CreditStore. Users seen for the first time receive
// signupCredits free credits.
func NewCreditStore(db *sql.DB, signupCredits int) *CreditStore {
	return &CreditStore{db: db, signupCredits: signupCredits}
}

// FetchBalance returns the balance of uid, creating the row on first sight.
func (s *CreditStore) FetchBalance(ctx context.Context, uid string) (ledger.CreditState, error) {
	u, err := EnsureUser(ctx, s.db, uid, "", s.signupCredits)
	if err != nil {
		return ledger.CreditState{}, err
	}
	return u.State(), nil
}

// DebitOneCredit removes one credit from uid.
func (s *CreditStore) DebitOneCredit(ctx context.Context, uid string) (bool, error) {
	return DebitOneCredit(ctx, s.db, uid)
}

// EnsureUser creates the credit row for uid if needed and records email.
func (s *CreditStore) EnsureUser(ctx context.Context, uid, email string) error {
	_, err := EnsureUser(ctx, s.db, uid, email, s.signupCredits)
	return err
}

func (s *CreditStore) AddPaidCredits(ctx context.Context, uid string, amount int) error {
	return AddPaidCredits(ctx, s.db, uid, amount)
}

func (s *CreditStore) SetSubscribedUntil(ctx context.Context, uid string, until time.Time) error {
	return SetSubscribedUntil(ctx, s.db, uid, until)
}

func (s *CreditStore) AwardReviewBonus(ctx context.Context, uid string, amount int) (bool, error) {
	return AwardReviewBonus(ctx, s.db, uid, amount)
}

// ReviewModalShown reports whether the review prompt was already shown to uid.
func (s *CreditStore) ReviewModalShown(ctx context.Context, uid string) (bool, error) {
	u, err := GetCredits(ctx, s.db, uid)
	if err != nil {
		return false, err
	}
	return u.ReviewModalShown, nil
}

func (s *CreditStore) MarkReviewModalShown(ctx context.Context, uid string) error {
	return MarkReviewModalShown(ctx, s.db, uid)
}
