package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/theboatscanner/boatscanner/internal/errors"
)

// Review is a user's rating of the service.
type Review struct {
	ID                  string `json:"id"`
	UserID              string `json:"user_id"`
	Email               string `json:"email,omitempty"`
	Rating              int    `json:"rating"`
	ReviewText          string `json:"review_text"`
	BonusCreditsAwarded bool   `json:"bonus_credits_awarded"`
	CreatedAt           int64  `json:"created_at"`
}

// InsertReview stores r. A second review by the same user returns ErrUniqueConstraint.
func InsertReview(ctx context.Context, db *sql.DB, r *Review) error {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().Unix()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO reviews (id, user_id, email, rating, review_text, bonus_credits_awarded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, toNullString(r.Email), r.Rating, r.ReviewText, r.BonusCreditsAwarded, r.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetReviewByUser returns the user's review.
func GetReviewByUser(ctx context.Context, db *sql.DB, userID string) (*Review, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, user_id, email, rating, review_text, bonus_credits_awarded, created_at
		FROM reviews
		WHERE user_id = ?
	`, userID)

	r, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("review", userID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// MarkReviewBonusAwarded flags the review as having earned its bonus.
func MarkReviewBonusAwarded(ctx context.Context, db *sql.DB, reviewID string) error {
	_, err := db.ExecContext(ctx,
		"UPDATE reviews SET bonus_credits_awarded = 1 WHERE id = ?", reviewID)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListReviews returns the most recent reviews across all users.
func ListReviews(ctx context.Context, db *sql.DB, limit int) ([]Review, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, email, rating, review_text, bonus_credits_awarded, created_at
		FROM reviews
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	reviews := []Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		reviews = append(reviews, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return reviews, nil
}

func scanReview(row scanner) (*Review, error) {
	var (
		r     Review
		email sql.NullString
	)
	if err := row.Scan(&r.ID, &r.UserID, &email, &r.Rating, &r.ReviewText, &r.BonusCreditsAwarded, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Email = email.String
	return &r, nil
}
