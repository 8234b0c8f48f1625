package ops

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/theboatscanner/boatscanner/internal/db"
	"github.com/theboatscanner/boatscanner/internal/errors"
	"github.com/theboatscanner/boatscanner/internal/ledger"
)

// Review limits
const (
	MinReviewTextLength = 20
	MinRating           = 1
	MaxRating           = 5
)

// SubmitReviewInput contains parameters for the SubmitReview operation.
type SubmitReviewInput struct {
	UserID     string // required
	Email      string
	Rating     int    // required, 1-5
	ReviewText string // required, at least 20 characters after trimming
}

// BonusResult describes the review bonus outcome.
type BonusResult struct {
	Awarded        bool   `json:"awarded"`
	BonusAmount    int    `json:"bonus_amount"`
	NewFreeCredits uint   `json:"new_free_credits"`
	TotalCredits   uint   `json:"total_credits"`
	Reason         string `json:"reason,omitempty"`
}

// SubmitReviewOutput contains the result of the SubmitReview operation.
type SubmitReviewOutput struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message"`
	ReviewID    string      `json:"review_id"`
	BonusResult BonusResult `json:"bonus_result"`
}

// reviewEvent is posted to the review webhook.
type reviewEvent struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	Rating       int    `json:"rating"`
	ReviewText   string `json:"review_text"`
	BonusAwarded bool   `json:"bonus_awarded"`
	NewCredits   uint   `json:"new_credits"`
	Timestamp    string `json:"timestamp"`
}

// SubmitReview records the user's one review and awards the review bonus once.
// A failed bonus does not fail the review. The review webhook is notified in
// the background.
func SubmitReview(ctx context.Context, d *Deps, input SubmitReviewInput) (*SubmitReviewOutput, error) {
	uid, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	if input.Rating < MinRating || input.Rating > MaxRating {
		return nil, errors.NewInvalidRequest("rating must be between 1 and 5")
	}
	text := strings.TrimSpace(input.ReviewText)
	if utf8.RuneCountInString(text) < MinReviewTextLength {
		return nil, errors.NewInvalidRequest(
			fmt.Sprintf("review text must be at least %d characters", MinReviewTextLength))
	}

	if existing, err := db.GetReviewByUser(ctx, d.DB, uid); err == nil {
		return nil, errors.NewAlreadyReviewed(existing.BonusCreditsAwarded)
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	review := &db.Review{
		UserID:     uid,
		Email:      strings.TrimSpace(input.Email),
		Rating:     input.Rating,
		ReviewText: text,
		CreatedAt:  d.now().Unix(),
	}
	if err := db.InsertReview(ctx, d.DB, review); err != nil {
		if err == db.ErrUniqueConstraint {
			// Lost a race with a concurrent submission.
			if existing, gerr := db.GetReviewByUser(ctx, d.DB, uid); gerr == nil {
				return nil, errors.NewAlreadyReviewed(existing.BonusCreditsAwarded)
			}
			return nil, errors.NewAlreadyReviewed(false)
		}
		return nil, err
	}

	bonus := awardReviewBonus(ctx, d, uid, review)

	out := &SubmitReviewOutput{
		Success:     true,
		Message:     "Thank you for your review!",
		ReviewID:    review.ID,
		BonusResult: bonus,
	}
	if bonus.Awarded {
		out.Message = fmt.Sprintf(
			"Thank you for your review! %d bonus credits have been added to your account.", bonus.BonusAmount)
	}

	notifyReview(ctx, d, reviewEvent{
		UserID:       uid,
		Email:        review.Email,
		Rating:       review.Rating,
		ReviewText:   review.ReviewText,
		BonusAwarded: bonus.Awarded,
		NewCredits:   bonus.NewFreeCredits,
		Timestamp:    d.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
	return out, nil
}

func awardReviewBonus(ctx context.Context, d *Deps, uid string, review *db.Review) BonusResult {
	var res BonusResult
	amount := d.Config.ReviewBonusCredits
	if amount <= 0 {
		res.Reason = "review bonus disabled"
		return res
	}

	if err := d.Credits.EnsureUser(ctx, uid, review.Email); err != nil {
		d.logger().Printf("reviews: ensure user %s: %v", uid, err)
	}
	awarded, err := d.Credits.AwardReviewBonus(ctx, uid, amount)
	switch {
	case err != nil:
		d.logger().Printf("reviews: award bonus for user %s: %v", uid, err)
		res.Reason = "bonus could not be awarded"
	case !awarded:
		res.Reason = "bonus already awarded"
	default:
		res.Awarded = true
		res.BonusAmount = amount
		review.BonusCreditsAwarded = true
		if err := db.MarkReviewBonusAwarded(ctx, d.DB, review.ID); err != nil {
			d.logger().Printf("reviews: mark bonus on review %s: %v", review.ID, err)
		}
	}

	if state, err := d.Credits.FetchBalance(ctx, uid); err == nil {
		res.NewFreeCredits = state.FreeCredits
		res.TotalCredits = state.Total()
	} else {
		d.logger().Printf("reviews: refresh balance for user %s: %v", uid, err)
	}
	return res
}

// notifyReview posts the event without holding up the response.
func notifyReview(ctx context.Context, d *Deps, ev reviewEvent) {
	if d.Reviews == nil || !d.Reviews.Configured() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := d.Reviews.Notify(ctx, ev); err != nil {
			d.logger().Printf("reviews: notify webhook for user %s: %v", ev.UserID, err)
		}
	}()
}

// ReviewStatusOutput contains the result of the ReviewStatus operation.
type ReviewStatusOutput struct {
	HasReview       bool       `json:"has_review"`
	Review          *db.Review `json:"review,omitempty"`
	ModalShown      bool       `json:"modal_shown"`
	ShowReviewModal bool       `json:"show_review_modal"`
}

// ReviewStatus reports the user's review and whether to prompt for one.
func ReviewStatus(ctx context.Context, d *Deps, userID string) (*ReviewStatusOutput, error) {
	uid, err := requireUser(userID)
	if err != nil {
		return nil, err
	}

	if err := d.Credits.EnsureUser(ctx, uid, ""); err != nil {
		return nil, err
	}

	out := &ReviewStatusOutput{}
	review, err := db.GetReviewByUser(ctx, d.DB, uid)
	switch {
	case err == nil:
		out.HasReview = true
		out.Review = review
	case !errors.Is(err, errors.ErrNotFound):
		return nil, err
	}

	if out.ModalShown, err = d.Credits.ReviewModalShown(ctx, uid); err != nil {
		return nil, err
	}
	if !out.HasReview && !out.ModalShown {
		state, err := d.Credits.FetchBalance(ctx, uid)
		if err != nil {
			return nil, err
		}
		out.ShowReviewModal = state.FreeCredits == 1
	}
	return out, nil
}

// ShouldShowReviewModal reports whether the user should be prompted for a
// review: exactly one free credit left, never prompted, no review yet.
func ShouldShowReviewModal(ctx context.Context, d *Deps, userID string) (bool, error) {
	out, err := ReviewStatus(ctx, d, userID)
	if err != nil {
		return false, err
	}
	return out.ShowReviewModal, nil
}

// shouldShowReviewModal is the best-effort variant used after a search, with
// the balance already known. Lookup errors mean no prompt.
func shouldShowReviewModal(ctx context.Context, d *Deps, uid string, state ledger.CreditState) bool {
	if state.FreeCredits != 1 {
		return false
	}
	shown, err := d.Credits.ReviewModalShown(ctx, uid)
	if err != nil || shown {
		return false
	}
	_, err = db.GetReviewByUser(ctx, d.DB, uid)
	return errors.Is(err, errors.ErrNotFound)
}

// MarkReviewModalShown records that the user was prompted for a review.
func MarkReviewModalShown(ctx context.Context, d *Deps, userID string) error {
	uid, err := requireUser(userID)
	if err != nil {
		return err
	}
	if err := d.Credits.EnsureUser(ctx, uid, ""); err != nil {
		return err
	}
	return d.Credits.MarkReviewModalShown(ctx, uid)
}

// ListReviewsOutput contains the result of the ListReviews operation.
type ListReviewsOutput struct {
	Items []db.Review `json:"items"`
}

// ListReviews returns the most recent reviews. Emails are not exposed.
func ListReviews(ctx context.Context, d *Deps, limit int) (*ListReviewsOutput, error) {
	limit, _ = pageBounds(limit, 0, DefaultReviewsLimit, MaxListLimit)
	items, err := db.ListReviews(ctx, d.DB, limit)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Email = ""
	}
	return &ListReviewsOutput{Items: items}, nil
}
