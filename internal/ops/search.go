package ops

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/theboatscanner/boatscanner/internal/db"
	"github.com/theboatscanner/boatscanner/internal/errors"
	"github.com/theboatscanner/boatscanner/internal/imaging"
	"github.com/theboatscanner/boatscanner/internal/ledger"
	"github.com/theboatscanner/boatscanner/internal/normalize"
)

// HistorySearchQuery labels image searches in history.
const HistorySearchQuery = "Image Search"

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	UserID   string // required
	Email    string
	Filename string
	MimeType string // sniffed from Data when empty
	Data     []byte // required
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Kind            normalize.Kind    `json:"kind"`
	NotBoatMessage  string            `json:"not_boat_message,omitempty"`
	Results         []normalize.Match `json:"results"`
	Credits         CreditsOutput     `json:"credits"`
	HistoryID       string            `json:"history_id,omitempty"`
	UserImageURL    string            `json:"user_image_url,omitempty"`
	ShowReviewModal bool              `json:"show_review_modal"`
}

// Search runs one image search for the user and settles its credit.
//
// No credits and no subscription: NO_CREDITS before anything is sent upstream.
// Upstream unreachable or unreadable: UPSTREAM_FAILURE, nothing debited.
// Otherwise one credit is debited (unless subscribed), the upload is archived
// and the outcome is written to history. Archiving and history are best-effort.
func Search(ctx context.Context, d *Deps, input SearchInput) (*SearchOutput, error) {
	uid, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	if len(input.Data) == 0 {
		return nil, errors.NewInvalidRequest("image is required")
	}
	if limit := d.Config.MaxUploadBytes; limit > 0 && int64(len(input.Data)) > limit {
		return nil, errors.NewImageTooLarge(limit)
	}

	mimeType := strings.TrimSpace(input.MimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(input.Data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, errors.NewInvalidRequest("file must be an image")
	}
	// Formats we cannot read (HEIC) still go upstream; only known-huge images stop here.
	var dimErr *imaging.DimensionError
	if _, err := imaging.CheckDimensions(input.Data, d.Config.ImageMaxPixels); stderrors.As(err, &dimErr) {
		return nil, errors.NewImageDimensionsTooLarge(dimErr.Width, dimErr.Height, dimErr.MaxPixels)
	}

	if err := d.Credits.EnsureUser(ctx, uid, input.Email); err != nil {
		return nil, err
	}
	state, err := d.Credits.FetchBalance(ctx, uid)
	if err != nil {
		return nil, err
	}

	coord := ledger.NewCoordinator(d.Credits, d.Matcher,
		ledger.WithClock(d.now),
		ledger.WithLogger(d.logger()),
	)
	img := ledger.Image{Filename: input.Filename, MimeType: mimeType, Data: input.Data}
	attempt := coord.AttemptSearch(ctx, uid, img, state)

	if !attempt.Allowed {
		return nil, errors.NewNoCredits()
	}
	outcome := *attempt.Outcome
	if outcome.Kind == normalize.KindFailure {
		d.logger().Printf("search: upstream failure for user %s: %s", uid, outcome.Reason)
		return nil, errors.NewUpstreamFailure(outcome.Reason)
	}

	imageURL := archiveUpload(d, uid, input.Data)
	historyID := recordHistory(ctx, d, uid, outcome, imageURL)

	out := &SearchOutput{
		Kind:         outcome.Kind,
		Results:      outcome.Display(),
		Credits:      creditsOutput(*attempt.Ledger, d.now()),
		HistoryID:    historyID,
		UserImageURL: imageURL,
	}
	if outcome.Kind == normalize.KindNotBoat {
		out.NotBoatMessage = outcome.Message
		out.Results = []normalize.Match{}
	}
	out.ShowReviewModal = shouldShowReviewModal(ctx, d, uid, *attempt.Ledger)
	return out, nil
}

// archiveUpload stores a compressed copy of the upload and returns its URL,
// or "" when archiving is disabled or fails.
func archiveUpload(d *Deps, uid string, data []byte) string {
	if d.Images == nil {
		return ""
	}
	compressed, err := imaging.Compress(data, d.Config.ImageMaxWidth, d.Config.ImageMaxPixels, d.Config.ImageQuality)
	if err != nil {
		d.logger().Printf("search: compress upload for user %s: %v", uid, err)
		return ""
	}
	url, err := d.Images.Save(uid, compressed)
	if err != nil {
		d.logger().Printf("search: archive upload for user %s: %v", uid, err)
		return ""
	}
	return url
}

// recordHistory saves the outcome and returns the entry ID, or "" on failure.
func recordHistory(ctx context.Context, d *Deps, uid string, outcome normalize.Response, imageURL string) string {
	results, err := json.Marshal(outcome.HistoryPayload())
	if err != nil {
		d.logger().Printf("search: encode history for user %s: %v", uid, err)
		return ""
	}
	entry := &db.HistoryEntry{
		UserID:        uid,
		SearchQuery:   HistorySearchQuery,
		SearchResults: results,
		UserImageURL:  imageURL,
		CreatedAt:     d.now().Unix(),
	}
	if err := db.InsertHistory(ctx, d.DB, entry); err != nil {
		d.logger().Printf("search: save history for user %s: %v", uid, err)
		return ""
	}
	return entry.ID
}
