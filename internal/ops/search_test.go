package ops

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/theboatscanner/boatscanner/internal/db"
	scanerrors "github.com/theboatscanner/boatscanner/internal/errors"
	"github.com/theboatscanner/boatscanner/internal/ledger"
	"github.com/theboatscanner/boatscanner/internal/normalize"
)

func twoMatches() []any {
	return []any{
		map[string]any{"url": "https://ads.example/1", "user_short_description": "Beneteau 40"},
		map[string]any{"url": "https://ads.example/2", "user_short_description": "Jeanneau 37"},
	}
}

func TestSearch_SuccessDebitsAndRecords(t *testing.T) {
	d, matcher := newTestDeps(t)
	matcher.payload = twoMatches()
	ctx := context.Background()

	out, err := Search(ctx, d, SearchInput{UserID: "u1", Filename: "boat.png", Data: testPNG(t)})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if out.Kind != normalize.KindSuccess {
		t.Errorf("Kind = %q, want %q", out.Kind, normalize.KindSuccess)
	}
	if len(out.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(out.Results))
	}
	if out.Results[0].URL != "https://ads.example/1" {
		t.Errorf("Results[0].URL = %q", out.Results[0].URL)
	}
	if out.Credits.FreeCredits != 2 {
		t.Errorf("FreeCredits = %d, want 2", out.Credits.FreeCredits)
	}
	if matcher.calls != 1 {
		t.Errorf("matcher calls = %d, want 1", matcher.calls)
	}
	if !strings.HasPrefix(out.UserImageURL, "/images/u1/") {
		t.Errorf("UserImageURL = %q, want /images/u1/ prefix", out.UserImageURL)
	}
	if out.HistoryID == "" {
		t.Fatal("HistoryID should not be empty")
	}

	entry, err := db.GetHistory(ctx, d.DB, "u1", out.HistoryID)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if entry.SearchQuery != HistorySearchQuery {
		t.Errorf("SearchQuery = %q, want %q", entry.SearchQuery, HistorySearchQuery)
	}
	if got := normalize.Decode(entry.SearchResults); len(got.Matches) != 2 {
		t.Errorf("stored matches = %d, want 2", len(got.Matches))
	}
}

func TestSearch_EmptyResultsShowPlaceholder(t *testing.T) {
	d, matcher := newTestDeps(t)
	matcher.payload = []any{}

	out, err := Search(context.Background(), d, SearchInput{UserID: "u1", Data: testPNG(t)})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(out.Results) != 1 || out.Results[0].ShortDescription != normalize.NoResultsMessage {
		t.Errorf("Results = %+v, want the no-results placeholder", out.Results)
	}
	if out.Credits.FreeCredits != 2 {
		t.Errorf("FreeCredits = %d, want 2 (empty success is charged)", out.Credits.FreeCredits)
	}
}

func TestSearch_NotBoatIsCharged(t *testing.T) {
	d, matcher := newTestDeps(t)
	matcher.payload = map[string]any{"not_boat": true}
	ctx := context.Background()

	out, err := Search(ctx, d, SearchInput{UserID: "u1", Data: testPNG(t)})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if out.Kind != normalize.KindNotBoat {
		t.Errorf("Kind = %q, want %q", out.Kind, normalize.KindNotBoat)
	}
	if out.NotBoatMessage != normalize.DefaultNotBoatMessage {
		t.Errorf("NotBoatMessage = %q", out.NotBoatMessage)
	}
	if len(out.Results) != 0 {
		t.Errorf("len(Results) = %d, want 0", len(out.Results))
	}
	if out.Credits.FreeCredits != 2 {
		t.Errorf("FreeCredits = %d, want 2", out.Credits.FreeCredits)
	}

	entry, err := db.GetHistory(ctx, d.DB, "u1", out.HistoryID)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if got := normalize.Decode(entry.SearchResults); got.Kind != normalize.KindNotBoat {
		t.Errorf("stored outcome kind = %q, want %q", got.Kind, normalize.KindNotBoat)
	}
}

func TestSearch_NoCreditsBlocksBeforeUpstream(t *testing.T) {
	d, matcher := newTestDeps(t)
	matcher.payload = twoMatches()
	ctx := context.Background()

	if _, err := db.EnsureUser(ctx, d.DB, "u1", "", 0); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}

	_, err := Search(ctx, d, SearchInput{UserID: "u1", Data: testPNG(t)})
	if !scanerrors.Is(err, scanerrors.ErrNoCredits) {
		t.Fatalf("Search = %v, want ErrNoCredits", err)
	}
	if matcher.calls != 0 {
		t.Errorf("matcher calls = %d, want 0", matcher.calls)
	}
}

func TestSearch_SubscriberIsNotDebited(t *testing.T) {
	d, matcher := newTestDeps(t)
	matcher.payload = twoMatches()
	ctx := context.Background()

	if _, err := db.EnsureUser(ctx, d.DB, "u1", "", 0); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	if err := db.SetSubscribedUntil(ctx, d.DB, "u1", testNow.AddDate(0, 0, 10)); err != nil {
		t.Fatalf("SetSubscribedUntil failed: %v", err)
	}

	out, err := Search(ctx, d, SearchInput{UserID: "u1", Data: testPNG(t)})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !out.Credits.HasActiveSubscription {
		t.Error("HasActiveSubscription = false, want true")
	}
	if out.Credits.TotalCredits != 0 {
		t.Errorf("TotalCredits = %d, want 0", out.Credits.TotalCredits)
	}
}

func TestSearch_UpstreamFailureIsNotCharged(t *testing.T) {
	d, matcher := newTestDeps(t)
	matcher.err = errors.New("connection refused")
	ctx := context.Background()

	_, err := Search(ctx, d, SearchInput{UserID: "u1", Data: testPNG(t)})
	if !scanerrors.Is(err, scanerrors.ErrUpstreamFailure) {
		t.Fatalf("Search = %v, want ErrUpstreamFailure", err)
	}

	u, err := db.GetCredits(ctx, d.DB, "u1")
	if err != nil {
		t.Fatalf("GetCredits failed: %v", err)
	}
	if u.FreeCredits != 3 {
		t.Errorf("FreeCredits = %d, want 3", u.FreeCredits)
	}
	_, total, err := db.ListHistory(ctx, d.DB, "u1", 10, 0)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if total != 0 {
		t.Errorf("history total = %d, want 0", total)
	}
}

func TestSearch_Validation(t *testing.T) {
	d, _ := newTestDeps(t)
	ctx := context.Background()

	if _, err := Search(ctx, d, SearchInput{Data: testPNG(t)}); !scanerrors.Is(err, scanerrors.ErrUnauthorized) {
		t.Errorf("anonymous Search = %v, want ErrUnauthorized", err)
	}
	if _, err := Search(ctx, d, SearchInput{UserID: "u1"}); !scanerrors.Is(err, scanerrors.ErrInvalidRequest) {
		t.Errorf("Search without image = %v, want ErrInvalidRequest", err)
	}
	if _, err := Search(ctx, d, SearchInput{UserID: "u1", Data: []byte("just some text")}); !scanerrors.Is(err, scanerrors.ErrInvalidRequest) {
		t.Errorf("Search with text = %v, want ErrInvalidRequest", err)
	}

	d.Config.MaxUploadBytes = 4
	if _, err := Search(ctx, d, SearchInput{UserID: "u1", Data: testPNG(t)}); !scanerrors.Is(err, scanerrors.ErrImageTooLarge) {
		t.Errorf("oversized Search = %v, want ErrImageTooLarge", err)
	}
}

func TestSearch_PromptsForReviewAtLastFreeCredit(t *testing.T) {
	d, matcher := newTestDeps(t)
	matcher.payload = twoMatches()
	ctx := context.Background()

	if _, err := db.EnsureUser(ctx, d.DB, "u1", "", 2); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}

	out, err := Search(ctx, d, SearchInput{UserID: "u1", Data: testPNG(t)})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !out.ShowReviewModal {
		t.Error("ShowReviewModal = false, want true with one free credit left")
	}

	if err := MarkReviewModalShown(ctx, d, "u1"); err != nil {
		t.Fatalf("MarkReviewModalShown failed: %v", err)
	}
	if shouldShowReviewModal(ctx, d, "u1", ledger.CreditState{FreeCredits: 1}) {
		t.Error("shouldShowReviewModal = true after the modal was shown")
	}
}

func TestSearch_RejectsOversizedDimensionsBeforeUpstream(t *testing.T) {
	d, matcher := newTestDeps(t)
	matcher.payload = twoMatches()
	ctx := context.Background()

	// testPNG is 8x8.
	d.Config.ImageMaxPixels = 32
	_, err := Search(ctx, d, SearchInput{UserID: "u1", Data: testPNG(t)})
	if !scanerrors.Is(err, scanerrors.ErrImageTooLarge) {
		t.Fatalf("Search = %v, want ErrImageTooLarge", err)
	}
	if matcher.calls != 0 {
		t.Errorf("matcher calls = %d, want 0", matcher.calls)
	}

	d.Config.ImageMaxPixels = 64
	out, err := Search(ctx, d, SearchInput{UserID: "u1", Data: testPNG(t)})
	if err != nil {
		t.Fatalf("Search at the limit failed: %v", err)
	}
	if out.UserImageURL == "" {
		t.Error("image at the limit should be archived")
	}
}
