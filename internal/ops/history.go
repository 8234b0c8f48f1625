package ops

import (
	"context"
	"strings"

	"github.com/theboatscanner/boatscanner/internal/db"
	"github.com/theboatscanner/boatscanner/internal/errors"
	"github.com/theboatscanner/boatscanner/internal/normalize"
)

// HistoryItem is a history entry with its stored results re-classified.
// Stored results are either a match list or {"not_boat": msg}, both of which
// normalize reads back into the original outcome.
type HistoryItem struct {
	db.HistoryEntry
	Outcome normalize.Response `json:"outcome"`
}

func historyItem(e db.HistoryEntry) HistoryItem {
	return HistoryItem{HistoryEntry: e, Outcome: normalize.Decode(e.SearchResults)}
}

// ListHistoryInput contains parameters for the ListHistory operation.
type ListHistoryInput struct {
	UserID string // required
	Limit  int    // default: 20, max: 100
	Offset int    // default: 0
}

// ListHistoryOutput contains the result of the ListHistory operation.
type ListHistoryOutput struct {
	Items      []HistoryItem `json:"items"`
	Pagination Pagination    `json:"pagination"`
	Sort       string        `json:"sort"`
}

// ListHistory returns the user's searches, newest first.
func ListHistory(ctx context.Context, d *Deps, input ListHistoryInput) (*ListHistoryOutput, error) {
	uid, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	limit, offset := pageBounds(input.Limit, input.Offset, DefaultListLimit, MaxListLimit)

	entries, total, err := db.ListHistory(ctx, d.DB, uid, limit, offset)
	if err != nil {
		return nil, err
	}

	items := make([]HistoryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyItem(e))
	}

	return &ListHistoryOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "created_at_desc",
	}, nil
}

// HistoryRef addresses one history entry of a user.
type HistoryRef struct {
	UserID string // required
	ID     string // required
}

func (r HistoryRef) validate() (string, string, error) {
	uid, err := requireUser(r.UserID)
	if err != nil {
		return "", "", err
	}
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return "", "", errors.NewInvalidRequest("id is required")
	}
	return uid, id, nil
}

// GetHistory returns one of the user's searches.
func GetHistory(ctx context.Context, d *Deps, input HistoryRef) (*HistoryItem, error) {
	uid, id, err := input.validate()
	if err != nil {
		return nil, err
	}
	e, err := db.GetHistory(ctx, d.DB, uid, id)
	if err != nil {
		return nil, err
	}
	item := historyItem(*e)
	return &item, nil
}

// DeleteOutput reports how many rows an operation removed.
type DeleteOutput struct {
	Deleted int `json:"deleted"`
}

// DeleteHistory removes one of the user's searches.
func DeleteHistory(ctx context.Context, d *Deps, input HistoryRef) (*DeleteOutput, error) {
	uid, id, err := input.validate()
	if err != nil {
		return nil, err
	}
	if err := db.DeleteHistory(ctx, d.DB, uid, id); err != nil {
		return nil, err
	}
	return &DeleteOutput{Deleted: 1}, nil
}

// ClearHistory removes all of the user's searches.
func ClearHistory(ctx context.Context, d *Deps, userID string) (*DeleteOutput, error) {
	uid, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	n, err := db.ClearHistory(ctx, d.DB, uid)
	if err != nil {
		return nil, err
	}
	return &DeleteOutput{Deleted: n}, nil
}
