package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/theboatscanner/boatscanner/internal/errors"
)

// HistoryEntry is a row of search_history.
type HistoryEntry struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	SearchQuery   string          `json:"search_query"`
	SearchResults json.RawMessage `json:"search_results"`
	UserImageURL  string          `json:"user_image_url,omitempty"`
	CreatedAt     int64           `json:"created_at"`
}

// InsertHistory stores e. An empty ID is replaced by a new ULID and a zero
// CreatedAt by the current time; both are written back to e.
func InsertHistory(ctx context.Context, db *sql.DB, e *HistoryEntry) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	results := e.SearchResults
	if len(results) == 0 {
		results = json.RawMessage("[]")
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO search_history (id, user_id, search_query, search_results, user_image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.SearchQuery, string(results), toNullString(e.UserImageURL), e.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	e.SearchResults = results
	return nil
}

// GetHistory retrieves one entry owned by userID.
func GetHistory(ctx context.Context, db *sql.DB, userID, id string) (*HistoryEntry, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, user_id, search_query, search_results, user_image_url, created_at
		FROM search_history
		WHERE id = ? AND user_id = ?
	`, id, userID)

	e, err := scanHistory(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("history item", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return e, nil
}

// ListHistory returns the user's entries, newest first, and the total count.
func ListHistory(ctx context.Context, db *sql.DB, userID string, limit, offset int) ([]HistoryEntry, int, error) {
	var total int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM search_history WHERE user_id = ?", userID,
	).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, search_query, search_results, user_image_url, created_at
		FROM search_history
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return entries, total, nil
}

// DeleteHistory removes one entry owned by userID.
func DeleteHistory(ctx context.Context, db *sql.DB, userID, id string) error {
	result, err := db.ExecContext(ctx,
		"DELETE FROM search_history WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("history item", id)
	}
	return nil
}

// ClearHistory removes every entry owned by userID and returns how many were removed.
func ClearHistory(ctx context.Context, db *sql.DB, userID string) (int, error) {
	result, err := db.ExecContext(ctx, "DELETE FROM search_history WHERE user_id = ?", userID)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(rowsAffected), nil
}

func scanHistory(row scanner) (*HistoryEntry, error) {
	var (
		e        HistoryEntry
		results  string
		imageURL sql.NullString
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.SearchQuery, &results, &imageURL, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.SearchResults = json.RawMessage(results)
	e.UserImageURL = imageURL.String
	return &e, nil
}
