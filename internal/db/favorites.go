package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/theboatscanner/boatscanner/internal/errors"
)

// Favorite is a saved listing.
type Favorite struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// InsertFavorite stores f. A second favorite with the same (user, url)
// returns ErrUniqueConstraint.
func InsertFavorite(ctx context.Context, db *sql.DB, f *Favorite) error {
	if f.ID == "" {
		f.ID = ulid.Make().String()
	}
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().Unix()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO favorites (id, user_id, url, title, description, thumbnail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.UserID, f.URL,
		toNullString(f.Title), toNullString(f.Description), toNullString(f.Thumbnail),
		f.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteFavorite removes the user's favorite for url.
func DeleteFavorite(ctx context.Context, db *sql.DB, userID, url string) error {
	result, err := db.ExecContext(ctx,
		"DELETE FROM favorites WHERE user_id = ? AND url = ?", userID, url)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("favorite", url)
	}
	return nil
}

// ListFavorites returns the user's favorites, newest first.
func ListFavorites(ctx context.Context, db *sql.DB, userID string) ([]Favorite, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, url, title, description, thumbnail, created_at
		FROM favorites
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	favorites := []Favorite{}
	for rows.Next() {
		var (
			f                         Favorite
			title, description, thumb sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.URL, &title, &description, &thumb, &f.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		f.Title = title.String
		f.Description = description.String
		f.Thumbnail = thumb.String
		favorites = append(favorites, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return favorites, nil
}

// IsFavorite reports whether the user saved url.
func IsFavorite(ctx context.Context, db *sql.DB, userID, url string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx,
		"SELECT 1 FROM favorites WHERE user_id = ? AND url = ? LIMIT 1", userID, url,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// ClearFavorites removes all of the user's favorites and returns how many were removed.
func ClearFavorites(ctx context.Context, db *sql.DB, userID string) (int, error) {
	result, err := db.ExecContext(ctx, "DELETE FROM favorites WHERE user_id = ?", userID)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(rowsAffected), nil
}
