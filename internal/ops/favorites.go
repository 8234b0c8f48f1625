package ops

import (
	"context"
	"net/url"
	"strings"

	"github.com/theboatscanner/boatscanner/internal/db"
	"github.com/theboatscanner/boatscanner/internal/errors"
)

// FavoriteInput contains parameters for the AddFavorite operation.
type FavoriteInput struct {
	UserID      string // required
	URL         string // required, http(s)
	Title       string
	Description string
	Thumbnail   string
}

// FavoriteRef addresses one favorite of a user.
type FavoriteRef struct {
	UserID string // required
	URL    string // required
}

func (r FavoriteRef) validate() (string, string, error) {
	uid, err := requireUser(r.UserID)
	if err != nil {
		return "", "", err
	}
	u := strings.TrimSpace(r.URL)
	if u == "" {
		return "", "", errors.NewInvalidRequest("url is required")
	}
	return uid, u, nil
}

// AddFavorite saves a listing for the user.
func AddFavorite(ctx context.Context, d *Deps, input FavoriteInput) (*db.Favorite, error) {
	uid, link, err := FavoriteRef{UserID: input.UserID, URL: input.URL}.validate()
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(link)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, errors.NewInvalidRequest("url must be an absolute http(s) link")
	}

	f := &db.Favorite{
		UserID:      uid,
		URL:         link,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Thumbnail:   strings.TrimSpace(input.Thumbnail),
		CreatedAt:   d.now().Unix(),
	}
	if err := db.InsertFavorite(ctx, d.DB, f); err != nil {
		if err == db.ErrUniqueConstraint {
			return nil, errors.NewConflict("listing is already in favorites")
		}
		return nil, err
	}
	return f, nil
}

// RemoveFavorite deletes one of the user's favorites.
func RemoveFavorite(ctx context.Context, d *Deps, input FavoriteRef) (*DeleteOutput, error) {
	uid, link, err := input.validate()
	if err != nil {
		return nil, err
	}
	if err := db.DeleteFavorite(ctx, d.DB, uid, link); err != nil {
		return nil, err
	}
	return &DeleteOutput{Deleted: 1}, nil
}

// ListFavoritesOutput contains the result of the ListFavorites operation.
type ListFavoritesOutput struct {
	Items []db.Favorite `json:"items"`
}

// ListFavorites returns the user's favorites, newest first.
func ListFavorites(ctx context.Context, d *Deps, userID string) (*ListFavoritesOutput, error) {
	uid, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	items, err := db.ListFavorites(ctx, d.DB, uid)
	if err != nil {
		return nil, err
	}
	return &ListFavoritesOutput{Items: items}, nil
}

// IsFavoriteOutput contains the result of the IsFavorite operation.
type IsFavoriteOutput struct {
	Favorite bool `json:"favorite"`
}

// IsFavorite reports whether the user saved the listing.
func IsFavorite(ctx context.Context, d *Deps, input FavoriteRef) (*IsFavoriteOutput, error) {
	uid, link, err := input.validate()
	if err != nil {
		return nil, err
	}
	ok, err := db.IsFavorite(ctx, d.DB, uid, link)
	if err != nil {
		return nil, err
	}
	return &IsFavoriteOutput{Favorite: ok}, nil
}

// ClearFavorites removes all of the user's favorites.
func ClearFavorites(ctx context.Context, d *Deps, userID string) (*DeleteOutput, error) {
	uid, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	n, err := db.ClearFavorites(ctx, d.DB, uid)
	if err != nil {
		return nil, err
	}
	return &DeleteOutput{Deleted: n}, nil
}
