package web

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/theboatscanner/boatscanner/internal/auth"
	"github.com/theboatscanner/boatscanner/internal/errors"
	"github.com/theboatscanner/boatscanner/internal/normalize"
	"github.com/theboatscanner/boatscanner/internal/ops"
)

// Request body limits
const (
	maxJSONBody    = 1 << 20
	maxWebhookBody = 1 << 20
	multipartSlack = 1 << 20
)

// Handlers contains HTTP route handlers.
type Handlers struct {
	deps     *ops.Deps
	renderer *Renderer
	pages    fs.FS
}

func errNotFound(p string) error {
	return errors.NewNotFound("page", p)
}

// user returns the authenticated user. Routes using it sit behind Require.
func user(r *http.Request) *auth.User {
	if u := auth.UserFrom(r.Context()); u != nil {
		return u
	}
	return &auth.User{}
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DB.PingContext(r.Context()); err != nil {
		renderJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCredits handles GET /api/credits.
func (h *Handlers) HandleCredits(w http.ResponseWriter, r *http.Request) {
	u := user(r)
	out, err := ops.Credits(r.Context(), h.deps, ops.CreditsInput{UserID: u.ID, Email: u.Email})
	h.respond(w, r, out, err)
}

// HandleSearch handles POST /api/search with the photo in the multipart field "image".
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	limit := h.deps.Config.MaxUploadBytes
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartSlack)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			h.renderer.renderError(w, r, errors.NewImageTooLarge(limit))
			return
		}
		h.renderer.renderError(w, r, errors.NewInvalidRequest("expected a multipart form with an image field"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("image")
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("image is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("could not read image"))
		return
	}

	u := user(r)
	out, err := ops.Search(r.Context(), h.deps, ops.SearchInput{
		UserID:   u.ID,
		Email:    u.Email,
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
	})
	h.respond(w, r, out, err)
}

// HandleListHistory handles GET /api/history.
func (h *Handlers) HandleListHistory(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListHistory(r.Context(), h.deps, ops.ListHistoryInput{
		UserID: user(r).ID,
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	h.respond(w, r, out, err)
}

// HandleGetHistory handles GET /api/history/{id}.
func (h *Handlers) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetHistory(r.Context(), h.deps, ops.HistoryRef{UserID: user(r).ID, ID: chi.URLParam(r, "id")})
	h.respond(w, r, out, err)
}

// HandleDeleteHistory handles DELETE /api/history/{id}.
func (h *Handlers) HandleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	out, err := ops.DeleteHistory(r.Context(), h.deps, ops.HistoryRef{UserID: user(r).ID, ID: chi.URLParam(r, "id")})
	h.respond(w, r, out, err)
}

// HandleClearHistory handles DELETE /api/history.
func (h *Handlers) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ClearHistory(r.Context(), h.deps, user(r).ID)
	h.respond(w, r, out, err)
}

// HandleHistoryPage handles GET /history/{id}, the shareable result page.
func (h *Handlers) HandleHistoryPage(w http.ResponseWriter, r *http.Request) {
	item, err := ops.GetHistory(r.Context(), h.deps, ops.HistoryRef{UserID: user(r).ID, ID: chi.URLParam(r, "id")})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "history", HistoryPageData{
		PageData: h.renderer.pageData("Search result"),
		Item:     item,
		NotBoat:  item.Outcome.Kind == normalize.KindNotBoat,
		Matches:  item.Outcome.Display(),
	})
}

type favoriteRequest struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Thumbnail   string `json:"thumbnail"`
}

// HandleAddFavorite handles POST /api/favorites.
func (h *Handlers) HandleAddFavorite(w http.ResponseWriter, r *http.Request) {
	var req favoriteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	out, err := ops.AddFavorite(r.Context(), h.deps, ops.FavoriteInput{
		UserID:      user(r).ID,
		URL:         req.URL,
		Title:       req.Title,
		Description: req.Description,
		Thumbnail:   req.Thumbnail,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, out)
}

// HandleRemoveFavorite handles DELETE /api/favorites?url=.
func (h *Handlers) HandleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	out, err := ops.RemoveFavorite(r.Context(), h.deps, ops.FavoriteRef{UserID: user(r).ID, URL: r.URL.Query().Get("url")})
	h.respond(w, r, out, err)
}

// HandleListFavorites handles GET /api/favorites.
func (h *Handlers) HandleListFavorites(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListFavorites(r.Context(), h.deps, user(r).ID)
	h.respond(w, r, out, err)
}

// HandleIsFavorite handles GET /api/favorites/check?url=.
func (h *Handlers) HandleIsFavorite(w http.ResponseWriter, r *http.Request) {
	out, err := ops.IsFavorite(r.Context(), h.deps, ops.FavoriteRef{UserID: user(r).ID, URL: r.URL.Query().Get("url")})
	h.respond(w, r, out, err)
}

// HandleClearFavorites handles DELETE /api/favorites/all.
func (h *Handlers) HandleClearFavorites(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ClearFavorites(r.Context(), h.deps, user(r).ID)
	h.respond(w, r, out, err)
}

type reviewRequest struct {
	Rating     int    `json:"rating"`
	ReviewText string `json:"review_text"`
}

// HandleSubmitReview handles POST /api/reviews.
func (h *Handlers) HandleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	u := user(r)
	out, err := ops.SubmitReview(r.Context(), h.deps, ops.SubmitReviewInput{
		UserID:     u.ID,
		Email:      u.Email,
		Rating:     req.Rating,
		ReviewText: req.ReviewText,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, out)
}

// HandleReviewStatus handles GET /api/reviews/status.
func (h *Handlers) HandleReviewStatus(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ReviewStatus(r.Context(), h.deps, user(r).ID)
	h.respond(w, r, out, err)
}

// HandleReviewModalShown handles POST /api/reviews/modal-shown.
func (h *Handlers) HandleReviewModalShown(w http.ResponseWriter, r *http.Request) {
	if err := ops.MarkReviewModalShown(r.Context(), h.deps, user(r).ID); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleListReviews handles GET /api/reviews. It needs no session.
func (h *Handlers) HandleListReviews(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListReviews(r.Context(), h.deps, parseIntParam(r, "limit", ops.DefaultReviewsLimit))
	h.respond(w, r, out, err)
}

type supportRequest struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// HandleSupport handles POST /api/support. The account email is used when
// the form leaves it blank.
func (h *Handlers) HandleSupport(w http.ResponseWriter, r *http.Request) {
	var req supportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	u := user(r)
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = u.Email
	}
	out, err := ops.SubmitSupport(r.Context(), h.deps, ops.SupportInput{UserID: u.ID, Email: email, Message: req.Message})
	h.respond(w, r, out, err)
}

// HandleCheckout handles GET /api/checkout?pack=.
func (h *Handlers) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	out, err := ops.CheckoutURL(r.Context(), h.deps, ops.CheckoutInput{UserID: user(r).ID, Pack: r.URL.Query().Get("pack")})
	h.respond(w, r, out, err)
}

// HandleBillingWebhook handles POST /webhooks/lemonsqueezy.
func (h *Handlers) HandleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("could not read body"))
		return
	}
	out, err := ops.ApplyBillingWebhook(r.Context(), h.deps, ops.BillingWebhookInput{
		RawBody:   raw,
		Signature: r.Header.Get("X-Signature"),
	})
	h.respond(w, r, out, err)
}

// HandlePage handles GET /pages/{slug}, rendering an embedded markdown page.
func (h *Handlers) HandlePage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" || strings.ContainsAny(slug, `/\.`) {
		h.renderer.renderError(w, r, errNotFound(r.URL.Path))
		return
	}
	md, err := fs.ReadFile(h.pages, slug+".md")
	if err != nil {
		h.renderer.renderError(w, r, errNotFound(r.URL.Path))
		return
	}

	h.renderer.renderPage(w, "page", MarkdownPageData{
		PageData: h.renderer.pageData(pageTitle(md, slug)),
		Body:     renderMarkdown(md),
	})
}

// respond writes out as JSON, or err through the renderer.
func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, out any, err error) {
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// decodeJSON reads a bounded JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// noDirListing hides directory indexes of a file server.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// pageTitle returns the first markdown heading, or the slug.
func pageTitle(md []byte, slug string) string {
	for _, line := range strings.Split(string(md), "\n") {
		if t, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return strings.TrimSpace(t)
		}
	}
	return slug
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
