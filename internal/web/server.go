package web

import (
	"context"
	"embed"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/theboatscanner/boatscanner/internal/auth"
	"github.com/theboatscanner/boatscanner/internal/imaging"
	"github.com/theboatscanner/boatscanner/internal/ops"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

//go:embed pages/*.md
var pagesFS embed.FS

// NewRouter builds the HTTP handler for the API, webhooks and pages.
// Every /api route except the public review list requires a verified session.
// verifier may be nil when only the dev bypass is used.
func NewRouter(d *ops.Deps, verifier *auth.Verifier, version string) http.Handler {
	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		log.Fatalf("failed to create template sub-FS: %v", err)
	}

	// Create sub-FS for static files (strip "static/" prefix)
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatalf("failed to create static sub-FS: %v", err)
	}

	pagesSub, err := fs.Sub(pagesFS, "pages")
	if err != nil {
		log.Fatalf("failed to create pages sub-FS: %v", err)
	}

	h := &Handlers{
		deps:     d,
		renderer: NewRenderer(templateSub, version),
		pages:    pagesSub,
	}
	authn := auth.NewMiddleware(verifier, d.Config.DevBypassAuth, h.renderer.renderError)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.Config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Dev-User", "X-Dev-Email"},
		MaxAge:         300,
	}))
	r.Use(securityHeaders)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/pages/how-it-works", http.StatusFound)
	})
	r.Get("/healthz", h.HandleHealth)
	r.Get("/pages/{slug}", h.HandlePage)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(staticSub)))
	if d.Images != nil {
		r.Handle(imaging.URLPrefix+"*", http.StripPrefix(imaging.URLPrefix, noDirListing(http.FileServer(http.Dir(d.Images.Root())))))
	}

	r.Post("/webhooks/lemonsqueezy", h.HandleBillingWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Get("/reviews", h.HandleListReviews)

		r.Group(func(r chi.Router) {
			r.Use(authn.Require)

			r.Get("/credits", h.HandleCredits)
			r.Post("/search", h.HandleSearch)

			r.Get("/history", h.HandleListHistory)
			r.Delete("/history", h.HandleClearHistory)
			r.Get("/history/{id}", h.HandleGetHistory)
			r.Delete("/history/{id}", h.HandleDeleteHistory)

			r.Get("/favorites", h.HandleListFavorites)
			r.Post("/favorites", h.HandleAddFavorite)
			r.Delete("/favorites", h.HandleRemoveFavorite)
			r.Get("/favorites/check", h.HandleIsFavorite)
			r.Delete("/favorites/all", h.HandleClearFavorites)

			r.Get("/reviews/status", h.HandleReviewStatus)
			r.Post("/reviews", h.HandleSubmitReview)
			r.Post("/reviews/modal-shown", h.HandleReviewModalShown)

			r.Post("/support", h.HandleSupport)
			r.Get("/checkout", h.HandleCheckout)
		})
	})

	r.With(authn.Require).Get("/history/{id}", h.HandleHistoryPage)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		h.renderer.renderError(w, req, errNotFound(req.URL.Path))
	})
	return r
}

// NewServer creates the HTTP server for the service.
func NewServer(d *ops.Deps, verifier *auth.Verifier, version string) *http.Server {
	return &http.Server{
		Addr:              d.Config.ListenAddress,
		Handler:           NewRouter(d, verifier, version),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
// Listing images are hot-linked from the ad sites, so img-src allows https.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' https: data:; style-src 'self' 'unsafe-inline'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("Boat Scanner listening on %s", srv.Addr)

	if strings.HasPrefix(srv.Addr, ":") || strings.Contains(srv.Addr, "0.0.0.0") {
		log.Printf("Server is binding to all interfaces")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
