// Package auth verifies Supabase sessions for API requests.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	gotrue "github.com/supabase-community/gotrue-go"

	"github.com/theboatscanner/boatscanner/internal/errors"
)

const (
	devUserHeader  = "X-Dev-User"
	devEmailHeader = "X-Dev-Email"
)

// User is an authenticated account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

type ctxKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFrom returns the user stored by Require, or nil.
func UserFrom(ctx context.Context) *User {
	u, _ := ctx.Value(ctxKey{}).(*User)
	return u
}

// Verifier resolves access tokens through the Supabase auth API.
type Verifier struct {
	client gotrue.Client
}

// NewVerifier creates a Verifier for the project at supabaseURL.
func NewVerifier(supabaseURL, anonKey string) *Verifier {
	client := gotrue.New("", anonKey).
		WithCustomGoTrueURL(strings.TrimRight(supabaseURL, "/") + "/auth/v1").
		WithClient(http.Client{Timeout: 10 * time.Second})
	return &Verifier{client: client}
}

// Verify returns the user owning token. Rejected tokens are UNAUTHORIZED;
// an unreachable auth API is INTERNAL.
func (v *Verifier) Verify(ctx context.Context, token string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	resp, err := v.client.WithToken(token).GetUser()
	if err != nil {
		switch statusOf(err) {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, errors.NewUnauthorized("session expired or invalid")
		}
		return nil, errors.NewInternal(fmt.Errorf("auth api: %w", err))
	}
	if resp == nil || resp.ID == uuid.Nil {
		return nil, errors.NewUnauthorized("session expired or invalid")
	}
	return &User{ID: resp.ID.String(), Email: resp.Email}, nil
}

// statusOf extracts the HTTP status gotrue reports for a non-200 reply,
// or 0 for transport and decode failures.
func statusOf(err error) int {
	var code int
	if _, scanErr := fmt.Sscanf(err.Error(), "response status code %d", &code); scanErr != nil {
		return 0
	}
	return code
}

// Middleware authenticates requests.
type Middleware struct {
	verifier  *Verifier
	devBypass bool
	onError   func(http.ResponseWriter, *http.Request, error)
}

// NewMiddleware creates a Middleware. verifier may be nil when only the dev
// bypass is used. onError renders authentication failures.
func NewMiddleware(verifier *Verifier, devBypass bool, onError func(http.ResponseWriter, *http.Request, error)) *Middleware {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		}
	}
	return &Middleware{verifier: verifier, devBypass: devBypass, onError: onError}
}

// Authenticate resolves the user of r.
func (m *Middleware) Authenticate(r *http.Request) (*User, error) {
	if m.devBypass {
		if id := strings.TrimSpace(r.Header.Get(devUserHeader)); id != "" {
			return &User{ID: id, Email: strings.TrimSpace(r.Header.Get(devEmailHeader))}, nil
		}
	}

	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, errors.NewUnauthorized("")
	}
	if m.verifier == nil {
		return nil, errors.NewUnauthorized("session verification is not configured")
	}
	return m.verifier.Verify(r.Context(), token)
}

// Require rejects unauthenticated requests and stores the user in the request context.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := m.Authenticate(r)
		if err != nil {
			m.onError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
