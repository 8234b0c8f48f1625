package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theboatscanner/boatscanner/internal/ledger"
	"github.com/theboatscanner/boatscanner/internal/normalize"
)

func TestClient_Match(t *testing.T) {
	var got matchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"body":[{"url":"http://a","user_short_description":"d"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 5*time.Second)
	img := ledger.Image{Filename: "boat.jpg", MimeType: "image/jpeg", Data: []byte("jpegbytes")}

	payload, err := c.Match(context.Background(), img)
	require.NoError(t, err)

	require.Equal(t, "boat.jpg", got.Filename)
	require.Equal(t, "image/jpeg", got.MimeType)
	require.Equal(t, 9, got.Size)
	decoded, err := base64.StdEncoding.DecodeString(got.Photo)
	require.NoError(t, err)
	require.Equal(t, "jpegbytes", string(decoded))

	resp := normalize.Classify(payload)
	require.Equal(t, normalize.KindSuccess, resp.Kind)
	require.Len(t, resp.Matches, 1)
}

func TestClient_MatchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "workflow crashed", http.StatusInternalServerError)
			},
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.True(t, errors.As(err, &se))
				require.Equal(t, 500, se.StatusCode)
				require.Contains(t, se.Error(), "workflow crashed")
			},
		},
		{
			name: "html body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "<html>gateway</html>")
			},
			check: func(t *testing.T, err error) {
				require.Contains(t, err.Error(), "decode upstream response")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewClient(srv.URL, "", time.Second).Match(context.Background(), ledger.Image{})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, "", 50*time.Millisecond).Match(context.Background(), ledger.Image{})
	require.Error(t, err)
}

func TestClient_NotConfigured(t *testing.T) {
	_, err := NewClient("", "", time.Second).Match(context.Background(), ledger.Image{})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestExcerpt(t *testing.T) {
	require.Equal(t, "short", excerpt([]byte("  short \n")))
	long := excerpt([]byte(strings.Repeat("x", 300)))
	require.Len(t, long, 203)
	require.True(t, strings.HasSuffix(long, "..."))
}

func TestNotifier_AuthSchemes(t *testing.T) {
	tests := []struct {
		name   string
		scheme AuthScheme
		header string
		want   string
	}{
		{"bearer", AuthBearer, "Authorization", "Bearer tok"},
		{"secret header", AuthSecretHeader, "x-secret-token", "tok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				gotHeader string
				gotBody   map[string]any
			)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotHeader = r.Header.Get(tt.header)
				_ = json.NewDecoder(r.Body).Decode(&gotBody)
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			n := NewNotifier(srv.URL, "tok", tt.scheme, time.Second)
			require.True(t, n.Configured())
			require.NoError(t, n.Notify(context.Background(), map[string]any{"uid": "u1"}))
			require.Equal(t, tt.want, gotHeader)
			require.Equal(t, "u1", gotBody["uid"])
		})
	}
}

func TestNotifier_Errors(t *testing.T) {
	var n *Notifier
	require.False(t, n.Configured())

	err := NewNotifier("", "", AuthBearer, time.Second).Notify(context.Background(), struct{}{})
	require.ErrorIs(t, err, ErrNotConfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err = NewNotifier(srv.URL, "", AuthBearer, time.Second).Notify(context.Background(), struct{}{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadGateway, se.StatusCode)
}
