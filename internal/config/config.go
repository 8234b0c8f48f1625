package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// ListenAddress is the host:port the HTTP server binds to.
	ListenAddress string `json:"listen_address"`

	// AllowedOrigins lists the browser origins allowed by CORS.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	// WebhookURL is the upstream image-matching webhook.
	WebhookURL string `json:"webhook_url,omitempty"`
	// WebhookSecretToken is sent as a bearer token to the matching webhook.
	WebhookSecretToken string `json:"webhook_secret_token,omitempty"`
	// WebhookTimeoutSeconds bounds a single matching request. There is no automatic retry.
	WebhookTimeoutSeconds int `json:"webhook_timeout_seconds"`

	SupportWebhookURL  string `json:"support_webhook_url,omitempty"`
	SupportSecretToken string `json:"support_secret_token,omitempty"`
	ReviewWebhookURL   string `json:"review_webhook_url,omitempty"`
	ReviewSecretToken  string `json:"review_secret_token,omitempty"`

	// SupabaseURL and SupabaseAnonKey are used to verify user sessions.
	SupabaseURL     string `json:"supabase_url,omitempty"`
	SupabaseAnonKey string `json:"supabase_anon_key,omitempty"`

	// LemonSqueezyWebhookSecret verifies the X-Signature header of billing webhooks.
	LemonSqueezyWebhookSecret string `json:"lemonsqueezy_webhook_secret,omitempty"`

	// DatabaseURL, if set, moves the credit ledger to hosted Postgres.
	// History, favorites and reviews stay in the local database.
	DatabaseURL string `json:"database_url,omitempty"`

	// SignupFreeCredits is granted when a user's credit row is first created.
	SignupFreeCredits int `json:"signup_free_credits"`
	// ReviewBonusCredits is granted once for a user's first review.
	ReviewBonusCredits int `json:"review_bonus_credits"`

	// CreditVariants maps a checkout variant ID to the paid credits it grants.
	CreditVariants map[string]int `json:"credit_variants,omitempty"`
	// SubscriptionVariants lists variant IDs that activate a subscription.
	SubscriptionVariants []string `json:"subscription_variants,omitempty"`
	// CheckoutURLs maps a pack name ("pack3", "pack12") to its checkout page.
	CheckoutURLs map[string]string `json:"checkout_urls,omitempty"`

	MaxUploadBytes int64 `json:"max_upload_bytes"`
	ImageMaxWidth  int   `json:"image_max_width"`
	ImageQuality   int   `json:"image_quality"`
	// ImageMaxPixels bounds width*height of an upload, checked from its header
	// before anything is decoded or sent upstream.
	ImageMaxPixels int `json:"image_max_pixels"`

	// DevBypassAuth trusts X-Dev-User headers instead of verifying sessions.
	// Never enable outside local development.
	DevBypassAuth bool `json:"dev_bypass_auth,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`
	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddress:         ":8080",
		AllowedOrigins:        []string{"*"},
		WebhookTimeoutSeconds: 90,
		SignupFreeCredits:     3,
		ReviewBonusCredits:    3,
		CreditVariants: map[string]int{
			"882183": 5,
			"882203": 20,
		},
		SubscriptionVariants: []string{"882216"},
		CheckoutURLs: map[string]string{
			"pack3":  "https://shop.theboatscanner.com/buy/78c6c711-133d-4cd3-ae18-fc66bde0c1b6",
			"pack12": "https://shop.theboatscanner.com/buy/64232b02-cd51-4151-99c2-d439a4f4cd53",
		},
		MaxUploadBytes: 10 << 20,
		ImageMaxWidth:  600,
		ImageQuality:   90,
		ImageMaxPixels: 36_000_000,
	}
}

// WebhookTimeout returns the matching webhook timeout as a duration.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// Validate reports settings that would make the server misbehave.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("listen_address is required")
	}
	if c.WebhookTimeoutSeconds <= 0 {
		return errors.New("webhook_timeout_seconds must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be positive")
	}
	if c.ImageMaxWidth <= 0 {
		return errors.New("image_max_width must be positive")
	}
	if c.ImageMaxPixels <= 0 {
		return errors.New("image_max_pixels must be positive")
	}
	if c.ImageQuality < 1 || c.ImageQuality > 100 {
		return fmt.Errorf("image_quality must be between 1 and 100, got %d", c.ImageQuality)
	}
	return nil
}

// Load loads configuration from baseDir/config.json, then overlays the environment.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.boatscanner.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from the given .env files into the process
// environment. Missing files are skipped; existing variables are not overwritten.
func LoadEnvFile(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// envBindings maps environment variables to the string fields they override.
var envBindings = []struct {
	key   string
	field func(*Config) *string
}{
	{"N8N_WEBHOOK_URL", func(c *Config) *string { return &c.WebhookURL }},
	{"N8N_SECRET_TOKEN", func(c *Config) *string { return &c.WebhookSecretToken }},
	{"SUPPORT_WEBHOOK_URL", func(c *Config) *string { return &c.SupportWebhookURL }},
	{"SUPPORT_SECRET_TOKEN", func(c *Config) *string { return &c.SupportSecretToken }},
	{"N8N_WEBHOOK_URL_REVIEWS", func(c *Config) *string { return &c.ReviewWebhookURL }},
	{"N8N_SECRET_TOKEN_REVIEWS", func(c *Config) *string { return &c.ReviewSecretToken }},
	{"SUPABASE_URL", func(c *Config) *string { return &c.SupabaseURL }},
	{"SUPABASE_ANON_KEY", func(c *Config) *string { return &c.SupabaseAnonKey }},
	{"LS_WEBHOOK_SECRET", func(c *Config) *string { return &c.LemonSqueezyWebhookSecret }},
	{"DATABASE_URL", func(c *Config) *string { return &c.DatabaseURL }},
	{"LISTEN_ADDRESS", func(c *Config) *string { return &c.ListenAddress }},
}

// ApplyEnv overlays non-empty environment values onto cfg.
// lookup is os.LookupEnv in production; tests pass a map-backed function.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for _, b := range envBindings {
		if v, ok := lookup(b.key); ok && strings.TrimSpace(v) != "" {
			*b.field(cfg) = strings.TrimSpace(v)
		}
	}
	if v, ok := lookup("DEV_BYPASS_AUTH"); ok && v == "true" {
		cfg.DevBypassAuth = true
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars and map keys; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		ListenAddress:             pick(overlay.ListenAddress, base.ListenAddress),
		WebhookURL:                pick(overlay.WebhookURL, base.WebhookURL),
		WebhookSecretToken:        pick(overlay.WebhookSecretToken, base.WebhookSecretToken),
		WebhookTimeoutSeconds:     pick(overlay.WebhookTimeoutSeconds, base.WebhookTimeoutSeconds),
		SupportWebhookURL:         pick(overlay.SupportWebhookURL, base.SupportWebhookURL),
		SupportSecretToken:        pick(overlay.SupportSecretToken, base.SupportSecretToken),
		ReviewWebhookURL:          pick(overlay.ReviewWebhookURL, base.ReviewWebhookURL),
		ReviewSecretToken:         pick(overlay.ReviewSecretToken, base.ReviewSecretToken),
		SupabaseURL:               pick(overlay.SupabaseURL, base.SupabaseURL),
		SupabaseAnonKey:           pick(overlay.SupabaseAnonKey, base.SupabaseAnonKey),
		LemonSqueezyWebhookSecret: pick(overlay.LemonSqueezyWebhookSecret, base.LemonSqueezyWebhookSecret),
		DatabaseURL:               pick(overlay.DatabaseURL, base.DatabaseURL),
		SignupFreeCredits:         pick(overlay.SignupFreeCredits, base.SignupFreeCredits),
		ReviewBonusCredits:        pick(overlay.ReviewBonusCredits, base.ReviewBonusCredits),
		MaxUploadBytes:            pick(overlay.MaxUploadBytes, base.MaxUploadBytes),
		ImageMaxWidth:             pick(overlay.ImageMaxWidth, base.ImageMaxWidth),
		ImageQuality:              pick(overlay.ImageQuality, base.ImageQuality),
		ImageMaxPixels:            pick(overlay.ImageMaxPixels, base.ImageMaxPixels),
		DBMaxOpenConns:            pick(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:            pick(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
	}

	// Booleans: overlay wins if true, else base
	result.DevBypassAuth = base.DevBypassAuth || overlay.DevBypassAuth

	// Maps: base keys, then overlay keys on top
	result.CreditVariants = mergeMap(base.CreditVariants, overlay.CreditVariants)
	result.CheckoutURLs = mergeMap(base.CheckoutURLs, overlay.CheckoutURLs)

	// Arrays: merge and deduplicate
	result.AllowedOrigins = mergeStringSlice(base.AllowedOrigins, overlay.AllowedOrigins)
	result.SubscriptionVariants = mergeStringSlice(base.SubscriptionVariants, overlay.SubscriptionVariants)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// pick returns overlay if non-zero, else base.
func pick[T comparable](overlay, base T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

// mergeMap copies a then b into a new map. Returns nil if both are empty.
func mergeMap[V any](a, b map[string]V) map[string]V {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	result := make(map[string]V, len(a)+len(b))
	for k, v := range a {
		result[k] = v
	}
	for k, v := range b {
		result[k] = v
	}
	return result
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
