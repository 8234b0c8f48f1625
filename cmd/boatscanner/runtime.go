package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/theboatscanner/boatscanner/internal/auth"
	"github.com/theboatscanner/boatscanner/internal/config"
	"github.com/theboatscanner/boatscanner/internal/db"
	"github.com/theboatscanner/boatscanner/internal/imaging"
	"github.com/theboatscanner/boatscanner/internal/ops"
	"github.com/theboatscanner/boatscanner/internal/pgstore"
	"github.com/theboatscanner/boatscanner/internal/upstream"
)

// runtime holds the process-wide collaborators built from config.
type runtime struct {
	deps     *ops.Deps
	verifier *auth.Verifier
	database *sql.DB
	pg       *pgstore.Store
}

// resolveBaseDir returns dir, or ~/.boatscanner when dir is empty.
func resolveBaseDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".boatscanner"), nil
}

// openRuntime loads config and opens storage under baseDir. The credit ledger
// moves to Postgres when database_url is set.
func openRuntime(ctx context.Context, baseDir string) (*runtime, error) {
	if err := config.LoadEnvFile(filepath.Join(baseDir, ".env"), ".env"); err != nil {
		return nil, err
	}

	cfg, err := config.Load(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	rt := &runtime{database: database}

	var credits ops.CreditBackend = db.NewCreditStore(database, cfg.SignupFreeCredits)
	if cfg.DatabaseURL != "" {
		rt.pg, err = pgstore.New(ctx, cfg.DatabaseURL, cfg.SignupFreeCredits)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to connect credit database: %w", err)
		}
		credits = rt.pg
	}

	timeout := cfg.WebhookTimeout()
	rt.deps = &ops.Deps{
		DB:      database,
		Config:  cfg,
		Credits: credits,
		Matcher: upstream.NewClient(cfg.WebhookURL, cfg.WebhookSecretToken, timeout),
		Images:  imaging.NewStore(db.ImagesDir(baseDir)),
		Support: upstream.NewNotifier(cfg.SupportWebhookURL, cfg.SupportSecretToken, upstream.AuthSecretHeader, timeout),
		Reviews: upstream.NewNotifier(cfg.ReviewWebhookURL, cfg.ReviewSecretToken, upstream.AuthBearer, timeout),
	}
	if cfg.SupabaseURL != "" {
		rt.verifier = auth.NewVerifier(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	}
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.pg != nil {
		rt.pg.Close()
	}
	rt.database.Close()
}
