// Command server runs the CivicFix API.
//
// main reads the configuration once, builds every dependency and hands
// them to the server. All behaviour lives in internal/.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/sakif/civicfix/internal/auth"
	"github.com/sakif/civicfix/internal/config"
	"github.com/sakif/civicfix/internal/events"
	"github.com/sakif/civicfix/internal/ratelimit"
	"github.com/sakif/civicfix/internal/repository/gormstore"
	"github.com/sakif/civicfix/internal/server"
	"github.com/sakif/civicfix/internal/service"
	"github.com/sakif/civicfix/internal/storage"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Database ===
	store, err := gormstore.Open(ctx, cfg.DatabaseURL, cfg.Pool, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	// === Object storage ===
	blobs, err := storage.NewS3(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	// === Rate limiting: shared through Redis when configured ===
	loginLimiter, uploadLimiter, err := limiters(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// === Domain events ===
	var publisher events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		publisher = nc
	}

	// === Auth ===
	tokens, err := auth.NewTokenService(cfg.SecretKey)
	if err != nil {
		return err
	}
	identity, err := auth.NewIdentityVerifier(cfg.Identity)
	if err != nil {
		return err
	}
	var github *auth.GitHubProvider
	if cfg.GitHub.Enabled() {
		github = auth.NewGitHubProvider(cfg.GitHub)
	}

	// === Services ===
	sanitizer := service.NewSanitizer()
	deps := server.Deps{
		Auth:          service.NewAuthService(store.Users(), tokens, auth.NewPasswordService(), sanitizer, logger),
		Users:         service.NewUserService(store.Users(), sanitizer, logger),
		Issues:        service.NewIssueService(store.Issues(), blobs, publisher, sanitizer, logger),
		Comments:      service.NewCommentService(store.Comments(), publisher, sanitizer, logger),
		Stats:         service.NewStatsService(store, service.StatsTTL),
		Analytics:     service.NewAnalyticsService(store),
		Authenticator: auth.NewAuthenticator(tokens, identity, store.Users(), logger),
		GitHub:        github,
		DB:            store,
		Storage:       blobs,
		LoginLimiter:  loginLimiter,
		UploadLimiter: uploadLimiter,
	}

	return server.New(cfg, deps, logger).Start()
}

func limiters(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ratelimit.Limiter, ratelimit.Limiter, error) {
	if cfg.RedisURL == "" {
		logger.Info("rate limits are per process; set REDIS_URL to share them")
		return ratelimit.NewMemory(ctx, cfg.LoginRateLimit, time.Minute),
			ratelimit.NewMemory(ctx, cfg.UploadRateLimit, time.Minute),
			nil
	}

	client, err := ratelimit.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("rate limits shared through redis")
	return ratelimit.NewRedis(client, "login", cfg.LoginRateLimit, time.Minute),
		ratelimit.NewRedis(client, "upload", cfg.UploadRateLimit, time.Minute),
		nil
}
