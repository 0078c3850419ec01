// Package main runs the bembel-site backend: the lead funnel behind the
// public contact and sponsoring forms, the live race center, and the
// admin API over both.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/storage"

	"bembel-site/config"
	"bembel-site/docstore"
	"bembel-site/leads"
	"bembel-site/mailer"
	"bembel-site/race"
	"bembel-site/ratelimit"
	"bembel-site/server"
	"bembel-site/session"
)

const sweepInterval = 5 * time.Minute

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var mirror *docstore.Mirror
	if cfg.MirrorBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("Failed to close storage client", "error", closeErr)
			}
		}()
		mirror = docstore.NewMirror(client, cfg.MirrorBucket, logger)
		logger.Info("Store mirroring enabled", "bucket", cfg.MirrorBucket)
	}

	leadStore, err := docstore.Open(docstore.Options[leads.Document]{
		Path:      cfg.LeadStoreFile,
		Fresh:     leads.NewDocument,
		Normalize: leads.Normalize,
		Mirror:    mirror,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("open lead store: %w", err)
	}
	raceStore, err := docstore.Open(docstore.Options[race.Document]{
		Path:      cfg.RaceStoreFile,
		Fresh:     race.NewDocument,
		Normalize: race.Normalize,
		Mirror:    mirror,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("open race store: %w", err)
	}

	var providers []mailer.Provider
	if cfg.AutoReplyWebhookURL != "" {
		providers = append(providers, mailer.NewWebhookProvider(cfg.AutoReplyWebhookURL, logger))
	}
	if cfg.BrevoAPIKey != "" {
		providers = append(providers, mailer.NewBrevoProvider(cfg.BrevoAPIKey, "Bembel Racing Team", logger))
	}
	if len(providers) == 0 {
		logger.Info("No delivery transport configured, auto-replies go to the outbox log only")
	}
	outbox := mailer.NewOutbox(cfg.AutoReplyLogFile, logger)

	limiter := ratelimit.New()
	sessions := session.NewManager(session.Config{
		TTL:          config.Duration(cfg.SessionTTLMs),
		IdleTTL:      config.Duration(cfg.SessionIdleMs),
		MaxSessions:  cfg.SessionMax,
		BindIdentity: cfg.SessionBindIdentity,
		Salt:         cfg.HashSalt,
		Logger:       logger,
	})

	leadSvc := leads.NewService(leadStore, limiter, providers, outbox, leads.Config{
		HashSalt:   cfg.HashSalt,
		MinFill:    config.Duration(cfg.MinFormFillMs),
		MaxFormAge: config.Duration(cfg.MaxFormAgeMs),
		FormLimit: ratelimit.Limit{
			Window: config.Duration(cfg.FormLimitWindowMs),
			Block:  config.Duration(cfg.FormLimitBlockMs),
			Max:    cfg.FormLimitMaxRequests,
		},
		MaxStored:        cfg.MaxLeadsStored,
		AutoReplyEnabled: cfg.AutoReplyEnabled,
		From:             cfg.AutoReplyFrom,
		ReplyTo:          cfg.AutoReplyReplyTo,
	}, logger)

	raceSvc := race.NewService(raceStore, limiter, race.Config{
		HashSalt:     cfg.RaceHashSalt,
		MaxFeedItems: cfg.RaceFeedMaxItems,
		ReactionLimit: ratelimit.Limit{
			Window: config.Duration(cfg.ReactionWindowMs),
			Block:  config.Duration(cfg.ReactionBlockMs),
			Max:    cfg.ReactionMaxRequests,
		},
		VoteLimit: ratelimit.Limit{
			Window: config.Duration(cfg.VoteWindowMs),
			Block:  config.Duration(cfg.VoteBlockMs),
			Max:    cfg.VoteMaxRequests,
		},
	}, logger)

	srv := server.New(server.Config{
		Leads:              leadSvc,
		Race:               raceSvc,
		Sessions:           sessions,
		Limiter:            limiter,
		Logger:             logger,
		TrustProxy:         cfg.TrustProxy,
		AllowedHosts:       cfg.AllowedHostList(),
		MaxURLLength:       cfg.MaxURLLength,
		MaxContentLength:   int64(cfg.MaxContentLength),
		MaxConcurrentPerIP: cfg.MaxConcurrentPerIP,
		RequestTimeout:     config.Duration(cfg.RequestTimeoutMs),
		SecureCookies:      cfg.SecureCookies,
		SessionTTL:         config.Duration(cfg.SessionTTLMs),
		AdminToken:         cfg.AdminToken,
		AdminTokenHash:     cfg.AdminTokenHash,
		GlobalLimit: ratelimit.Limit{
			Window: config.Duration(cfg.RateLimitWindowMs),
			Block:  config.Duration(cfg.RateLimitBlockMs),
			Max:    cfg.RateLimitMaxRequests,
		},
		LoginLimit: ratelimit.Limit{
			Window: config.Duration(cfg.LoginLimitWindowMs),
			Block:  config.Duration(cfg.LoginLimitBlockMs),
			Max:    cfg.LoginLimitMax,
		},
		AdminReadLimit: ratelimit.Limit{
			Window: config.Duration(cfg.AdminLimitWindowMs),
			Block:  config.Duration(cfg.AdminLimitBlockMs),
			Max:    cfg.AdminReadLimitMax,
		},
		AdminWriteLimit: ratelimit.Limit{
			Window: config.Duration(cfg.AdminLimitWindowMs),
			Block:  config.Duration(cfg.AdminLimitBlockMs),
			Max:    cfg.AdminWriteLimitMax,
		},
	})

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go sweepLoop(ctx, limiter, sessions, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// sweepLoop periodically drops stale rate buckets and expired sessions.
func sweepLoop(ctx context.Context, limiter *ratelimit.Limiter, sessions *session.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			buckets := limiter.Sweep()
			expired := sessions.Sweep()
			if buckets > 0 || expired > 0 {
				logger.Debug("Sweep", "rate_buckets", buckets, "sessions", expired)
			}
		}
	}
}
