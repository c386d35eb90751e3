// Package main wires together the sitewatch binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/api"
	"github.com/JakeFAU/sitewatch/internal/clock/system"
	"github.com/JakeFAU/sitewatch/internal/config"
	collyfetcher "github.com/JakeFAU/sitewatch/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sitewatch/internal/fetcher/headless"
	"github.com/JakeFAU/sitewatch/internal/hash/md5"
	"github.com/JakeFAU/sitewatch/internal/hash/sha256"
	"github.com/JakeFAU/sitewatch/internal/id/uuid"
	"github.com/JakeFAU/sitewatch/internal/logging"
	"github.com/JakeFAU/sitewatch/internal/notifier/telegram"
	pubsubpublisher "github.com/JakeFAU/sitewatch/internal/publisher/pubsub"
	"github.com/JakeFAU/sitewatch/internal/watcher"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil && !isSyncNoise(syncErr) {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("sitewatch exited", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.Watch.RunOnStart {
		svc.watcher.Check(ctx)
	}

	if interval := cfg.Interval(); interval > 0 {
		go svc.watcher.Run(ctx, interval)
	} else {
		logger.Info("no internal schedule; call /check to run further cycles")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           svc.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// service bundles the wired components and their cleanup hooks.
type service struct {
	watcher *watcher.Watcher
	server  *api.Server
	closers []func()
}

func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newService(ctx context.Context, cfg config.Config, logger *zap.Logger) (*service, error) {
	svc := &service{}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve timezone: %w", err)
	}
	hasher, err := buildHasher(cfg.Fingerprint.Algorithm)
	if err != nil {
		return nil, err
	}

	fetcher, closeFetcher := buildFetcher(cfg, logger)
	if closeFetcher != nil {
		svc.closers = append(svc.closers, closeFetcher)
	}

	notifier := telegram.New(telegram.Config{
		BaseURL:   cfg.Telegram.APIBaseURL,
		Token:     cfg.Telegram.Token,
		ChatID:    cfg.Telegram.ChatID,
		ParseMode: cfg.Telegram.ParseMode,
		Timeout:   cfg.SendTimeout(),
	}, nil)
	if !notifier.Configured() {
		logger.Warn("TELEGRAM_TOKEN or CHAT_ID missing; notifications will fail")
	}

	var publisher watcher.Publisher
	if cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		publisher = pub
		svc.closers = append(svc.closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("pubsub close failed", zap.Error(err))
			}
		})
	}

	if cfg.Watch.LastHash == "" {
		logger.Info("LAST_HASH not set; the next cycle is treated as a first run")
	}

	svc.watcher = watcher.New(
		fetcher,
		hasher,
		notifier,
		publisher,
		system.New(loc),
		uuid.New(),
		watcher.Config{
			URL:       cfg.Site.URL,
			UserAgent: cfg.Site.UserAgent,
			Headers:   cfg.RequestHeaders(),
			LastKnown: cfg.Watch.LastHash,
			Interval:  cfg.Interval(),
			Location:  loc,
			Topic:     cfg.PubSub.TopicName,
		},
		logger.Named("watcher"),
	)
	svc.server = api.NewServer(svc.watcher, logger.Named("api"))
	return svc, nil
}

func buildHasher(algorithm string) (watcher.Hasher, error) {
	switch strings.ToLower(algorithm) {
	case "", config.AlgorithmMD5:
		return md5.New(), nil
	case config.AlgorithmSHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unknown fingerprint algorithm %q", algorithm)
	}
}

// buildFetcher falls back to the Colly fetcher when headless Chrome cannot be
// set up.
func buildFetcher(cfg config.Config, logger *zap.Logger) (watcher.Fetcher, func()) {
	if cfg.Fetch.Headless {
		headless, err := headlessfetcher.New(headlessfetcher.Config{
			ExecPath:          cfg.Headless.ExecPath,
			UserAgent:         cfg.Site.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err == nil {
			return headless, headless.Close
		}
		logger.Warn("headless fetcher init failed; falling back to colly", zap.Error(err))
	}
	return collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Site.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}), nil
}

// isSyncNoise filters the EINVAL/ENOTTY zap returns when syncing a terminal.
func isSyncNoise(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
