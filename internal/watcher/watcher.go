package watcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/metrics"
)

// Config controls Watcher behavior.
type Config struct {
	URL       string
	UserAgent string
	Headers   http.Header
	// LastKnown is the externally supplied baseline fingerprint. Empty means
	// first run.
	LastKnown string
	// Interval is only reported in the initialization message; scheduling is
	// driven by Run or external callers.
	Interval time.Duration
	Location *time.Location
	Topic    string
}

// Watcher runs watcher cycles against a single page.
type Watcher struct {
	fetcher   Fetcher
	hasher    Hasher
	notifier  Notifier
	publisher Publisher
	clock     Clock
	idGen     IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Watcher.
func New(
	fetcher Fetcher,
	hasher Hasher,
	notifier Notifier,
	publisher Publisher,
	clock Clock,
	idGen IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	metrics.Init()
	return &Watcher{
		fetcher:   fetcher,
		hasher:    hasher,
		notifier:  notifier,
		publisher: publisher,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
	}
}

// URL returns the watched page.
func (w *Watcher) URL() string {
	return w.cfg.URL
}

// Check runs one fetch, compare and notify cycle. It never fails: fetch and
// send errors are logged and reflected in the returned Result.
func (w *Watcher) Check(ctx context.Context) Result {
	cycleID := w.newCycleID()
	logger := w.logger.With(zap.String("cycle_id", cycleID), zap.String("url", w.cfg.URL))
	result := Result{
		CycleID:   cycleID,
		URL:       w.cfg.URL,
		Previous:  w.cfg.LastKnown,
		CheckedAt: w.now(),
	}

	logger.Info("checking site")
	fingerprint, err := w.fingerprint(ctx, cycleID)
	if err != nil {
		logger.Error("site fetch failed", zap.Error(err))
		result.Outcome = OutcomeFetchFailed
		metrics.ObserveCheck(string(result.Outcome), result.CheckedAt)
		return result
	}
	result.Fingerprint = fingerprint
	logger = logger.With(zap.String("fingerprint", fingerprint))

	switch {
	case w.cfg.LastKnown == "":
		result.Outcome = OutcomeFirstRun
		logger.Info("first run, no last known fingerprint configured")
		result.Notified = w.notify(ctx, logger, NotificationInit,
			initMessage(w.cfg.URL, fingerprint, w.cfg.Interval))
		w.publish(ctx, logger, result)
	case fingerprint != w.cfg.LastKnown:
		result.Outcome = OutcomeChanged
		logger.Info("site changed", zap.String("last_known", w.cfg.LastKnown))
		result.Notified = w.notify(ctx, logger, NotificationChange,
			changeMessage(w.cfg.URL, result.CheckedAt.In(w.cfg.Location)))
		if result.Notified {
			logger.Warn("change alert sent; update LAST_HASH in the deployment settings",
				zap.String("new_last_hash", fingerprint))
		}
		w.publish(ctx, logger, result)
	default:
		result.Outcome = OutcomeUnchanged
		logger.Info("no changes")
	}

	metrics.ObserveCheck(string(result.Outcome), result.CheckedAt)
	return result
}

// Run calls Check every interval until ctx is done. A non-positive interval
// returns immediately.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	w.logger.Info("watch loop started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watch loop stopped")
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

func (w *Watcher) fingerprint(ctx context.Context, cycleID string) (string, error) {
	if w.fetcher == nil {
		return "", fmt.Errorf("no fetcher configured")
	}
	headers := w.cfg.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if w.cfg.UserAgent != "" && headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", w.cfg.UserAgent)
	}

	resp, err := w.fetcher.Fetch(ctx, FetchRequest{
		CycleID: cycleID,
		URL:     w.cfg.URL,
		Headers: headers,
	})
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	metrics.ObserveFetch(resp.Duration, len(resp.Body))
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}

	hash, err := w.hasher.Hash(resp.Body)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}
	return hash, nil
}

func (w *Watcher) notify(ctx context.Context, logger *zap.Logger, kind NotificationKind, text string) bool {
	if w.notifier == nil {
		logger.Warn("no notifier configured", zap.String("kind", string(kind)))
		metrics.ObserveNotification(string(kind), "failed")
		return false
	}
	if err := w.notifier.Send(ctx, text); err != nil {
		logger.Error("notification send failed", zap.String("kind", string(kind)), zap.Error(err))
		metrics.ObserveNotification(string(kind), "failed")
		return false
	}
	logger.Info("notification sent", zap.String("kind", string(kind)))
	metrics.ObserveNotification(string(kind), "sent")
	return true
}

func (w *Watcher) publish(ctx context.Context, logger *zap.Logger, result Result) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	event := ChangeEvent{
		CycleID:     result.CycleID,
		URL:         result.URL,
		Fingerprint: result.Fingerprint,
		Previous:    result.Previous,
		Outcome:     result.Outcome,
		DetectedAt:  result.CheckedAt.UTC().Format(time.RFC3339),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		logger.Error("publish change event failed", zap.String("topic", w.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("change event published", zap.String("topic", w.cfg.Topic), zap.String("message_id", id))
}

func (w *Watcher) newCycleID() string {
	if w.idGen == nil {
		return ""
	}
	id, err := w.idGen.NewID()
	if err != nil {
		w.logger.Warn("cycle id generation failed", zap.Error(err))
		return ""
	}
	return id
}

func (w *Watcher) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}
