package watcher

import (
	"net/http"
	"time"
)

// Outcome classifies the result of one watcher cycle.
type Outcome string

// Cycle outcomes, also used as metric labels.
const (
	OutcomeFirstRun    Outcome = "first_run"
	OutcomeChanged     Outcome = "changed"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeFetchFailed Outcome = "fetch_failed"
)

// NotificationKind labels the message sent for an outcome.
type NotificationKind string

// Notification kinds.
const (
	NotificationInit   NotificationKind = "init"
	NotificationChange NotificationKind = "change"
)

// FetchRequest captures everything needed to fetch the watched page.
type FetchRequest struct {
	CycleID string
	URL     string
	Headers http.Header
}

// FetchResponse is returned by Fetcher implementations.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Result describes one completed watcher cycle. Fingerprint is empty when
// the page could not be fetched.
type Result struct {
	CycleID     string    `json:"cycle_id"`
	URL         string    `json:"url"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Previous    string    `json:"previous,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	Notified    bool      `json:"notified"`
	CheckedAt   time.Time `json:"checked_at"`
}

// ChangeEvent is the payload published when monitoring starts or the page
// changes.
type ChangeEvent struct {
	CycleID     string  `json:"cycle_id"`
	URL         string  `json:"url"`
	Fingerprint string  `json:"fingerprint"`
	Previous    string  `json:"previous,omitempty"`
	Outcome     Outcome `json:"outcome"`
	DetectedAt  string  `json:"detected_at"`
}
