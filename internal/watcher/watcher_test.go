package watcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/sitewatch/internal/publisher/memory"
)

const testURL = "https://example.com/coupon-code"

func TestWatcher_Check_FirstRunSendsInitMessage(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	publisher := memory.New()
	w := newTestWatcher(okFetcher("<html>v1</html>"), &fakeHasher{hash: "deadbeef"}, notifier, publisher, Config{
		URL:   testURL,
		Topic: "site-changes",
	})

	result := w.Check(context.Background())

	require.Equal(t, OutcomeFirstRun, result.Outcome)
	require.Equal(t, "deadbeef", result.Fingerprint)
	require.True(t, result.Notified)
	require.Len(t, notifier.sent(), 1)
	msg := notifier.sent()[0]
	require.Contains(t, msg, "Monitoring started")
	require.Contains(t, msg, "deadbeef...")
	require.Contains(t, msg, testURL)
	require.Len(t, publishedEvents(t, publisher), 1)
	require.Equal(t, OutcomeFirstRun, publishedEvents(t, publisher)[0].Outcome)
}

func TestWatcher_Check_FirstRunTruncatesFingerprint(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	w := newTestWatcher(okFetcher("body"), &fakeHasher{hash: "0123456789abcdef"}, notifier, nil, Config{URL: testURL})

	w.Check(context.Background())

	require.Len(t, notifier.sent(), 1)
	require.Contains(t, notifier.sent()[0], "Current fingerprint: 0123456789...")
	require.NotContains(t, notifier.sent()[0], "0123456789a")
}

func TestWatcher_Check_FirstRunIgnoresContent(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"", "a", "<html>big page</html>"} {
		notifier := &fakeNotifier{}
		w := newTestWatcher(okFetcher(body), &fakeHasher{hash: "cafebabe"}, notifier, nil, Config{URL: testURL})
		w.Check(context.Background())
		require.Len(t, notifier.sent(), 1, "body %q", body)
	}
}

func TestWatcher_Check_UnchangedSendsNothing(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	notifier := &fakeNotifier{}
	publisher := memory.New()
	w := New(okFetcher("same"), &fakeHasher{hash: "abc123"}, notifier, publisher, fixedClock(), &fakeIDGen{},
		Config{URL: testURL, LastKnown: "abc123", Topic: "site-changes"}, zap.New(core))

	result := w.Check(context.Background())

	require.Equal(t, OutcomeUnchanged, result.Outcome)
	require.Equal(t, "abc123", result.Fingerprint)
	require.False(t, result.Notified)
	require.Empty(t, notifier.sent())
	require.Empty(t, publishedEvents(t, publisher))
	require.Equal(t, 1, logs.FilterMessage("no changes").Len())
}

func TestWatcher_Check_ChangedSendsAlert(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	notifier := &fakeNotifier{}
	publisher := memory.New()
	loc := time.FixedZone("MSK", 3*60*60)
	w := New(okFetcher("new"), &fakeHasher{hash: "newhash"}, notifier, publisher, fixedClock(), &fakeIDGen{},
		Config{URL: testURL, LastKnown: "oldhash", Location: loc, Topic: "site-changes"}, zap.New(core))

	result := w.Check(context.Background())

	require.Equal(t, OutcomeChanged, result.Outcome)
	require.Equal(t, "newhash", result.Fingerprint)
	require.Equal(t, "oldhash", result.Previous)
	require.True(t, result.Notified)
	require.Len(t, notifier.sent(), 1)
	msg := notifier.sent()[0]
	require.Contains(t, msg, "The site has changed")
	require.Contains(t, msg, testURL)
	require.Contains(t, msg, `<a href="`+testURL+`">`)
	require.Contains(t, msg, "2024-03-01 15:04:05")

	reminders := logs.FilterMessage("change alert sent; update LAST_HASH in the deployment settings")
	require.Equal(t, 1, reminders.Len())
	require.Equal(t, "newhash", reminders.All()[0].ContextMap()["new_last_hash"])

	events := publishedEvents(t, publisher)
	require.Len(t, events, 1)
	require.Equal(t, ChangeEvent{
		CycleID:     "cycle-1",
		URL:         testURL,
		Fingerprint: "newhash",
		Previous:    "oldhash",
		Outcome:     OutcomeChanged,
		DetectedAt:  "2024-03-01T12:04:05Z",
	}, events[0])
}

func TestWatcher_Check_ChangedSendFailureSkipsReminder(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	w := New(okFetcher("new"), &fakeHasher{hash: "newhash"}, notifier, nil, fixedClock(), &fakeIDGen{},
		Config{URL: testURL, LastKnown: "oldhash"}, zap.New(core))

	result := w.Check(context.Background())

	require.Equal(t, OutcomeChanged, result.Outcome)
	require.False(t, result.Notified)
	require.Equal(t, 1, notifier.attempts())
	require.Equal(t, 0, logs.FilterMessage("change alert sent; update LAST_HASH in the deployment settings").Len())
	require.Equal(t, 1, logs.FilterMessage("notification send failed").Len())
}

func TestWatcher_Check_FetchFailuresSendNothing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fetcher Fetcher
		hasher  Hasher
	}{
		{name: "timeout", fetcher: &fakeFetcher{err: context.DeadlineExceeded}, hasher: &fakeHasher{hash: "x"}},
		{name: "server error", fetcher: &fakeFetcher{resp: FetchResponse{StatusCode: http.StatusInternalServerError}}, hasher: &fakeHasher{hash: "x"}},
		{name: "redirect status", fetcher: &fakeFetcher{resp: FetchResponse{StatusCode: http.StatusFound}}, hasher: &fakeHasher{hash: "x"}},
		{name: "hash error", fetcher: okFetcher("body"), hasher: &fakeHasher{err: errors.New("bad hash")}},
		{name: "no fetcher", fetcher: nil, hasher: &fakeHasher{hash: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for _, last := range []string{"", "oldhash"} {
				notifier := &fakeNotifier{}
				publisher := memory.New()
				w := newTestWatcher(tt.fetcher, tt.hasher, notifier, publisher, Config{URL: testURL, LastKnown: last, Topic: "t"})

				result := w.Check(context.Background())

				require.Equal(t, OutcomeFetchFailed, result.Outcome)
				require.Empty(t, result.Fingerprint)
				require.Zero(t, notifier.attempts())
				require.Empty(t, publishedEvents(t, publisher))
			}
		})
	}
}

func TestWatcher_Check_PublishesChangeEventJSON(t *testing.T) {
	t.Parallel()

	publisher := memory.New()
	w := newTestWatcher(okFetcher("new"), &fakeHasher{hash: "newhash"}, &fakeNotifier{}, publisher, Config{
		URL:       testURL,
		LastKnown: "oldhash",
		Topic:     "site-changes",
	})

	w.Check(context.Background())

	msgs := publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "site-changes", msgs[0].Topic)
	require.JSONEq(t, `{
		"cycle_id": "cycle-1",
		"url": "`+testURL+`",
		"fingerprint": "newhash",
		"previous": "oldhash",
		"outcome": "changed",
		"detected_at": "2024-03-01T12:04:05Z"
	}`, string(msgs[0].Data))
}

func TestWatcher_Check_NoTopicSkipsPublish(t *testing.T) {
	t.Parallel()

	publisher := memory.New()
	w := newTestWatcher(okFetcher("new"), &fakeHasher{hash: "newhash"}, &fakeNotifier{}, publisher, Config{
		URL:       testURL,
		LastKnown: "oldhash",
	})

	w.Check(context.Background())

	require.Empty(t, publisher.Messages())
}

func TestWatcher_Check_SendsConfiguredHeaders(t *testing.T) {
	t.Parallel()

	fetcher := okFetcher("body")
	w := newTestWatcher(fetcher, &fakeHasher{hash: "h"}, &fakeNotifier{}, nil, Config{
		URL:       testURL,
		UserAgent: "Mozilla/5.0 test",
		Headers:   http.Header{"Accept-Language": {"en"}},
		LastKnown: "h",
	})

	w.Check(context.Background())

	req := fetcher.lastRequest()
	require.Equal(t, testURL, req.URL)
	require.Equal(t, "cycle-1", req.CycleID)
	require.Equal(t, "Mozilla/5.0 test", req.Headers.Get("User-Agent"))
	require.Equal(t, "en", req.Headers.Get("Accept-Language"))
}

func TestWatcher_Check_PublishFailureIsLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	publisher := memory.New()
	publisher.FailWith(errors.New("pubsub down"))
	w := New(okFetcher("new"), &fakeHasher{hash: "newhash"}, &fakeNotifier{}, publisher, fixedClock(), &fakeIDGen{},
		Config{URL: testURL, LastKnown: "oldhash", Topic: "site-changes"}, zap.New(core))

	result := w.Check(context.Background())

	require.True(t, result.Notified)
	require.Equal(t, 1, logs.FilterMessage("publish change event failed").Len())
}

func TestWatcher_Check_NilNotifier(t *testing.T) {
	t.Parallel()

	w := newTestWatcher(okFetcher("body"), &fakeHasher{hash: "h"}, nil, nil, Config{URL: testURL})

	result := w.Check(context.Background())

	require.Equal(t, OutcomeFirstRun, result.Outcome)
	require.False(t, result.Notified)
}

func TestWatcher_Run_ChecksOnInterval(t *testing.T) {
	t.Parallel()

	fetcher := okFetcher("body")
	w := newTestWatcher(fetcher, &fakeHasher{hash: "h"}, &fakeNotifier{}, nil, Config{URL: testURL, LastKnown: "h"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return fetcher.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestWatcher_Run_DisabledInterval(t *testing.T) {
	t.Parallel()

	fetcher := okFetcher("body")
	w := newTestWatcher(fetcher, &fakeHasher{hash: "h"}, &fakeNotifier{}, nil, Config{URL: testURL})

	w.Run(context.Background(), 0)

	require.Zero(t, fetcher.calls())
}

func TestScheduleLine(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Checks run on demand via /check", scheduleLine(0))
	require.Equal(t, "Checking every minute", scheduleLine(time.Minute))
	require.Equal(t, "Checking every 5 minutes", scheduleLine(5*time.Minute))
	require.Equal(t, "Checking every 1m30s", scheduleLine(90*time.Second))
}

func TestChangeMessageEscapesURL(t *testing.T) {
	t.Parallel()

	msg := changeMessage("https://example.com/?a=1&b=2", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	require.Contains(t, msg, "https://example.com/?a=1&amp;b=2")
	require.Contains(t, msg, "2024-01-02 03:04:05")
	require.False(t, strings.Contains(msg, "a=1&b=2"))
}

func newTestWatcher(fetcher Fetcher, hasher Hasher, notifier Notifier, publisher Publisher, cfg Config) *Watcher {
	// Typed nils must not reach the watcher as non-nil interfaces.
	var n Notifier
	if nn, ok := notifier.(*fakeNotifier); ok && nn != nil {
		n = nn
	}
	var p Publisher
	if pp, ok := publisher.(*memory.Publisher); ok && pp != nil {
		p = pp
	}
	return New(fetcher, hasher, n, p, fixedClock(), &fakeIDGen{}, cfg, zap.NewNop())
}

func fixedClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 4, 5, 0, time.UTC)}
}

func okFetcher(body string) *fakeFetcher {
	return &fakeFetcher{resp: FetchResponse{
		URL:        testURL,
		StatusCode: http.StatusOK,
		Body:       []byte(body),
		Duration:   5 * time.Millisecond,
	}}
}

type fakeFetcher struct {
	mu       sync.Mutex
	resp     FetchResponse
	err      error
	requests []FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, request FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
	if f.err != nil {
		return FetchResponse{}, f.err
	}
	return f.resp, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeFetcher) lastRequest() FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeHasher struct {
	hash string
	err  error
}

func (f *fakeHasher) Hash(_ []byte) (string, error) {
	return f.hash, f.err
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	tries    int
	err      error
}

func (f *fakeNotifier) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tries++
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func (f *fakeNotifier) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tries
}

func publishedEvents(t *testing.T, pub *memory.Publisher) []ChangeEvent {
	t.Helper()
	var events []ChangeEvent
	for _, msg := range pub.Messages() {
		var event ChangeEvent
		require.NoError(t, msg.Decode(&event))
		events = append(events, event)
	}
	return events
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("cycle-%d", f.n), nil
}
