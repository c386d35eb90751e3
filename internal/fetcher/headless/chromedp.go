// Package headless renders the watched page in headless Chrome before it is
// fingerprinted. Use it when the page builds its content with JavaScript.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/sitewatch/internal/watcher"
)

const (
	defaultNavigationTimeout = 25 * time.Second
	settleDelay              = 500 * time.Millisecond
)

// ErrChromeNotFound is returned by New when no Chrome binary can be located.
var ErrChromeNotFound = errors.New("headless chrome not found")

// chromeCandidates mirrors the names chromedp probes on Linux and macOS.
var chromeCandidates = []string{
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// Config controls the headless fetcher.
type Config struct {
	// ExecPath overrides the Chrome binary lookup.
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
}

// Fetcher implements watcher.Fetcher by rendering the page in Chrome.
type Fetcher struct {
	userAgent  string
	navTimeout time.Duration
	browser    context.Context
	shutdown   context.CancelFunc
}

// New locates Chrome and prepares an allocator. The browser process is not
// started until the first Fetch.
func New(cfg Config) (*Fetcher, error) {
	execPath, err := locateChrome(cfg.ExecPath)
	if err != nil {
		return nil, err
	}
	navTimeout := cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
	)
	browser, shutdown := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Fetcher{
		userAgent:  cfg.UserAgent,
		navTimeout: navTimeout,
		browser:    browser,
		shutdown:   shutdown,
	}, nil
}

func locateChrome(override string) (string, error) {
	if override != "" {
		path, err := exec.LookPath(override)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrChromeNotFound, override, err)
		}
		return path, nil
	}
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrChromeNotFound
}

// Close stops Chrome.
func (f *Fetcher) Close() {
	f.shutdown()
}

// Fetch loads the page, waits for the body to settle and returns the rendered
// DOM. Status and headers come from the main document response.
func (f *Fetcher) Fetch(ctx context.Context, request watcher.FetchRequest) (watcher.FetchResponse, error) {
	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.navTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tab,
		f.prepare(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return watcher.FetchResponse{}, fmt.Errorf("headless render canceled: %w", ctxErr)
		}
		return watcher.FetchResponse{}, fmt.Errorf("headless render: %w", err)
	}

	resp := doc.result(request.URL, location)
	resp.Body = []byte(html)
	resp.Duration = time.Since(start)
	resp.UsedHeadless = true
	return resp, nil
}

// prepare applies the User-Agent override and the remaining request headers
// before navigation.
func (f *Fetcher) prepare(headers http.Header) chromedp.Action {
	ua := headers.Get("User-Agent")
	if ua == "" {
		ua = f.userAgent
	}
	extra := headers.Clone()
	if extra != nil {
		extra.Del("User-Agent")
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("override user agent: %w", err)
			}
		}
		if len(extra) == 0 {
			return nil
		}
		if err := network.SetExtraHTTPHeaders(networkHeaders(extra)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

// documentResponse keeps the first document response of a navigation.
// Later document responses belong to frames.
type documentResponse struct {
	mu      sync.Mutex
	seen    bool
	status  int
	url     string
	headers http.Header
}

func (d *documentResponse) observe(ev any) {
	event, ok := ev.(*network.EventResponseReceived)
	if !ok || event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(event.Response.Status)
	d.url = event.Response.URL
	d.headers = httpHeaders(event.Response.Headers)
}

// result falls back to a 200 from the browser's final location when no
// document response was observed, e.g. for pages served from cache.
func (d *documentResponse) result(requestURL, location string) watcher.FetchResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp := watcher.FetchResponse{
		URL:        d.url,
		StatusCode: d.status,
		Headers:    d.headers.Clone(),
	}
	if resp.URL == "" {
		resp.URL = location
	}
	if resp.URL == "" {
		resp.URL = requestURL
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	}
	return resp
}

func httpHeaders(src network.Headers) http.Header {
	out := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			out.Add(key, v)
		case []any:
			for _, entry := range v {
				out.Add(key, fmt.Sprint(entry))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func networkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
