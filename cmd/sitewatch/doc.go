// Package main hosts the sitewatch service entrypoint.
//
// Architecture overview:
//   - Watcher: internal/watcher.Watcher runs one cycle per call: fetch the configured page, fingerprint the body
//     (MD5 by default, SHA-256 optional), compare with the externally supplied LAST_HASH, and send a Telegram
//     message on first run or on change. Change events are optionally published to Pub/Sub.
//   - Fetch: the Colly-based fetcher performs a plain GET with a browser User-Agent and a 10s bound; the Chromedp
//     fetcher renders the page in headless Chrome when fetch.headless is enabled.
//   - HTTP API: internal/api.Server exposes /, /check, /health and /metrics. /check runs a cycle synchronously and
//     always answers 200.
//   - Configuration & plumbing: Viper populates config from env/files (PORT, TELEGRAM_TOKEN, CHAT_ID and LAST_HASH
//     keep their legacy names); zap provides structured logging; Prometheus metrics are exported on /metrics.
//
// Operational notes:
//   - Scheduling: one cycle runs at startup, before the listener opens. Further cycles come from an external caller
//     hitting /check (platform cron, uptime pinger). watch.interval_seconds > 0 enables an in-process ticker.
//   - Baseline: the program never persists the fingerprint it computed. After a change alert, copy the logged
//     new_last_hash into LAST_HASH; until then every cycle re-sends the alert.
//   - Concurrency: overlapping /check calls run independent cycles and may notify twice.
//
// Quick checklist:
//   - Configure env vars: TELEGRAM_TOKEN, CHAT_ID, optionally LAST_HASH and PORT (default 8000). Other keys use the
//     SITEWATCH_ prefix, e.g. SITEWATCH_SITE_URL, SITEWATCH_FINGERPRINT_ALGORITHM, SITEWATCH_PUBSUB_TOPIC_NAME.
//   - Run locally: go run ./cmd/sitewatch -config config.yaml (or rely solely on env overrides).
package main
