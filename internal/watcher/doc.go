// Package watcher implements the fetch, fingerprint, compare and notify
// cycle for a single watched page.
//
// The last known fingerprint is supplied through Config and is never written
// back. After a change alert the operator has to copy the new fingerprint
// into the external configuration (LAST_HASH); until then every cycle keeps
// comparing against the stale value and re-sends the alert.
//
// There is no scheduler by default. Cycles run when Check is called, which
// happens once at process start and on every GET /check. Run adds an
// optional fixed-interval loop when an interval is configured.
package watcher
