package watcher

import (
	"fmt"
	"html"
	"time"
)

const (
	previewLength   = 10
	timestampLayout = "2006-01-02 15:04:05"
)

func initMessage(url, fingerprint string, interval time.Duration) string {
	return fmt.Sprintf(`🔍 <b>Monitoring started!</b>

📄 Site: %s
⏰ %s
✅ Bot is running

Current fingerprint: %s...`,
		html.EscapeString(url),
		scheduleLine(interval),
		fingerprintPreview(fingerprint),
	)
}

func changeMessage(url string, at time.Time) string {
	escaped := html.EscapeString(url)
	return fmt.Sprintf(`🚨 <b>ALERT! The site has changed!</b>

📄 Page: %s
⏰ Time: %s

🔗 <a href="%s">Open the site</a>`,
		escaped,
		at.Format(timestampLayout),
		escaped,
	)
}

func fingerprintPreview(fingerprint string) string {
	if len(fingerprint) <= previewLength {
		return fingerprint
	}
	return fingerprint[:previewLength]
}

func scheduleLine(interval time.Duration) string {
	switch {
	case interval <= 0:
		return "Checks run on demand via /check"
	case interval%time.Minute == 0:
		minutes := int(interval / time.Minute)
		if minutes == 1 {
			return "Checking every minute"
		}
		return fmt.Sprintf("Checking every %d minutes", minutes)
	default:
		return fmt.Sprintf("Checking every %s", interval)
	}
}
