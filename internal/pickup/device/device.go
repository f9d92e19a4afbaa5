// Package device summarises the staff device that recorded a pickup.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

const (
	unknownDevice = "Unknown Device"
	maxSummaryLen = 120
)

// ParseUserAgent returns a short "Browser on Platform" label for the log entry.
// The raw header is never stored.
func ParseUserAgent(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return unknownDevice
	}

	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}

	platform := ua.OS()
	if platform == "" {
		platform = ua.Platform()
	}
	if platform == "" {
		platform = "Unknown OS"
	}

	summary := browser + " on " + platform
	if ua.Mobile() {
		summary += " (mobile)"
	}
	if ua.Bot() {
		summary += " (bot)"
	}
	if len(summary) > maxSummaryLen {
		summary = summary[:maxSummaryLen]
	}
	return strings.Join(strings.Fields(summary), " ")
}
