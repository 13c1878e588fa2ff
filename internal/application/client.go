package application

import (
	"strings"

	"github.com/mssola/useragent"
)

// describeClient summarizes a User-Agent for the submission audit row.
func describeClient(ua string) map[string]any {
	if ua == "" {
		return map[string]any{"browser": "unknown", "os": "unknown", "platform": "unknown"}
	}
	parsed := useragent.New(ua)
	browser, version := parsed.Browser()

	platform := "desktop"
	switch {
	case parsed.Bot():
		platform = "bot"
	case parsed.Mobile():
		platform = "mobile"
	}

	major, _, _ := strings.Cut(version, ".")
	return map[string]any{
		"browser":         orUnknown(browser),
		"browser_version": orUnknown(major),
		"os":              orUnknown(parsed.OS()),
		"platform":        platform,
	}
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return s
}
