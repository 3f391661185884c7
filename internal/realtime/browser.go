package realtime

import "strings"

const (
	BrowserEdge    = "Edge"
	BrowserChrome  = "Chrome"
	BrowserFirefox = "Firefox"
	BrowserSafari  = "Safari"
	BrowserOpera   = "Opera"
	BrowserUnknown = "Unknown"
)

// ClassifyBrowser maps a user agent to a browser family. Edge is checked
// before Chrome because Edge user agents also carry "Chrome".
func ClassifyBrowser(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Edg"):
		return BrowserEdge
	case strings.Contains(userAgent, "Chrome"):
		return BrowserChrome
	case strings.Contains(userAgent, "Firefox"):
		return BrowserFirefox
	case strings.Contains(userAgent, "Safari"):
		return BrowserSafari
	case strings.Contains(userAgent, "Opera"), strings.Contains(userAgent, "OPR"):
		return BrowserOpera
	default:
		return BrowserUnknown
	}
}
