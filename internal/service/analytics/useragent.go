package analytics

import (
	"regexp"
	"strings"
)

var (
	tabletUA = regexp.MustCompile(`(?i)tablet|ipad|playbook|silk`)
	mobileUA = regexp.MustCompile(`(?i)mobile|iphone|ipod|android.*mobile|blackberry|opera mini|iemobile`)
)

// Device is a best-effort classification of a user agent.
type Device struct {
	Type    string `json:"deviceType"`
	Browser string `json:"browser"`
	OS      string `json:"os"`
}

// ClassifyUserAgent buckets ua into desktop/tablet/mobile and a named browser
// and OS family. First match wins, so the more specific token is checked
// first: Edge and Opera also mention Chrome, Chrome mentions Safari, Android
// mentions Linux and iOS devices mention Mac OS.
func ClassifyUserAgent(ua string) Device {
	d := Device{Type: "desktop", Browser: "Other", OS: "Other"}
	switch {
	case tabletUA.MatchString(ua):
		d.Type = "tablet"
	case mobileUA.MatchString(ua):
		d.Type = "mobile"
	}

	switch {
	case strings.Contains(ua, "Firefox"):
		d.Browser = "Firefox"
	case strings.Contains(ua, "Edg/"):
		d.Browser = "Edge"
	case strings.Contains(ua, "OPR/"), strings.Contains(ua, "Opera"):
		d.Browser = "Opera"
	case strings.Contains(ua, "Chrome"):
		d.Browser = "Chrome"
	case strings.Contains(ua, "Safari"):
		d.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "Windows"):
		d.OS = "Windows"
	case strings.Contains(ua, "Android"):
		d.OS = "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"), strings.Contains(ua, "iPod"):
		d.OS = "iOS"
	case strings.Contains(ua, "Mac OS"):
		d.OS = "macOS"
	case strings.Contains(ua, "Linux"):
		d.OS = "Linux"
	}
	return d
}
