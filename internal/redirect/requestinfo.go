package redirect

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RequestInfo is the parsed context of one incoming redirect request.
type RequestInfo struct {
	IP         string
	UserAgent  string
	Referrer   string
	SessionID  string
	NewSession bool
	Device     string
	Browser    string
	OS         string
}

// ParseRequest extracts client context from an HTTP request. The session
// id comes from the named cookie when present; otherwise a fresh one is
// generated and NewSession is set so the handler can write the cookie.
func ParseRequest(r *http.Request, sessionCookie string) RequestInfo {
	info := RequestInfo{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	}

	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		info.SessionID = c.Value
	} else {
		info.SessionID = uuid.New().String()
		info.NewSession = true
	}

	info.Device, info.Browser, info.OS = parseUserAgent(info.UserAgent)
	return info
}

// clientIP resolves the client address, preferring forwarded headers set
// by the edge proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First hop is the original client.
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseUserAgent classifies device, browser and OS from the user agent
// string. Substring matching is deliberately coarse; the segments the
// analytics layer builds only need mobile/tablet/desktop and the major
// browser families.
func parseUserAgent(ua string) (device, browser, os string) {
	l := strings.ToLower(ua)

	switch {
	case strings.Contains(l, "ipad") || strings.Contains(l, "tablet"):
		device = "tablet"
	case strings.Contains(l, "mobi") || strings.Contains(l, "iphone") || strings.Contains(l, "android"):
		device = "mobile"
	case ua == "":
		device = "unknown"
	default:
		device = "desktop"
	}

	switch {
	case strings.Contains(l, "edg/") || strings.Contains(l, "edge"):
		browser = "edge"
	case strings.Contains(l, "opr/") || strings.Contains(l, "opera"):
		browser = "opera"
	case strings.Contains(l, "chrome"):
		browser = "chrome"
	case strings.Contains(l, "safari"):
		browser = "safari"
	case strings.Contains(l, "firefox"):
		browser = "firefox"
	default:
		browser = "other"
	}

	switch {
	case strings.Contains(l, "android"):
		os = "android"
	case strings.Contains(l, "iphone") || strings.Contains(l, "ipad") || strings.Contains(l, "ios"):
		os = "ios"
	case strings.Contains(l, "windows"):
		os = "windows"
	case strings.Contains(l, "mac os") || strings.Contains(l, "macintosh"):
		os = "macos"
	case strings.Contains(l, "linux"):
		os = "linux"
	default:
		os = "other"
	}
	return device, browser, os
}
