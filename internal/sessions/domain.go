package sessions

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Session represents one login. At most one session per user is active at any
// time; the storage layer enforces this with a partial unique index and the
// service only ever creates sessions through a deactivate-then-insert
// transaction.
type Session struct {
	ID             string    `json:"id"`
	UserID         int64     `json:"user_id"`
	DeviceInfo     string    `json:"device_info"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	IsActive       bool      `json:"is_active"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the session lifetime has elapsed. Expiry is passive:
// the is_active flag stays set until validation or the sweep job flips it.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// DeviceContext carries client metadata captured at login.
type DeviceContext struct {
	IPAddress string
	UserAgent string
}

// DeviceContextFromRequest extracts the client IP and user agent. IP priority:
// X-Forwarded-For, then X-Real-IP, then the socket address.
func DeviceContextFromRequest(r *http.Request) DeviceContext {
	return DeviceContext{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// DeviceClass derives a coarse device class from the user-agent string.
func DeviceClass(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "Tablet"
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "android"):
		return "Mobile"
	default:
		return "Desktop"
	}
}

// ErrBadLifetime indicates an unparseable session lifetime string.
var ErrBadLifetime = errors.New("sessions: bad lifetime")

// ParseLifetime parses duration strings like "7d", "12h" or "30m": a numeric
// prefix plus a unit suffix. Unknown suffixes fall back to minutes.
func ParseLifetime(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrBadLifetime
	}
	digits := raw
	unit := ""
	if i := strings.IndexFunc(raw, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		digits, unit = raw[:i], raw[i:]
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrBadLifetime
	}
	switch unit {
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	default:
		return time.Duration(n) * time.Minute, nil
	}
}
