package storage

import (
	"net/url"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// MediaDomain returns the registrable domain hosting a media URL.
// e.g., "https://images-assets.nasa.gov/image/x.jpg" -> "nasa.gov", true
func MediaDomain(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	// Without a scheme url.Parse puts the host in the path.
	if !strings.Contains(raw, "://") && strings.Contains(raw, ".") {
		raw = "http://" + raw
	}

	host := ""
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	if !strings.Contains(host, ".") {
		return "", false
	}

	domain, err := publicsuffix.Domain(strings.ToLower(host))
	if err != nil {
		return "", false
	}
	return domain, true
}
