package storage

import (
	"net/url"
	"strings"
)

// NormalizeMediaURL canonicalizes a media URL: lower-case host, default
// ports dropped, https when no scheme is given.
func NormalizeMediaURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if !strings.Contains(s, "://") && strings.Contains(s, ".") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return s
	}
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && u.Port() == "80" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && u.Port() == "443" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	return u.String()
}

// NormalizeCategory folds category spelling variants ("Image", " image ").
func NormalizeCategory(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
