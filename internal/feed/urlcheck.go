package feed

import "net/url"

// isAbsoluteHTTPURL reports whether s parses as an absolute http(s) URL.
func isAbsoluteHTTPURL(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.IsAbs() && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
