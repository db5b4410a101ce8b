// Package urls provides utility functions for working with URLs.
package urls

import (
	"net/url"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// IsURLValid checks if the given URL is valid.
func IsURLValid(raw string) bool {
	u, err := url.Parse(raw)

	return err == nil && u.Scheme != "" && u.Host != "" && (u.Scheme == schemeHTTP || u.Scheme == schemeHTTPS)
}

// Prefix returns raw up to and including its last slash.
// Example: https://host/a/b/index.m3u8 => https://host/a/b/
func Prefix(raw string) string {
	i := strings.LastIndex(raw, "/")
	if i < 0 {
		return ""
	}

	return raw[:i+1]
}

// Resolve returns ref unchanged when it is absolute, otherwise ref resolved against prefix.
func Resolve(prefix, ref string) string {
	ref = strings.TrimSpace(ref)
	if IsURLValid(ref) {
		return ref
	}

	base, err := url.Parse(prefix)
	if err != nil {
		return prefix + ref
	}

	rel, err := url.Parse(ref)
	if err != nil {
		return prefix + ref
	}

	return base.ResolveReference(rel).String()
}
