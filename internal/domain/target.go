package domain

import (
	"net/url"
	"strings"
)

const wwwPrefix = "www."

// executableSuffixes are stripped from process and file names so that a
// configured path and a running process resolve to the same name.
var executableSuffixes = []string{".exe", ".app"}

// NormalizeDomain derives the domain of a URL: host, lower-cased, leading
// "www." stripped. Input without a host falls back to the lower-cased raw
// string. The result is stable under repeated normalization.
func NormalizeDomain(urlOrDomain string) string {
	raw := strings.TrimSpace(urlOrDomain)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, wwwPrefix)
}

// IsAbsoluteURL reports whether s parses as an absolute URL with a host.
func IsAbsoluteURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

// WebsiteKey turns user input ("YouTube.com", "https://www.youtube.com/x")
// into the target key of a website limit.
func WebsiteKey(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	return NormalizeDomain(s)
}

// AppKey is the target key of an application limit: the lower-cased path.
func AppKey(path string) string {
	return strings.ToLower(strings.TrimSpace(path))
}

// ProcessNameFromPath resolves the process name a configured executable path
// runs under. Both '/' and '\' separators are honored so Windows paths stored
// by other tools resolve on any host.
func ProcessNameFromPath(path string) string {
	p := strings.TrimSpace(path)
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	return NormalizeProcessName(p)
}

// NormalizeProcessName lower-cases a process name and drops executable suffixes.
func NormalizeProcessName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, suffix := range executableSuffixes {
		if strings.HasSuffix(n, suffix) && len(n) > len(suffix) {
			return strings.TrimSuffix(n, suffix)
		}
	}
	return n
}

// IsWebsiteLimit reports whether a limit targets a website: flagged
// explicitly, or keyed by an absolute URL.
func IsWebsiteLimit(l Limit) bool {
	return l.IsWebsite || IsAbsoluteURL(l.Key)
}
