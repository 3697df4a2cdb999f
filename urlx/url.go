// Package urlx implements canonicalization, validation, joining, and
// path-pattern matching for URLs, ported from the reference
// implementation's url utilities.
package urlx

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Info is a canonicalized URL's derived identity.
type Info struct {
	Scheme         string
	Host           string
	Subdomain      string
	Domain         string // registrable domain, e.g. "example.com"
	Suffix         string // public suffix, e.g. "com"
	FullDomain     string // subdomain.domain, or domain if no subdomain
	Path           string
	PathSegments   []string
	Query          url.Values
	Extension      string
	UniquePageName string
}

// multiPartSuffixes covers the common second-level public suffixes
// the pack's examples never needed a full PSL for; anything not
// listed falls back to "last label is the suffix, second-to-last is
// the domain label". This module carries no third-party public-suffix
// library (none appears anywhere in the retrieved pack), so the
// table-plus-heuristic approach is a deliberate, justified stdlib
// fallback — see DESIGN.md.
var multiPartSuffixes = map[string]bool{
	"co.uk": true, "org.uk": true, "ac.uk": true, "gov.uk": true,
	"com.au": true, "net.au": true, "org.au": true,
	"co.jp": true, "co.nz": true, "co.in": true, "co.za": true,
	"com.br": true, "com.mx": true, "com.cn": true,
}

var nonAlphaNum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// splitHost derives subdomain/domain/suffix from a hostname.
func splitHost(host string) (subdomain, domain, suffix string) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return "", host, ""
	}

	lastTwo := strings.Join(labels[len(labels)-2:], ".")
	sufLabels := 1
	if multiPartSuffixes[lastTwo] {
		sufLabels = 2
	}

	domainStart := len(labels) - sufLabels - 1
	if domainStart < 0 {
		domainStart = 0
	}
	suffix = strings.Join(labels[len(labels)-sufLabels:], ".")
	domain = strings.Join(labels[domainStart:len(labels)-sufLabels], ".")
	if domain != "" {
		domain = domain + "." + suffix
	} else {
		domain = suffix
	}
	if domainStart > 0 {
		subdomain = strings.Join(labels[:domainStart], ".")
	}
	return subdomain, domain, suffix
}

// internalSuffixes are hostname suffixes treated as internal/loopback
// networks even when they don't parse as an IP literal.
var internalSuffixes = []string{".local", ".internal", ".intranet", ".corp"}

func isInternalHost(host string) bool {
	h := strings.ToLower(host)
	if h == "localhost" {
		return true
	}
	if strings.HasPrefix(h, "127.") {
		return true
	}
	if h == "::1" || h == "[::1]" {
		return true
	}
	for _, suf := range internalSuffixes {
		if strings.HasSuffix(h, suf) {
			return true
		}
	}
	return false
}

func isPrivateOrReservedIP(host string) bool {
	h := strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	return false
}

// ErrInvalidURL is returned (wrapped) for any URL that fails validation.
type ErrInvalidURL struct {
	Reason string
}

func (e *ErrInvalidURL) Error() string { return fmt.Sprintf("invalid url: %s", e.Reason) }

var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// ValidateAndCorrect infers a missing https:// scheme, then rejects
// non-http(s) schemes, missing hosts, and internal/private/reserved
// hosts. It never panics on malformed input.
func ValidateAndCorrect(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &ErrInvalidURL{Reason: "empty url"}
	}
	if !schemeRe.MatchString(s) {
		if strings.HasPrefix(s, "www.") || looksLikeDomain(s) {
			s = "https://" + s
		} else {
			return "", &ErrInvalidURL{Reason: "missing scheme"}
		}
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", &ErrInvalidURL{Reason: "unparseable: " + err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ErrInvalidURL{Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return "", &ErrInvalidURL{Reason: "missing host"}
	}

	host := u.Hostname()
	if isInternalHost(host) || isPrivateOrReservedIP(host) {
		return "", &ErrInvalidURL{Reason: "internal/private host rejected: " + host}
	}

	return applySiteRewrite(u), nil
}

var domainLikeRe = regexp.MustCompile(`^[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}(/.*)?$`)

func looksLikeDomain(s string) bool {
	return domainLikeRe.MatchString(s)
}

var googleDocRe = regexp.MustCompile(`^/document/d/([^/]+)`)
var googleSheetRe = regexp.MustCompile(`^/spreadsheets/d/([^/]+)`)

// applySiteRewrite applies the site-specific rewrite rules table
// (currently only docs.google.com), dropping query/fragment.
func applySiteRewrite(u *url.URL) string {
	if strings.EqualFold(u.Hostname(), "docs.google.com") {
		if m := googleDocRe.FindStringSubmatch(u.Path); m != nil {
			return fmt.Sprintf("https://docs.google.com/document/d/%s/mobilebasic", m[1])
		}
		if m := googleSheetRe.FindStringSubmatch(u.Path); m != nil {
			return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/htmlview", m[1])
		}
	}
	u.Fragment = ""
	return u.String()
}

// Canonicalize validates, corrects, and derives the full Info for a
// URL: trims whitespace, adds https:// when the scheme is missing
// (an explicit http:// is kept), strips fragment, drops
// empty-valued query params, normalizes the path, rejects
// internal/private hosts, and builds UniquePageName.
func Canonicalize(raw string) (Info, error) {
	corrected, err := ValidateAndCorrect(raw)
	if err != nil {
		return Info{}, err
	}
	u, err := url.Parse(corrected)
	if err != nil {
		return Info{}, &ErrInvalidURL{Reason: err.Error()}
	}

	q := u.Query()
	for k, vals := range q {
		kept := vals[:0]
		for _, v := range vals {
			if v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			q.Del(k)
		} else {
			q[k] = kept
		}
	}

	path := constructPath(u.Path, q)

	host := u.Hostname()
	subdomain, domain, suffix := splitHost(host)
	fullDomain := domain
	if subdomain != "" {
		fullDomain = subdomain + "." + domain
	}

	var segments []string
	for _, seg := range strings.Split(strings.Trim(strings.SplitN(path, "?", 2)[0], "/"), "/") {
		if seg != "" && !strings.Contains(seg, "?") {
			segments = append(segments, seg)
		}
	}

	ext := ""
	rawPath := strings.SplitN(path, "?", 2)[0]
	if idx := strings.LastIndex(rawPath, "."); idx >= 0 {
		ext = rawPath[idx+1:]
	}

	info := Info{
		Scheme:       u.Scheme,
		Host:         host,
		Subdomain:    subdomain,
		Domain:       domain,
		Suffix:       suffix,
		FullDomain:   fullDomain,
		Path:         path,
		PathSegments: segments,
		Query:        q,
		Extension:    ext,
	}
	info.UniquePageName = nonAlphaNum.ReplaceAllString(fullDomain+path, "_")
	return info, nil
}

// constructPath normalizes a URL path: bare "/" becomes "", trailing
// "/" stripped otherwise, then appends "?query" if any params remain.
func constructPath(path string, q url.Values) string {
	if path == "/" {
		path = ""
	} else {
		path = strings.TrimSuffix(path, "/")
	}
	if qs := q.Encode(); qs != "" {
		path = path + "?" + qs
	}
	return path
}

// ExtractDomain returns the registrable domain of a URL, falling back
// to a bare url.Parse host split on any internal error.
func ExtractDomain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		// best-effort: treat the whole string as a bare host.
		_, domain, _ := splitHost(raw)
		return domain
	}
	_, domain, _ := splitHost(u.Hostname())
	return domain
}

// IsDataURL reports whether s is a data: URL, and whether it is
// base64-encoded.
func IsDataURL(s string) (isData, isBase64 bool) {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	isData = strings.HasPrefix(lower, "data:")
	isBase64 = strings.Contains(lower, ";base64,")
	return isData, isBase64
}

var arbitrarySchemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

// Join resolves path against base, matching the reference
// implementation's special cases for protocol-relative URLs,
// arbitrary schemes, data: URLs, and collapsed leading slashes.
func Join(base, path string) string {
	if base == "" {
		return path
	}
	if path == "" {
		return base
	}
	lowerPath := strings.ToLower(path)
	if strings.HasPrefix(lowerPath, "http://") || strings.HasPrefix(lowerPath, "https://") ||
		strings.HasPrefix(lowerPath, "ftp://") || strings.HasPrefix(lowerPath, "file://") ||
		strings.HasPrefix(lowerPath, "data:") {
		return path
	}
	if arbitrarySchemeRe.MatchString(path) {
		return path
	}
	if strings.HasPrefix(path, "//") && !strings.HasPrefix(path, "///") {
		bu, err := url.Parse(base)
		if err == nil && bu.Scheme != "" {
			return bu.Scheme + ":" + path
		}
		return "https:" + path
	}
	if strings.HasPrefix(path, "///") {
		path = "/" + strings.TrimLeft(path, "/")
	}
	if strings.HasSuffix(base, "//") && !strings.HasPrefix(path, "/") {
		return strings.TrimRight(base, "/") + "/" + path
	}

	bu, err := url.Parse(base)
	if err != nil {
		return path
	}
	pu, err := url.Parse(path)
	if err != nil {
		return path
	}
	return bu.ResolveReference(pu).String()
}

// MatchPath ranks patterns against path: an exact match wins
// immediately; otherwise each candidate's specificity is the sum of
// 10 per literal segment and 1 per "*" segment, skipping patterns
// with more literal segments than the path has segments, and
// requiring any pattern segments beyond the path's length to all be
// "*". Ties are broken by first occurrence in patterns. "/" matches
// only a literal "/" pattern.
func MatchPath(path string, patterns []string) (string, bool) {
	normalized := path
	if normalized != "/" {
		normalized = strings.TrimSuffix(normalized, "/")
	}

	for _, p := range patterns {
		if p == path || p == normalized {
			return p, true
		}
	}

	if path == "/" {
		for _, p := range patterns {
			if p == "/" {
				return p, true
			}
		}
		return "", false
	}

	pathParts := splitSegments(normalized)
	best := ""
	bestScore := -1

	for _, pattern := range patterns {
		if !strings.Contains(pattern, "*") {
			continue
		}
		patternParts := splitSegments(pattern)

		litCount := 0
		for _, pp := range patternParts {
			if pp != "*" {
				litCount++
			}
		}
		if litCount > len(pathParts) {
			continue
		}

		score := 0
		ok := true
		i := 0
		for ; i < len(pathParts) && i < len(patternParts); i++ {
			if patternParts[i] == "*" {
				score += 1
			} else if patternParts[i] == pathParts[i] {
				score += 10
			} else {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		for ; i < len(patternParts); i++ {
			if patternParts[i] != "*" {
				ok = false
				break
			}
			score += 1
		}
		if !ok {
			continue
		}
		if pattern == "/*" {
			score = 1
		}
		if score > bestScore {
			bestScore = score
			best = pattern
		}
	}

	if bestScore < 0 {
		return "", false
	}
	return best, true
}

func splitSegments(s string) []string {
	var out []string
	for _, seg := range strings.Split(s, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
