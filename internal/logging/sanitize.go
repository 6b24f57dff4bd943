package logging

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// scrubRule rewrites one secret shape. Exactly one of repl and fn is set.
type scrubRule struct {
	re   *regexp.Regexp
	repl string
	fn   func(match string) string
}

var (
	tokenishRe = regexp.MustCompile(`(?i)(key|token|secret|salt)\s*[:=]\s*([A-Za-z0-9._\-+/=]{6,})`)
	repeatsRe  = regexp.MustCompile(`(?:\[REDACTED\]){2,}`)
)

// Order matters: header forms run before the generic key=value rule, and
// URLs are shortened last.
var scrubRules = []scrubRule{
	{re: regexp.MustCompile(`(?i)(authorization\s*[:=]\s*bearer\s+)([A-Za-z0-9._\-+/=]+)`), repl: "${1}" + redacted},
	{re: regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-+/=]+)`), repl: "${1}" + redacted},
	{re: regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*\[)([^\]]+)(\])`), repl: "${1}REDACTED${3}"},
	{re: regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*)([A-Za-z0-9._\-+/=]+)`), repl: "${1}" + redacted},
	{re: regexp.MustCompile(`([a-z][a-z0-9+.\-]*://)[^\s:@/]+:[^\s@/]+@`), repl: "${1}" + redacted + "@"},
	{re: regexp.MustCompile(`(?i)(x-api-key|x-straja-key)\s*[:=]\s*([A-Za-z0-9._\-+/=]+)`), repl: "${1}" + redacted},
	{re: tokenishRe, fn: scrubTokenish},
	{re: regexp.MustCompile(`https?://[^\s"'<>]+`), fn: shortenURL},
}

// Sanitize redacts known secret shapes from free-form strings before they
// reach a log line.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	for _, r := range scrubRules {
		if r.fn != nil {
			s = r.re.ReplaceAllStringFunc(s, r.fn)
		} else {
			s = r.re.ReplaceAllString(s, r.repl)
		}
	}
	return repeatsRe.ReplaceAllString(s, redacted)
}

// Sprintf formats like fmt.Sprintf and sanitizes the result.
func Sprintf(format string, args ...any) string {
	return Sanitize(fmt.Sprintf(format, args...))
}

func scrubTokenish(match string) string {
	if strings.Contains(match, redacted) {
		return match
	}
	m := tokenishRe.FindStringSubmatch(match)
	if m == nil {
		return match
	}
	return m[1] + "=" + redacted
}

// shortenURL keeps scheme, host and the last path element.
func shortenURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[REDACTED_URL]"
	}
	last := ""
	if !strings.HasSuffix(u.Path, "/") {
		last = path.Base(u.Path)
	}
	switch last {
	case "", ".", "/":
		last = "[REDACTED_PATH]"
	}
	return u.Scheme + "://" + u.Host + "/" + last
}
