// Access logging with PII scrubbing.
//
// Collaboration traffic carries user identifiers in headers and query
// strings (demo-auth headers, WebSocket identity params), so the access log
// scrubs rather than trusts: bodies are never logged, recognizable
// identifiers in queries and headers are replaced with typed placeholders,
// and sensitive headers are masked outright.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Scrub patterns, compiled once. UUIDs must run before the phone pattern:
// the loose digit matcher would otherwise eat hyphenated UUID segments.
var (
	redactUUID  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	redactEmail = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	redactPhone = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// scrub replaces identifier-shaped substrings with typed placeholders.
func scrub(s string) string {
	if s == "" {
		return s
	}
	s = redactUUID.ReplaceAllString(s, "[REDACTED:id]")
	s = redactEmail.ReplaceAllString(s, "[REDACTED:email]")
	s = redactPhone.ReplaceAllString(s, "[REDACTED:phone]")
	return s
}

// RedactOptions extends the built-in header mask set (Authorization, Cookie,
// Set-Cookie) with deployment-specific headers. Matching is case-insensitive.
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger returns an access-log middleware that emits one structured
// record per request: method, route, scrubbed query, scrubbed headers,
// status, size, and latency. Level tracks the outcome: warn for 4xx, error
// for 5xx, info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, name := range opts.MaskHeaders {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			masked[name] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := scrub(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for name, vals := range c.Request.Header {
			if _, ok := masked[strings.ToLower(name)]; ok {
				safeHeaders[name] = "[REDACTED]"
				continue
			}
			safeHeaders[name] = scrub(strings.Join(vals, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		reqID := c.Writer.Header().Get("X-Request-ID")
		if reqID == "" {
			reqID = c.GetHeader("X-Request-ID")
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
