package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Scrub patterns for query strings and header values. Roster and chat
// traffic routinely carries artist emails and profile UUIDs in query
// strings, so the access log redacts rather than trusting callers.
// UUIDs are replaced before phone numbers: the loose phone pattern would
// otherwise match the digit/hyphen runs inside a UUID.
var (
	redactUUID  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	redactEmail = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	redactPhone = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

func scrub(s string) string {
	if s == "" {
		return s
	}
	s = redactUUID.ReplaceAllString(s, "[REDACTED:id]")
	s = redactEmail.ReplaceAllString(s, "[REDACTED:email]")
	s = redactPhone.ReplaceAllString(s, "[REDACTED:phone]")
	return s
}

// RedactOptions configures extra header masking for RedactingLogger.
// Names in MaskHeaders are matched case-insensitively and merged with the
// built-in set (Authorization, Cookie, Set-Cookie).
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger is the access logger: one structured line per request
// with method, route, scrubbed query and headers, status, latency, and the
// identity Auth resolved. Bodies are never logged; chat messages must not
// reach the logs. It also attaches the request-scoped logger that
// LoggerFrom hands to handlers.
//
// Severity follows the response: info, warn for 4xx, error for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := scrub(c.Request.URL.RawQuery)

		// Correlation id: context key when RequestID ran, else whatever
		// header the edge already stamped.
		ridVal, _ := c.Get(requestIDKey)
		rid := asString(ridVal)
		if rid == "" {
			rid = c.Writer.Header().Get(requestIDHeader)
		}
		if rid == "" {
			rid = c.GetHeader(requestIDHeader)
		}

		// Request-scoped logger for handlers. Identity fields are filled in
		// later by Auth, so only transport fields go here.
		l := log.With().
			Str("request_id", rid).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set("logger", &l)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, hide := masked[strings.ToLower(k)]; hide {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = scrub(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		uid, _ := c.Get(userIDKey)
		role, _ := c.Get(roleKey)

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		ev.
			Str("request_id", rid).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Str("user_id", asString(uid)).
			Str("role", asString(role)).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
