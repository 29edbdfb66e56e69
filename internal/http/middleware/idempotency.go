// This file implements idempotency support for the assistant send endpoint.
//
// Clients send a stable Idempotency-Key header when posting a chat message;
// the middleware validates the header, stashes the normalized key, and
// optionally consults a lookup to detect a previously completed send. When a
// replay is detected, the request is flagged so the handler can return the
// stored assistant reply without charging quota or calling the provider, and
// the rate limiter skips counting the request.
//
// Persistence stays out of this file: the lookup is a narrow function type so
// the middleware never imports the repository layer.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sessantasette/hub-backend/internal/domain"
)

// HeaderIdempotencyKey is the request header carrying the retry key for
// unsafe operations. Its value must be stable across retries of the same
// semantic send.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: true when a stored replay exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated key stored by IdempotencyValidator.
// The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether this request would replay a previously completed
// send for the same (user, artist, key) tuple.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation. TTL enforcement belongs in
// the lookup, not here.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative
	// RFC7230-like token pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether a still-valid stored result exists for
// (userID, artistID, key) at the given time. Lookup failures must not block
// normal processing; return an error only for diagnostics.
type IdempotencyLookup func(ctx context.Context, userID, artistID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header when present,
// stashes it for the handler, and marks replays detected via the lookup.
//
// Behavior:
//   - Header absent: no-op.
//   - Header fails validation: 400 with a compact error body.
//   - Lookup reports a prior result: replay + rate-bypass flags are set.
//
// The middleware never serves the cached payload itself; the chat handler
// fetches the stored assistant message when IsReplay reports true.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			id, _ := IdentityFrom(c)
			now := time.Now().UTC()
			if exists, _ := lookup(c.Request.Context(), id.UserID, resolveArtistID(c, id), key, now); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// resolveArtistID mirrors how the send handler scopes its stored records:
// artists are pinned to their own roster entry, staff name the target
// explicitly in the query or the JSON body. The lookup must use the same
// scope or staff retries would never match.
func resolveArtistID(c *gin.Context, id Identity) string {
	if !domain.Role(id.Role).IsStaff() {
		return id.ArtistID
	}
	if v := c.Query("artist_id"); v != "" {
		return v
	}
	return peekBodyArtistID(c)
}

// peekBodyArtistID reads artist_id out of the JSON body without consuming
// it: the body is restored so the handler can still bind the request.
func peekBodyArtistID(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	var body struct {
		ArtistID string `json:"artist_id"`
	}
	_ = json.Unmarshal(raw, &body)
	return body.ArtistID
}
