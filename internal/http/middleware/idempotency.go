// Idempotency-Key support for unsafe methods.
//
// The middleware validates the header, stashes the key in the context, and
// asks a pluggable lookup whether this (user, file, key) triple already
// completed. A detected replay is only flagged here; the handler decides how
// to serve it, typically by returning the originally persisted message.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header clients send to deduplicate
// retried sends. The value must be stable across retries of one operation.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys for idempotency state, read through the accessors below.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// keyPattern is an RFC 7230-ish token: letters, digits, and a few safe
// punctuation characters.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key stashed by the validator.
// Handlers read this instead of the raw header.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the lookup recognized this request as a retry of
// an already-completed operation.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions tunes header validation. TTL enforcement belongs to the
// lookup, which owns the stored records.
type IdempotencyOptions struct {
	// MaxLen caps accepted key length; values <= 0 default to 200.
	MaxLen int
	// Pattern overrides the default token pattern when non-nil.
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether a still-valid completed record exists
// for (userID, fileID, key) at now. Lookup errors must not block the
// request; callers treat them as "no record".
type IdempotencyLookup func(ctx context.Context, userID, fileID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator returns the validating middleware. Requests without
// the header pass through untouched; malformed keys get a 400; recognized
// replays are flagged for the handler and excused from rate limiting.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = keyPattern
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
			// The message route carries the file id as :id.
			fileID := c.Param("id")
			if exists, _ := lookup(c.Request.Context(), userIDFromCtx(c), fileID, key, time.Now().UTC()); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// userIDFromCtx resolves the participant identity the same way the handlers
// do: upstream auth first, then the X-User-ID header, then the demo identity.
// The replay lookup must see the same identity the handler will persist
// under, or header-identified retries would never match their records.
func userIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}
