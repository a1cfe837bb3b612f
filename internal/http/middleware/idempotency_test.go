package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIdempotencyAccessors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatal("expected no key before the validator runs")
	}
	if IsReplay(c) {
		t.Fatal("expected no replay flag by default")
	}

	// Wrong-typed context values read as absent, never panic.
	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatal("expected non-string key value to read as absent")
	}
	c.Set(ctxKeyIdemReplay, true)
	if !IsReplay(c) {
		t.Fatal("expected replay flag to read back")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatal("expected non-bool replay value to read as false")
	}

	if got := userIDFromCtx(c); got != "demo-user" {
		t.Fatalf("expected demo-user fallback, got %q", got)
	}
	c.Request.Header.Set("X-User-ID", " header-user ")
	if got := userIDFromCtx(c); got != "header-user" {
		t.Fatalf("expected trimmed header identity, got %q", got)
	}
	c.Set("userID", "u1")
	if got := userIDFromCtx(c); got != "u1" {
		t.Fatalf("expected context identity to win over the header, got %q", got)
	}
	c.Set("userID", 42)
	if got := userIDFromCtx(c); got != "header-user" {
		t.Fatalf("expected header fallback for wrong-typed identity, got %q", got)
	}
	c.Request.Header.Del("X-User-ID")
	if got := userIDFromCtx(c); got != "demo-user" {
		t.Fatalf("expected demo-user fallback, got %q", got)
	}
}

func TestIdempotencyValidator_NoHeaderSkipsLookup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	lookupCalled := false
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		lookupCalled = true
		return false, nil
	}))
	r.GET("/ping", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Error("expected no stashed key without the header")
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if lookupCalled {
		t.Fatal("expected the lookup to be skipped without the header")
	}
}

func TestIdempotencyValidator_RejectsBadKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := map[string]struct {
		opts IdempotencyOptions
		key  string
	}{
		"too long":      {IdempotencyOptions{MaxLen: 5}, "abcdef"},
		"bad character": {IdempotencyOptions{}, "no spaces allowed"},
		"custom pattern": {
			IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)},
			"abc123",
		},
	}
	for name, tc := range cases {
		r := gin.New()
		r.Use(IdempotencyValidator(tc.opts, nil))
		r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(HeaderIdempotencyKey, tc.key)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, w.Code)
			continue
		}
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: invalid json: %v", name, err)
		}
		if body["code"] != "bad_idempotency_key" {
			t.Errorf("%s: unexpected body: %v", name, body)
		}
	}
}

func TestIdempotencyValidator_ValidKeyWithoutLookup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, nil))
	r.POST("/z", func(c *gin.Context) {
		key, ok := GetIdempotencyKey(c)
		if !ok || key != "abc-123" {
			t.Errorf("expected stashed key abc-123, got %q ok=%v", key, ok)
		}
		if IsReplay(c) || IsRateBypass(c) {
			t.Error("expected no replay or bypass without a lookup")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/z", nil)
	req.Header.Set(HeaderIdempotencyKey, "abc-123")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestIdempotencyValidator_LookupMiss(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(_ context.Context, userID, fileID, key string, now time.Time) (bool, error) {
		// No identity upstream, so the fallback must flow into the lookup.
		if userID != "demo-user" {
			t.Errorf("expected demo-user fallback, got %q", userID)
		}
		if fileID != "f42" || key != "key-1" || now.IsZero() {
			t.Errorf("unexpected lookup args: file=%q key=%q now=%v", fileID, key, now)
		}
		return false, nil
	}))
	r.POST("/files/:id/messages", func(c *gin.Context) {
		if IsReplay(c) || IsRateBypass(c) {
			t.Error("expected no replay or bypass on a miss")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/files/f42/messages", nil)
	req.Header.Set(HeaderIdempotencyKey, "key-1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestIdempotencyValidator_LookupSeesHeaderIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(_ context.Context, userID, _, _ string, _ time.Time) (bool, error) {
		// The lookup must run under the same identity the handler persists
		// under, or header-identified retries never match their records.
		if userID != "u-header" {
			t.Errorf("expected header identity in lookup, got %q", userID)
		}
		return true, nil
	}))
	r.POST("/files/:id/messages", func(c *gin.Context) {
		if !IsReplay(c) || !IsRateBypass(c) {
			t.Error("expected replay and bypass flags for the header-identified user")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/files/f1/messages", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-h")
	req.Header.Set("X-User-ID", "u-header")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestIdempotencyValidator_LookupHitFlagsReplayAndBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", "u9"); c.Next() })
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(_ context.Context, userID, fileID, key string, _ time.Time) (bool, error) {
		if userID != "u9" || fileID != "abc" || key != "k-9" {
			t.Errorf("unexpected lookup args: user=%q file=%q key=%q", userID, fileID, key)
		}
		return true, nil
	}))
	r.POST("/files/:id/messages", func(c *gin.Context) {
		if !IsReplay(c) {
			t.Error("expected the replay flag on a hit")
		}
		if !IsRateBypass(c) {
			t.Error("expected the rate bypass flag on a hit")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/files/abc/messages", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-9")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
