package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/collabpad/collab-backend/internal/domain"
	"github.com/collabpad/collab-backend/internal/http/middleware"
	"github.com/collabpad/collab-backend/internal/reskey"
)

func chatRouter(env *testEnv) *gin.Engine {
	r := gin.New()
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	r.GET("/files/:id/messages", env.h.ListMessages)
	r.POST("/files/:id/messages", env.h.SendMessage)
	r.POST("/files/:id/read", env.h.MarkRead)
	r.GET("/unread", env.h.Unread)
	return r
}

func seedFile(t *testing.T, env *testEnv, owner string) *domain.Resource {
	t.Helper()
	f, err := env.docs.CreateFile(context.Background(), owner, "", "main.py", "python", true)
	if err != nil {
		t.Fatalf("seed file: %v", err)
	}
	return f
}

func TestSendMessage_Blank_Success(t *testing.T) {
	env := newTestEnv(t)
	f := seedFile(t, env, "u1")
	r := chatRouter(env)

	if w := do(r, http.MethodPost, "/files/"+f.ID+"/messages", `{"text":"   "}`, "u1"); w.Code != http.StatusBadRequest {
		t.Fatalf("blank -> %d", w.Code)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/files/"+f.ID+"/messages", jsonBody(`{"text":"  hello  "}`))
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Name", "Ada")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("send -> %d body=%s", w.Code, w.Body.String())
	}
	var m domain.ChatMessage
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("json: %v", err)
	}
	if m.Text != "hello" || m.DisplayName != "Ada" || m.ID == "" || m.CreatedAt.IsZero() {
		t.Fatalf("unexpected message: %#v", m)
	}
	if m.ResourceKey != reskey.ForResource(f).String() {
		t.Fatalf("resource key = %q", m.ResourceKey)
	}
}

func TestSendMessage_IdempotentRetry(t *testing.T) {
	env := newTestEnv(t)
	f := seedFile(t, env, "u1")
	r := chatRouter(env)

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/files/"+f.ID+"/messages", jsonBody(`{"text":"once"}`))
		req.Header.Set("X-User-ID", "u1")
		req.Header.Set(middleware.HeaderIdempotencyKey, "send-42")
		r.ServeHTTP(w, req)
		return w
	}

	first := send()
	if first.Code != http.StatusCreated {
		t.Fatalf("first send -> %d body=%s", first.Code, first.Body.String())
	}
	var orig domain.ChatMessage
	if err := json.Unmarshal(first.Body.Bytes(), &orig); err != nil {
		t.Fatalf("json: %v", err)
	}

	retry := send()
	if retry.Code != http.StatusOK {
		t.Fatalf("retry -> %d body=%s", retry.Code, retry.Body.String())
	}
	if retry.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatal("retry must be flagged as a replay")
	}
	var replayed domain.ChatMessage
	if err := json.Unmarshal(retry.Body.Bytes(), &replayed); err != nil {
		t.Fatalf("json: %v", err)
	}
	if replayed.ID != orig.ID {
		t.Fatalf("replay returned a different message: %s vs %s", replayed.ID, orig.ID)
	}

	msgs, err := env.docs.ChatSnapshot(context.Background(), orig.ResourceKey, 10)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 stored message, got %d", len(msgs))
	}
}

func TestListMessages_Order_Limit_ETag(t *testing.T) {
	env := newTestEnv(t)
	f := seedFile(t, env, "u1")
	key := reskey.ForResource(f).String()
	ctx := context.Background()

	for _, txt := range []string{"a", "b", "c"} {
		if _, err := env.docs.AppendMessage(ctx, key, "u2", "Bob", txt); err != nil {
			t.Fatalf("seed message: %v", err)
		}
		time.Sleep(2 * time.Millisecond) // distinct created_at
	}

	r := chatRouter(env)
	w := do(r, http.MethodGet, "/files/"+f.ID+"/messages?limit=2", "", "u1")
	if w.Code != http.StatusOK {
		t.Fatalf("list -> %d", w.Code)
	}
	var out MessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(out.Messages) != 2 || out.Messages[0].Text != "b" || out.Messages[1].Text != "c" {
		t.Fatalf("expected newest tail [b c], got %#v", out.Messages)
	}

	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}
	w2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/files/"+f.ID+"/messages?limit=2", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("If-None-Match", etag)
	r.ServeHTTP(w2, req)
	if w2.Code != http.StatusNotModified {
		t.Fatalf("etag 304 -> %d", w2.Code)
	}
}

func TestUnread_And_MarkRead(t *testing.T) {
	env := newTestEnv(t)
	f := seedFile(t, env, "u1")
	key := reskey.ForResource(f).String()
	ctx := context.Background()

	if _, err := env.docs.AppendMessage(ctx, key, "u2", "Bob", "hi"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := env.docs.AppendMessage(ctx, key, "u1", "Ada", "own message"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := chatRouter(env)

	w := do(r, http.MethodGet, "/unread", "", "u1")
	if w.Code != http.StatusOK {
		t.Fatalf("unread -> %d", w.Code)
	}
	var out UnreadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	// Only u2's message counts; the viewer's own never does.
	if out.Total != 1 || out.PerKey[key] != 1 {
		t.Fatalf("unread = %#v", out)
	}

	if w := do(r, http.MethodPost, "/files/"+f.ID+"/read", "", "u1"); w.Code != http.StatusNoContent {
		t.Fatalf("mark read -> %d body=%s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/unread", "", "u1")
	if w.Code != http.StatusOK {
		t.Fatalf("unread -> %d", w.Code)
	}
	out = UnreadResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.Total != 0 {
		t.Fatalf("after mark read total = %d; want 0", out.Total)
	}
}

func TestListMessages_FileGone(t *testing.T) {
	env := newTestEnv(t)
	f := seedFile(t, env, "u1")
	if err := env.docs.DeleteFile(context.Background(), f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	r := chatRouter(env)
	if w := do(r, http.MethodGet, "/files/"+f.ID+"/messages", "", "u1"); w.Code != http.StatusNotFound {
		t.Fatalf("deleted file -> %d", w.Code)
	}
}
