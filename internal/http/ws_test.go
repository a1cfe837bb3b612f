package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/collabpad/collab-backend/internal/bookmarks"
	"github.com/collabpad/collab-backend/internal/config"
	"github.com/collabpad/collab-backend/internal/domain"
	"github.com/collabpad/collab-backend/internal/repo"
	"github.com/collabpad/collab-backend/internal/store"
	"github.com/collabpad/collab-backend/internal/sync"
)

type wsEnv struct {
	docs  *store.Documents
	marks *bookmarks.Store
	srv   *httptest.Server
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	open := func(name string, migrate func(*gorm.DB) error) *gorm.DB {
		path := filepath.Join(t.TempDir(), fmt.Sprintf("%s_%s.db", name, uuid.NewString()))
		db, err := repo.OpenSQLite(path, false)
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		if err := migrate(db); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		t.Cleanup(func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		})
		return db
	}

	docs := store.NewDocuments(open("ws_store", repo.AutoMigrate), store.NewHub())
	marks := bookmarks.New(open("ws_local", repo.AutoMigrateLocal))
	reg := sync.NewRegistry(docs.Hub)

	cfg := config.WSConfig{
		WriteTimeout:    time.Second,
		PingInterval:    100 * time.Millisecond,
		MaxMessageBytes: 1 << 20,
	}

	r := gin.New()
	r.GET("/ws", WSHandler(cfg, docs, marks, reg, zerolog.Nop()))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &wsEnv{docs: docs, marks: marks, srv: srv}
}

func (e *wsEnv) dial(t *testing.T, userID, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") +
		"/ws?user_id=" + userID + "&display_name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, f wsFrame) {
	t.Helper()
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// waitEvent reads events until one of the wanted type arrives (other types
// are interleaved freely) or the deadline passes.
func waitEvent(t *testing.T, conn *websocket.Conn, typ string) wsEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q event: %v", typ, err)
		}
		var ev wsEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.Type == typ {
			return ev
		}
	}
}

// waitEventWhere reads events of the given type until cond holds.
func waitEventWhere(t *testing.T, conn *websocket.Conn, typ string, cond func(wsEvent) bool) wsEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ev := waitEvent(t, conn, typ)
		if cond(ev) {
			return ev
		}
	}
	t.Fatalf("no matching %q event before deadline", typ)
	return wsEvent{}
}

func seedWSFile(t *testing.T, e *wsEnv, owner, content string) *domain.Resource {
	t.Helper()
	f, err := e.docs.CreateFile(context.Background(), owner, "", "main.py", "python", true)
	if err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if content != "" {
		if err := e.docs.SaveContent(context.Background(), f.ID, content); err != nil {
			t.Fatalf("seed content: %v", err)
		}
	}
	return f
}

func TestWS_OpenDeliversSnapshotAndRoster(t *testing.T) {
	e := newWSEnv(t)
	f := seedWSFile(t, e, "u1", "print(1)")

	conn := e.dial(t, "u1", "Ada")
	sendFrame(t, conn, wsFrame{Type: frameOpen, FileID: f.ID})

	snap := waitEvent(t, conn, eventSnapshot)
	if snap.FileID != f.ID || snap.Content == nil || *snap.Content != "print(1)" {
		t.Fatalf("snapshot = %+v", snap)
	}

	ev := waitEventWhere(t, conn, eventRoster, func(ev wsEvent) bool {
		return len(ev.Roster) == 1
	})
	if ev.Roster[0].UserID != "u1" || ev.Roster[0].DisplayName != "Ada" {
		t.Fatalf("roster = %+v", ev.Roster)
	}
}

func TestWS_OpenUnknownFileIsAnError(t *testing.T) {
	e := newWSEnv(t)
	conn := e.dial(t, "u1", "Ada")
	sendFrame(t, conn, wsFrame{Type: frameOpen, FileID: uuid.NewString()})
	if ev := waitEvent(t, conn, eventError); ev.Message != "file not found" {
		t.Fatalf("error event = %+v", ev)
	}
}

func TestWS_ChatReachesOtherSession(t *testing.T) {
	e := newWSEnv(t)
	f := seedWSFile(t, e, "u1", "")

	a := e.dial(t, "u1", "Ada")
	b := e.dial(t, "u2", "Bob")
	sendFrame(t, a, wsFrame{Type: frameOpen, FileID: f.ID})
	sendFrame(t, b, wsFrame{Type: frameOpen, FileID: f.ID})
	waitEvent(t, a, eventSnapshot)
	waitEvent(t, b, eventSnapshot)

	sendFrame(t, a, wsFrame{Type: frameChat, Text: "  hello  "})

	ev := waitEventWhere(t, b, eventChat, func(ev wsEvent) bool {
		return len(ev.Messages) == 1
	})
	m := ev.Messages[0]
	if m.Text != "hello" || m.UserID != "u1" || m.DisplayName != "Ada" {
		t.Fatalf("message = %+v", m)
	}
}

func TestWS_BlankChatRejectedLocally(t *testing.T) {
	e := newWSEnv(t)
	f := seedWSFile(t, e, "u1", "")
	conn := e.dial(t, "u1", "Ada")
	sendFrame(t, conn, wsFrame{Type: frameOpen, FileID: f.ID})
	waitEvent(t, conn, eventSnapshot)

	sendFrame(t, conn, wsFrame{Type: frameChat, Text: "   "})
	if ev := waitEvent(t, conn, eventError); ev.Message != "message text is empty" {
		t.Fatalf("error event = %+v", ev)
	}
}

func TestWS_EditPropagatesToCleanPeer(t *testing.T) {
	e := newWSEnv(t)
	f := seedWSFile(t, e, "u1", "v1")

	a := e.dial(t, "u1", "Ada")
	b := e.dial(t, "u2", "Bob")
	sendFrame(t, a, wsFrame{Type: frameOpen, FileID: f.ID})
	sendFrame(t, b, wsFrame{Type: frameOpen, FileID: f.ID})
	waitEvent(t, a, eventSnapshot)
	waitEvent(t, b, eventSnapshot)

	sendFrame(t, a, wsFrame{Type: frameEdit, Content: "v2"})

	saved := waitEvent(t, a, eventSaved)
	if saved.Saved == nil || !*saved.Saved {
		t.Fatalf("editor must see saved=true after ack: %+v", saved)
	}
	ev := waitEvent(t, b, eventContent)
	if ev.Content == nil || *ev.Content != "v2" {
		t.Fatalf("peer content = %+v", ev)
	}
}

func TestWS_UnreadBadgeAndMarkRead(t *testing.T) {
	e := newWSEnv(t)
	f := seedWSFile(t, e, "u1", "")
	key := mustKey(t, e, f.ID)
	if _, err := e.docs.AppendMessage(context.Background(), key, "u2", "Bob", "ping"); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	conn := e.dial(t, "u1", "Ada")

	// The aggregator's first pass fires shortly after connect.
	ev := waitEventWhere(t, conn, eventUnread, func(ev wsEvent) bool {
		return ev.Total != nil && *ev.Total == 1
	})
	if ev.PerKey[key] != 1 {
		t.Fatalf("per-key counts = %+v", ev.PerKey)
	}

	sendFrame(t, conn, wsFrame{Type: frameOpen, FileID: f.ID})
	waitEvent(t, conn, eventSnapshot)
	sendFrame(t, conn, wsFrame{Type: frameMarkRead})

	waitEventWhere(t, conn, eventUnread, func(ev wsEvent) bool {
		return ev.Total != nil && *ev.Total == 0
	})
}

func TestWS_FileDeletionEndsScope(t *testing.T) {
	e := newWSEnv(t)
	f := seedWSFile(t, e, "u1", "")

	conn := e.dial(t, "u2", "Bob")
	sendFrame(t, conn, wsFrame{Type: frameOpen, FileID: f.ID})
	waitEvent(t, conn, eventSnapshot)

	if err := e.docs.DeleteFile(context.Background(), f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitEvent(t, conn, eventFileGone)
}

// Deleting the open file spawns the scope teardown on its own goroutine.
// When the client switches files in the same window, that teardown must not
// take the replacement scope down with it: the new scope's subscriptions
// have to keep delivering.
func TestWS_FileDeletionDoesNotKillReplacementScope(t *testing.T) {
	e := newWSEnv(t)
	fA := seedWSFile(t, e, "u1", "a")
	fB, err := e.docs.CreateFile(context.Background(), "u1", "", "other.py", "python", true)
	if err != nil {
		t.Fatalf("seed second file: %v", err)
	}

	conn := e.dial(t, "u1", "Ada")
	sendFrame(t, conn, wsFrame{Type: frameOpen, FileID: fA.ID})
	waitEvent(t, conn, eventSnapshot)

	// Delete the open file and switch immediately, so the dead scope's
	// detached teardown races the new scope coming up.
	if err := e.docs.DeleteFile(context.Background(), fA.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	sendFrame(t, conn, wsFrame{Type: frameOpen, FileID: fB.ID})
	waitEventWhere(t, conn, eventSnapshot, func(ev wsEvent) bool {
		return ev.FileID == fB.ID
	})

	// Give the detached teardown time to run before probing the new scope.
	time.Sleep(100 * time.Millisecond)

	keyB := mustKey(t, e, fB.ID)
	if _, err := e.docs.AppendMessage(context.Background(), keyB, "u2", "Bob", "still here"); err != nil {
		t.Fatalf("append message: %v", err)
	}
	ev := waitEventWhere(t, conn, eventChat, func(ev wsEvent) bool {
		return ev.FileID == fB.ID && len(ev.Messages) == 1
	})
	if ev.Messages[0].Text != "still here" {
		t.Fatalf("message = %+v", ev.Messages[0])
	}
}

func mustKey(t *testing.T, e *wsEnv, fileID string) string {
	t.Helper()
	f, err := e.docs.GetFile(context.Background(), fileID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	return "standalone:" + f.OwnerID + ":" + f.Name
}
