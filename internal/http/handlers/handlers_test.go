package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/collabpad/collab-backend/internal/bookmarks"
	"github.com/collabpad/collab-backend/internal/config"
	"github.com/collabpad/collab-backend/internal/repo"
	"github.com/collabpad/collab-backend/internal/runner"
	"github.com/collabpad/collab-backend/internal/store"
)

// testEnv wires real components over temp databases, the same way the router
// does in production: a Documents facade over the store DB and a bookmark
// store over the local DB.
type testEnv struct {
	h     *Handlers
	docs  *store.Documents
	local *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
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

	storeDB := open("handlers_store", repo.AutoMigrate)
	localDB := open("handlers_local", repo.AutoMigrateLocal)

	docs := store.NewDocuments(storeDB, store.NewHub())
	marks := bookmarks.New(localDB)
	run := runner.New(config.RunnerConfig{Timeout: time.Second}, zerolog.Nop())

	h := New(docs, docs, docs, marks, run)
	h.DB = storeDB
	return &testEnv{h: h, docs: docs, local: localDB}
}

// withRunner swaps in a runner client pointed at endpoint.
func (e *testEnv) withRunner(endpoint string) {
	e.h.runner = runner.New(config.RunnerConfig{Endpoint: endpoint, Timeout: time.Second}, zerolog.Nop())
}

func jsonBody(s string) *bytes.Buffer { return bytes.NewBufferString(s) }

func do(r *gin.Engine, method, path, body, user string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	r.ServeHTTP(w, req)
	return w
}
