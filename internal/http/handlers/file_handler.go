// File HTTP handlers.
//
// This file exposes REST endpoints for file resources:
//   - POST   /files               (create)
//   - GET    /files               (list standalone files, ETag support)
//   - GET    /files/{id}          (fetch, visibility-checked)
//   - PUT    /files/{id}/content  (save, last write wins)
//   - DELETE /files/{id}          (delete + ephemeral stream teardown)
//   - POST   /files/{id}/run      (execute via the runner collaborator)
//
// Handlers are transport-thin: they validate input, call the store facade,
// and translate results into HTTP responses (including conditional responses).
// Visibility filtering happens here, on snapshots, so private files never
// leave the process for the wrong viewer.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/collabpad/collab-backend/internal/bookmarks"
	"github.com/collabpad/collab-backend/internal/domain"
	"github.com/collabpad/collab-backend/internal/repo"
	"github.com/collabpad/collab-backend/internal/runner"
	"github.com/collabpad/collab-backend/internal/sync"
)

//
// Service contracts (context-aware)
//

// FileService defines file lifecycle operations consumed by HTTP handlers.
// *store.Documents satisfies it; handlers stay decoupled from the concrete
// facade so tests can substitute fakes.
type FileService interface {
	// CreateFile inserts a file (standalone when projectID is empty).
	CreateFile(ctx context.Context, ownerID, projectID, name, language string, isPublic bool) (*domain.Resource, error)
	// GetFile fetches a file by id.
	GetFile(ctx context.Context, id string) (*domain.Resource, error)
	// ListStandaloneFiles returns every standalone file, unfiltered.
	ListStandaloneFiles(ctx context.Context) ([]domain.Resource, error)
	// ListProjectFiles returns a project's files, unfiltered.
	ListProjectFiles(ctx context.Context, projectID string) ([]domain.Resource, error)
	// SaveContent replaces content wholesale (last write wins).
	SaveContent(ctx context.Context, id, content string) error
	// DeleteFile removes a file and tears down its ephemeral streams.
	DeleteFile(ctx context.Context, id string) error
}

// ProjectService defines project lifecycle operations consumed by handlers.
type ProjectService interface {
	// CreateProject inserts a project.
	CreateProject(ctx context.Context, ownerID, name string, isPublic bool) (*domain.Project, error)
	// GetProject fetches a project by id.
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	// ListProjects returns every project, unfiltered.
	ListProjects(ctx context.Context) ([]domain.Project, error)
	// DeleteProject cascades over the project's files, children first.
	DeleteProject(ctx context.Context, id string) error
}

// ChatService defines chat stream operations consumed by handlers.
type ChatService interface {
	// AppendMessage persists a message with a server-assigned timestamp.
	AppendMessage(ctx context.Context, resourceKey, userID, displayName, text string) (*domain.ChatMessage, error)
	// ChatSnapshot returns the newest messages under a key, ascending.
	ChatSnapshot(ctx context.Context, resourceKey string, limit int) ([]domain.ChatMessage, error)
	// RecentMessages returns the cross-resource recency window.
	RecentMessages(ctx context.Context, limit int) ([]domain.ChatMessage, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for projects, files, chat, and execution.
type Handlers struct {
	files    FileService
	projects ProjectService
	chat     ChatService
	marks    *bookmarks.Store
	runner   *runner.Client

	// DB backs ETag stats and idempotency lookups; nil disables both
	// (handlers degrade gracefully, used by unit tests).
	DB      *gorm.DB
	IdemTTL time.Duration
}

// New constructs a Handlers instance bound to the given services.
func New(files FileService, projects ProjectService, chat ChatService, marks *bookmarks.Store, run *runner.Client) *Handlers {
	return &Handlers{files: files, projects: projects, chat: chat, marks: marks, runner: run, IdemTTL: 24 * time.Hour}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// displayName extracts the viewer's display name from the X-User-Name header,
// falling back to the user id.
func displayName(c *gin.Context) string {
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-Name")); h != "" {
			return h
		}
	}
	return userID(c)
}

//
// DTOs
//

// CreateFileRequest is the JSON payload for creating a file.
type CreateFileRequest struct {
	// Name is the file name, unique per (owner, project).
	Name string `json:"name" binding:"required,min=1,max=255" example:"main.py"`
	// ProjectID optionally scopes the file to a project.
	ProjectID string `json:"project_id,omitempty" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// Language is the editor language hint.
	Language string `json:"language" example:"python"`
	// IsPublic controls visibility; defaults to true when omitted.
	IsPublic *bool `json:"is_public,omitempty"`
}

// SaveContentRequest is the JSON payload for a full-content save.
type SaveContentRequest struct {
	Content string `json:"content"`
}

// ListFilesResponse wraps a file listing.
type ListFilesResponse struct {
	Files []domain.Resource `json:"files"`
}

//
// Handlers
//

// CreateFile godoc
// @ID          createFile
// @Summary     Create a new file
// @Description Creates a file owned by the current user, standalone or inside a project.
// @Tags        Files
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateFileRequest  true  "Create file payload"
//
// @Success     201  {object}  domain.Resource
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Duplicate name"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /files [post]
func (h *Handlers) CreateFile(c *gin.Context) {
	var req CreateFileRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required (1-255 chars)")
		return
	}
	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		lang = "plaintext"
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	r, err := h.files.CreateFile(c.Request.Context(), userID(c), strings.TrimSpace(req.ProjectID), strings.TrimSpace(req.Name), lang, isPublic)
	if err != nil {
		if isDuplicate(err) {
			fail(c, http.StatusConflict, ErrCodeConflict, "a file with that name already exists")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, r)
}

// ListFiles godoc
// @ID          listFiles
// @Summary     List standalone files
// @Description Returns standalone files visible to the viewer. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Files
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
//
// @Success     200  {object} handlers.ListFilesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /files [get]
func (h *Handlers) ListFiles(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	// ETag pre-check (best effort).
	if h.DB != nil {
		count, maxTS, err := repo.FilesStats(ctx, h.DB, "")
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"files:%d:%d"`, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	files, err := h.files.ListStandaloneFiles(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListFilesResponse{Files: sync.FilterFiles(files, uid, "")})
}

// GetFile godoc
// @ID          getFile
// @Summary     Fetch a file
// @Description Returns a file's metadata and content. Private files are not revealed to non-owners.
// @Tags        Files
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "File ID (UUID)"         format(uuid)
//
// @Success     200  {object} domain.Resource
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "File not found"
// @Router      /files/{id} [get]
func (h *Handlers) GetFile(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file id must be a UUID")
		return
	}

	r, err := h.files.GetFile(c.Request.Context(), id)
	if err != nil || !sync.Visible(r.OwnerID, r.IsPublic, userID(c)) {
		// Private files 404 rather than 403: existence is not revealed.
		fail(c, http.StatusNotFound, ErrCodeNotFound, "file not found")
		return
	}
	ok(c, http.StatusOK, r)
}

// SaveContent godoc
// @ID          saveContent
// @Summary     Save file content
// @Description Replaces the file's content wholesale (last write wins) and bumps the server-assigned save time.
// @Tags        Files
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "File ID (UUID)"         format(uuid)
// @Param       body       body    handlers.SaveContentRequest  true  "Full new content"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "File not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /files/{id}/content [put]
func (h *Handlers) SaveContent(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file id must be a UUID")
		return
	}
	var req SaveContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	if err := h.files.SaveContent(c.Request.Context(), id, req.Content); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "file not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeSaveFailed, err.Error())
		return
	}
	noContent(c)
}

// DeleteFile godoc
// @ID          deleteFile
// @Summary     Delete a file
// @Description Removes the file and the presence, typing, and chat records tied to it. Only the owner may delete.
// @Tags        Files
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "File ID (UUID)"         format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the owner"
// @Failure     404  {object} handlers.ErrorResponse "File not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /files/{id} [delete]
func (h *Handlers) DeleteFile(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file id must be a UUID")
		return
	}

	r, err := h.files.GetFile(c.Request.Context(), id)
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "file not found")
		return
	}
	if r.OwnerID != userID(c) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "only the owner may delete a file")
		return
	}

	if err := h.files.DeleteFile(c.Request.Context(), id); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
		return
	}
	noContent(c)
}

// RunFile godoc
// @ID          runFile
// @Summary     Execute a file
// @Description Submits the file's stored content to the execution collaborator and returns the outcome. Program failures (non-zero exit, compile diagnostics) are successful responses.
// @Tags        Files
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "File ID (UUID)"         format(uuid)
//
// @Success     200  {object} runner.Result
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "File not found"
// @Failure     502  {object} handlers.ErrorResponse "Runner failure"
// @Failure     503  {object} handlers.ErrorResponse "Execution not configured"
// @Router      /files/{id}/run [post]
func (h *Handlers) RunFile(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file id must be a UUID")
		return
	}

	r, err := h.files.GetFile(c.Request.Context(), id)
	if err != nil || !sync.Visible(r.OwnerID, r.IsPublic, userID(c)) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "file not found")
		return
	}

	res, err := h.runner.Run(c.Request.Context(), runner.Request{
		Language: r.Language,
		Source:   r.Content,
	})
	switch {
	case errors.Is(err, runner.ErrDisabled):
		fail(c, http.StatusServiceUnavailable, ErrCodeRunDisabled, "code execution is not configured")
		return
	case err != nil:
		fail(c, http.StatusBadGateway, ErrCodeRunFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, res)
}

// isDuplicate reports whether err looks like a UNIQUE constraint violation.
// glebarez/sqlite often returns plain-text errors that do not map to
// gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
