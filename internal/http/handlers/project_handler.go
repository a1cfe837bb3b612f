// Project HTTP handlers.
//
//   - POST   /projects       (create)
//   - GET    /projects       (list, visibility-filtered, ETag support)
//   - GET    /projects/{id}  (fetch with file listing)
//   - DELETE /projects/{id}  (cascade delete, children first)
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/collabpad/collab-backend/internal/domain"
	"github.com/collabpad/collab-backend/internal/repo"
	"github.com/collabpad/collab-backend/internal/sync"
)

// CreateProjectRequest is the JSON payload for creating a project.
type CreateProjectRequest struct {
	Name string `json:"name" binding:"required,min=1,max=255" example:"algorithms"`
	// IsPublic controls visibility; defaults to true when omitted.
	IsPublic *bool `json:"is_public,omitempty"`
}

// ListProjectsResponse wraps a project listing.
type ListProjectsResponse struct {
	Projects []domain.Project `json:"projects"`
}

// ProjectDetailResponse is a project together with its visible files.
type ProjectDetailResponse struct {
	Project domain.Project    `json:"project"`
	Files   []domain.Resource `json:"files"`
}

// CreateProject godoc
// @ID          createProject
// @Summary     Create a new project
// @Description Creates a project owned by the current user.
// @Tags        Projects
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateProjectRequest  true  "Create project payload"
//
// @Success     201  {object}  domain.Project
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /projects [post]
func (h *Handlers) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required (1-255 chars)")
		return
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	p, err := h.projects.CreateProject(c.Request.Context(), userID(c), strings.TrimSpace(req.Name), isPublic)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, p)
}

// ListProjects godoc
// @ID          listProjects
// @Summary     List projects
// @Description Returns projects visible to the viewer, newest first. Supports weak ETag via If-None-Match.
// @Tags        Projects
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
//
// @Success     200  {object} handlers.ListProjectsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /projects [get]
func (h *Handlers) ListProjects(c *gin.Context) {
	ctx := c.Request.Context()

	if h.DB != nil {
		count, maxTS, err := repo.ProjectsStats(ctx, h.DB)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"projects:%d:%d"`, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	projects, err := h.projects.ListProjects(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListProjectsResponse{Projects: sync.FilterProjects(projects, userID(c))})
}

// GetProject godoc
// @ID          getProject
// @Summary     Fetch a project with its files
// @Description Returns the project and the files it contains. Private projects are not revealed to non-owners.
// @Tags        Projects
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Project ID (UUID)"      format(uuid)
//
// @Success     200  {object} handlers.ProjectDetailResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Project not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /projects/{id} [get]
func (h *Handlers) GetProject(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "project id must be a UUID")
		return
	}
	uid := userID(c)

	p, err := h.projects.GetProject(c.Request.Context(), id)
	if err != nil || !sync.Visible(p.OwnerID, p.IsPublic, uid) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "project not found")
		return
	}

	files, err := h.files.ListProjectFiles(c.Request.Context(), id)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	// Files inside a visible project inherit the project owner as fallback.
	ok(c, http.StatusOK, ProjectDetailResponse{
		Project: *p,
		Files:   sync.FilterFiles(files, uid, p.OwnerID),
	})
}

// DeleteProject godoc
// @ID          deleteProject
// @Summary     Delete a project
// @Description Deletes the project's files (each with its ephemeral stream teardown) before the project record. Only the owner may delete; on partial failure the project survives and the error names the failed file.
// @Tags        Projects
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Project ID (UUID)"      format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the owner"
// @Failure     404  {object} handlers.ErrorResponse "Project not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /projects/{id} [delete]
func (h *Handlers) DeleteProject(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "project id must be a UUID")
		return
	}

	p, err := h.projects.GetProject(c.Request.Context(), id)
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "project not found")
		return
	}
	if p.OwnerID != userID(c) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "only the owner may delete a project")
		return
	}

	if err := h.projects.DeleteProject(c.Request.Context(), id); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
		return
	}
	noContent(c)
}
