// Chat and unread HTTP handlers.
//
//   - GET  /files/{id}/messages  (history, ETag support)
//   - POST /files/{id}/messages  (send, idempotent via Idempotency-Key)
//   - POST /files/{id}/read      (advance the viewer's unread bookmark)
//   - GET  /unread               (per-resource unread counts + total)
//
// Idempotency scope is (user, file, key): the middleware validates the header
// and flags replays; this layer persists the key → message mapping and serves
// replays by re-fetching the original message.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/collabpad/collab-backend/internal/domain"
	"github.com/collabpad/collab-backend/internal/http/middleware"
	"github.com/collabpad/collab-backend/internal/repo"
	"github.com/collabpad/collab-backend/internal/reskey"
	"github.com/collabpad/collab-backend/internal/sync"
	"github.com/collabpad/collab-backend/internal/utils"
)

// SendMessageRequest is the JSON payload for sending a chat message.
type SendMessageRequest struct {
	Text string `json:"text" binding:"required" example:"looks good to me"`
}

// MessagesResponse wraps a chat history page in display (ascending) order.
type MessagesResponse struct {
	Messages []domain.ChatMessage `json:"messages"`
}

// UnreadResponse is the viewer's aggregated unread state.
type UnreadResponse struct {
	Total  int            `json:"total"`
	PerKey map[string]int `json:"per_key"`
}

// resolveChatKey loads the file, enforces visibility, and derives its
// resource key. A nil return means the response has already been written.
func (h *Handlers) resolveChatKey(c *gin.Context) (string, *domain.Resource, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file id must be a UUID")
		return "", nil, false
	}
	r, err := h.files.GetFile(c.Request.Context(), id)
	if err != nil || !sync.Visible(r.OwnerID, r.IsPublic, userID(c)) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "file not found")
		return "", nil, false
	}
	return reskey.ForResource(r).String(), r, true
}

// ListMessages godoc
// @ID          listMessages
// @Summary     Chat history for a file
// @Description Returns the newest messages in display order, capped by limit. Supports weak ETag via If-None-Match.
// @Tags        Chat
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       id             path    string  true  "File ID (UUID)"              format(uuid)
// @Param       limit          query   int     false "Max messages (1-100)"        default(100)
//
// @Success     200  {object} handlers.MessagesResponse
// @Header      200  {string} ETag "Weak ETag for current stream"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "File not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /files/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	key, _, okResolved := h.resolveChatKey(c)
	if !okResolved {
		return
	}
	ctx := c.Request.Context()

	limit := utils.ClampInt(utils.AtoiDefault(c.Query("limit"), sync.ChatDisplayLimit), 1, sync.ChatDisplayLimit)

	if h.DB != nil {
		count, maxTS, err := repo.MessagesStats(ctx, h.DB, key)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"chat:%s:%d:%d"`, key, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	msgs, err := h.chat.ChatSnapshot(ctx, key, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, MessagesResponse{Messages: msgs})
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a chat message
// @Description Appends a message to the file's chat stream with a server-assigned timestamp. With an Idempotency-Key header, retries replay the original message instead of duplicating it.
// @Tags        Chat
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"          example(user123)
// @Param       X-User-Name      header  string  false "Display name"                   example(Ada)
// @Param       Idempotency-Key  header  string  false "Deduplication key for retries"  example(send-42)
// @Param       id               path    string  true  "File ID (UUID)"                 format(uuid)
// @Param       body             body    handlers.SendMessageRequest  true  "Message payload"
//
// @Success     201  {object} domain.ChatMessage
// @Success     200  {object} domain.ChatMessage "Replayed original"
// @Failure     400  {object} handlers.ErrorResponse "Bad request or blank text"
// @Failure     404  {object} handlers.ErrorResponse "File not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /files/{id}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	key, r, okResolved := h.resolveChatKey(c)
	if !okResolved {
		return
	}
	ctx := c.Request.Context()
	uid := userID(c)

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}

	// Replay path: a stored record means this exact send already happened.
	idemKey, hasKey := middleware.GetIdempotencyKey(c)
	if hasKey && h.DB != nil {
		rec, err := repo.GetIdempotency(ctx, h.DB, uid, r.ID, idemKey, time.Now().UTC())
		if err == nil && rec != nil {
			if m, err := repo.GetMessage(ctx, h.DB, rec.MessageID); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, m)
				return
			}
		}
	}

	// The engine's send path owns trimming and normalization; the handler
	// only translates its outcomes.
	stream := &sync.Chat{Store: h.chat}
	m, err := stream.Send(ctx, key, sync.Identity{UserID: uid, DisplayName: displayName(c)}, req.Text)
	switch {
	case errors.Is(err, sync.ErrEmptyMessage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message text is empty")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		return
	}

	if hasKey && h.DB != nil {
		// Best effort: a failed record write costs one duplicate on retry,
		// never the message itself.
		if err := repo.PutIdempotency(ctx, h.DB, uid, r.ID, idemKey, m.ID, h.IdemTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record write failed")
		}
	}
	ok(c, http.StatusCreated, m)
}

// MarkReadRequest optionally pins the bookmark to a specific instant.
type MarkReadRequest struct {
	// SeenAt defaults to the server's current time when omitted.
	SeenAt *time.Time `json:"seen_at,omitempty"`
}

// MarkRead godoc
// @ID          markRead
// @Summary     Mark a file's chat as read
// @Description Advances the viewer's unread bookmark for the file. Bookmarks never move backwards, so a stale request is a harmless no-op.
// @Tags        Chat
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "File ID (UUID)"         format(uuid)
// @Param       body       body    handlers.MarkReadRequest  false  "Optional explicit timestamp"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "File not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /files/{id}/read [post]
func (h *Handlers) MarkRead(c *gin.Context) {
	key, _, okResolved := h.resolveChatKey(c)
	if !okResolved {
		return
	}

	seen := time.Now().UTC()
	var req MarkReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
		if req.SeenAt != nil {
			seen = req.SeenAt.UTC()
		}
	}

	if err := h.marks.Advance(c.Request.Context(), userID(c), key, seen); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// Unread godoc
// @ID          unread
// @Summary     Unread message counts
// @Description Returns per-resource unread counts and the global total for the viewer, computed over the recent cross-resource message window. The viewer's own messages never count.
// @Tags        Chat
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object} handlers.UnreadResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /unread [get]
func (h *Handlers) Unread(c *gin.Context) {
	window, err := h.chat.RecentMessages(c.Request.Context(), sync.UnreadWindow)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	perKey := sync.CountUnread(window, userID(c), h.marks)
	ok(c, http.StatusOK, UnreadResponse{Total: sync.TotalUnread(perKey), PerKey: perKey})
}
