package sync

import (
	"context"
	"errors"
	"strings"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/collabpad/collab-backend/internal/domain"
	"github.com/collabpad/collab-backend/internal/store"
)

// ErrEmptyMessage is returned when a chat send contains no non-whitespace
// text. The rejection is local; no store round-trip happens for a no-op.
var ErrEmptyMessage = errors.New("message text is empty")

// ChatStore is the slice of the document store the chat stream needs.
type ChatStore interface {
	// AppendMessage persists a message with a server-assigned timestamp.
	AppendMessage(ctx context.Context, resourceKey, userID, displayName, text string) (*domain.ChatMessage, error)
	// ChatSnapshot returns the newest messages under a key in ascending order.
	ChatSnapshot(ctx context.Context, resourceKey string, limit int) ([]domain.ChatMessage, error)
	// RecentMessages returns the cross-resource recency window, newest first.
	RecentMessages(ctx context.Context, limit int) ([]domain.ChatMessage, error)
}

// Chat provides the per-resource message stream operations.
type Chat struct {
	Store ChatStore
}

// Send appends a message to a resource's chat log after trimming; blank
// text is rejected locally with ErrEmptyMessage. Text is NFC-normalized so
// the same characters composed differently by different client platforms
// compare and render identically for every reader.
func (c *Chat) Send(ctx context.Context, resourceKey string, who Identity, text string) (*domain.ChatMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}
	return c.Store.AppendMessage(ctx, resourceKey, who.UserID, who.DisplayName, norm.NFC.String(trimmed))
}

// History returns the display stream for a resource: creation-time ascending,
// capped to the most recent ChatDisplayLimit messages.
func (c *Chat) History(ctx context.Context, resourceKey string) ([]domain.ChatMessage, error) {
	return c.Store.ChatSnapshot(ctx, resourceKey, ChatDisplayLimit)
}

//
// Unread aggregation
//

// BookmarkSource reads "last seen" bookmarks for the local user. The zero
// time means "never opened" and counts everything (epoch default).
type BookmarkSource interface {
	LastSeen(userID, resourceKey string) (time.Time, error)
}

// CountUnread computes, from a cross-resource recency window, how many
// messages per resource are newer than the viewer's bookmark. Messages
// authored by the viewer never count; a message stamped exactly at the
// bookmark is seen. Bookmark read failures degrade to the epoch default
// (count everything) rather than failing the pass.
func CountUnread(window []domain.ChatMessage, viewerID string, marks BookmarkSource) map[string]int {
	perKey := make(map[string]int)
	seen := make(map[string]time.Time)
	for _, m := range window {
		if m.UserID == viewerID {
			continue
		}
		mark, ok := seen[m.ResourceKey]
		if !ok {
			if ls, err := marks.LastSeen(viewerID, m.ResourceKey); err == nil {
				mark = ls
			}
			seen[m.ResourceKey] = mark
		}
		if m.CreatedAt.After(mark) {
			perKey[m.ResourceKey]++
		}
	}
	return perKey
}

// TotalUnread sums a per-resource unread map into the global badge count.
func TotalUnread(perKey map[string]int) int {
	total := 0
	for _, n := range perKey {
		total += n
	}
	return total
}

// UnreadAggregator maintains the viewer's global unread state: one
// resource-agnostic subscription over the recent cross-resource message
// window, recomputed on every chat write anywhere and whenever a bookmark
// advances. OnChange fires only when the per-resource counts actually
// changed.
type UnreadAggregator struct {
	Store    ChatStore
	Marks    BookmarkSource
	Registry *Registry
	ViewerID string
	Log      zerolog.Logger

	// OnChange receives the new totals. Called from the aggregator's
	// goroutine (or the Recompute caller); must not block for long.
	OnChange func(total int, perKey map[string]int)

	mu   gosync.Mutex
	last map[string]int
}

// Run subscribes to the global chat topic and recomputes until ctx is done.
// The subscription handle is released on exit, before Run returns.
func (a *UnreadAggregator) Run(ctx context.Context) {
	h := a.Registry.Acquire(store.TopicChatAll)
	defer h.Release()

	a.Recompute(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.C:
			a.Recompute(ctx)
		}
	}
}

// Recompute runs one aggregation pass immediately. Called from Run on every
// tick and synchronously after a bookmark advances, so an opened chat's
// count drops before the next store-driven pass can recount it.
func (a *UnreadAggregator) Recompute(ctx context.Context) {
	window, err := a.Store.RecentMessages(ctx, UnreadWindow)
	if err != nil {
		if ctx.Err() == nil {
			a.Log.Debug().Err(err).Msg("unread window query failed; keeping previous counts")
		}
		return
	}
	perKey := CountUnread(window, a.ViewerID, a.Marks)

	a.mu.Lock()
	changed := !equalCounts(a.last, perKey)
	if changed {
		a.last = perKey
	}
	a.mu.Unlock()

	if changed && a.OnChange != nil {
		a.OnChange(TotalUnread(perKey), perKey)
	}
}

func equalCounts(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
