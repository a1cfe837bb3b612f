package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/collabpad/collab-backend/internal/domain"
)

// TypingStore is the slice of the document store the indicator needs.
type TypingStore interface {
	// WriteTyping upserts a typing flag.
	WriteTyping(ctx context.Context, flag *domain.TypingFlag) error
	// TypingSnapshot returns the raw flags under a key, ordered by user id.
	TypingSnapshot(ctx context.Context, resourceKey string) ([]domain.TypingFlag, error)
}

// TypingIndicator manages one participant's typing flag on one resource's
// chat composer. Keystroke sets the flag true and re-arms an idle timer that
// clears it after TypingIdle of silence; Clear (send, blur, teardown) clears
// immediately. Write failures are swallowed like presence: the 5-second TTL
// on readers self-heals a flag that could not be cleared.
type TypingIndicator struct {
	store       TypingStore
	log         zerolog.Logger
	id          Identity
	resourceKey string

	clock func() time.Time

	mu       gosync.Mutex
	typing   bool
	debounce *debouncer
}

// NewTypingIndicator constructs an indicator for one (participant, resource)
// pair.
func NewTypingIndicator(st TypingStore, id Identity, resourceKey string, log zerolog.Logger) *TypingIndicator {
	return &TypingIndicator{
		store:       st,
		log:         log.With().Str("resource_key", resourceKey).Str("user_id", id.UserID).Logger(),
		id:          id,
		resourceKey: resourceKey,
		clock:       time.Now,
		debounce:    newDebouncer(TypingIdle),
	}
}

// Keystroke marks the participant as typing. The true-flag write happens at
// most once per burst; every keystroke re-arms the idle auto-clear.
func (ti *TypingIndicator) Keystroke(ctx context.Context) {
	ti.mu.Lock()
	wasTyping := ti.typing
	ti.typing = true
	ti.mu.Unlock()

	if !wasTyping {
		ti.write(ctx, true)
	}
	ti.debounce.Trigger(func() { ti.Clear(ctx) })
}

// Clear marks the participant as not typing, immediately. Used on message
// send, composer blur, and session teardown. Clearing an already-clear
// indicator is a no-op.
func (ti *TypingIndicator) Clear(ctx context.Context) {
	ti.mu.Lock()
	wasTyping := ti.typing
	ti.typing = false
	ti.mu.Unlock()

	ti.debounce.Stop()
	if wasTyping {
		ti.write(ctx, false)
	}
}

func (ti *TypingIndicator) write(ctx context.Context, isTyping bool) {
	flag := &domain.TypingFlag{
		ResourceKey: ti.resourceKey,
		UserID:      ti.id.UserID,
		DisplayName: ti.id.DisplayName,
		IsTyping:    isTyping,
		TypingAt:    ti.clock().UTC(),
	}
	if err := ti.store.WriteTyping(ctx, flag); err != nil && ctx.Err() == nil {
		ti.log.Debug().Err(err).Bool("is_typing", isTyping).Msg("typing write failed; TTL self-heals")
	}
}

// ActiveTypists filters a typing snapshot down to participants other than
// selfID whose flag is set and still live under TypingTTL, returning display
// names in snapshot (user id) order.
func ActiveTypists(flags []domain.TypingFlag, selfID string, now time.Time) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if f.UserID == selfID || !f.IsTyping {
			continue
		}
		if !IsLive(f.TypingAt, now, TypingTTL) {
			continue
		}
		out = append(out, f.DisplayName)
	}
	return out
}
