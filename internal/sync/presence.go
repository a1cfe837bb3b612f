package sync

import (
	"context"
	"sort"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/collabpad/collab-backend/internal/domain"
)

// PresenceStore is the slice of the document store the tracker needs.
type PresenceStore interface {
	// WritePresence upserts a heartbeat/selection record.
	WritePresence(ctx context.Context, rec *domain.PresenceRecord) error
	// ClearPresence removes one participant's record (best effort).
	ClearPresence(ctx context.Context, resourceKey, userID string) error
	// PresenceSnapshot returns the raw records under a key, ordered by user id.
	PresenceSnapshot(ctx context.Context, resourceKey string) ([]domain.PresenceRecord, error)
}

// Tracker maintains one participant's presence on one open resource. Its
// lifecycle is CLOSED → ACTIVE (Start) → CLOSED (Close): Start writes the
// initial record and launches the heartbeat loop; selection changes rewrite
// the record through a debouncer so rapid cursor movement does not flood the
// store; Close cancels both timers before the best-effort delete, so no
// write can land after teardown began.
//
// Write failures are swallowed (logged at debug): heartbeats are best-effort
// liveness signals and the next interval self-heals, while a failed delete is
// eventually corrected by the TTL predicate on every reader.
type Tracker struct {
	store       PresenceStore
	log         zerolog.Logger
	id          Identity
	resourceKey string
	projectID   string

	heartbeat time.Duration
	clock     func() time.Time

	mu       gosync.Mutex
	sel      domain.Selection
	active   bool
	cancel   context.CancelFunc
	debounce *debouncer
	done     chan struct{}
}

// NewTracker constructs a tracker for one (participant, resource) pair.
// The heartbeat interval defaults to HeartbeatInterval.
func NewTracker(st PresenceStore, id Identity, resourceKey, projectID string, log zerolog.Logger) *Tracker {
	return &Tracker{
		store:       st,
		log:         log.With().Str("resource_key", resourceKey).Str("user_id", id.UserID).Logger(),
		id:          id,
		resourceKey: resourceKey,
		projectID:   projectID,
		heartbeat:   HeartbeatInterval,
		clock:       time.Now,
		debounce:    newDebouncer(SelectionDebounce),
	}
}

// Start enters ACTIVE: writes the initial presence record and launches the
// heartbeat loop. Calling Start on an active tracker is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return
	}
	t.active = true
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	t.mu.Unlock()

	t.write(ctx)
	go t.loop(ctx)
}

// UpdateSelection records the local selection and schedules a debounced
// presence rewrite. The latest selection always wins within the debounce
// window.
func (t *Tracker) UpdateSelection(ctx context.Context, sel domain.Selection) {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.sel = sel
	t.mu.Unlock()

	t.debounce.Trigger(func() { t.write(ctx) })
}

// Close leaves ACTIVE: cancels the heartbeat loop and the pending selection
// write, then best-effort deletes the record. Safe to call multiple times.
func (t *Tracker) Close() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	cancel := t.cancel
	done := t.done
	t.mu.Unlock()

	t.debounce.Stop()
	cancel()
	<-done

	// Detached context: session contexts are already cancelled by now, and
	// the delete should still be attempted.
	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := t.store.ClearPresence(ctx, t.resourceKey, t.id.UserID); err != nil {
		t.log.Debug().Err(err).Msg("presence delete failed; TTL will reap the record")
	}
}

func (t *Tracker) loop(ctx context.Context) {
	defer close(t.done)
	tick := time.NewTicker(t.heartbeat)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.write(ctx)
		}
	}
}

func (t *Tracker) write(ctx context.Context) {
	t.mu.Lock()
	rec := &domain.PresenceRecord{
		ResourceKey: t.resourceKey,
		UserID:      t.id.UserID,
		DisplayName: t.id.DisplayName,
		AvatarURL:   t.id.AvatarURL,
		ProjectID:   t.projectID,
		Selection:   t.sel,
		LastActive:  t.clock().UTC(),
	}
	t.mu.Unlock()

	if err := t.store.WritePresence(ctx, rec); err != nil && ctx.Err() == nil {
		t.log.Debug().Err(err).Msg("presence write failed; next heartbeat retries")
	}
}

//
// Roster derivation
//

// RosterEntry is one live participant in a resource's viewer roster.
type RosterEntry struct {
	UserID      string           `json:"user_id"`
	DisplayName string           `json:"display_name"`
	AvatarURL   string           `json:"avatar_url,omitempty"`
	Selection   domain.Selection `json:"selection"`
	LastActive  time.Time        `json:"last_active"`
}

// Roster filters a presence snapshot down to live records and sorts the
// result by user id, so the rendered list never jitters on irrelevant
// snapshot churn. Feeding the same snapshot twice yields an equal roster.
func Roster(records []domain.PresenceRecord, now time.Time, ttl time.Duration) []RosterEntry {
	out := make([]RosterEntry, 0, len(records))
	for _, r := range records {
		if !IsLive(r.LastActive, now, ttl) {
			continue
		}
		out = append(out, RosterEntry{
			UserID:      r.UserID,
			DisplayName: r.DisplayName,
			AvatarURL:   r.AvatarURL,
			Selection:   r.Selection,
			LastActive:  r.LastActive,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// SameRoster reports whether two rosters are structurally identical for
// display purposes: same participants, same display identity, in the same
// order. Selection and timestamp churn is deliberately ignored (cursor
// decoration has its own change detection), so heartbeat rewrites do not
// trigger redundant roster updates.
func SameRoster(a, b []RosterEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].UserID != b[i].UserID ||
			a[i].DisplayName != b[i].DisplayName ||
			a[i].AvatarURL != b[i].AvatarURL {
			return false
		}
	}
	return true
}
