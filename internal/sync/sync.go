// Package sync implements the collaboration engine: listener lifecycle over
// the store's change hub, presence and typing liveness, cursor decoration,
// chat streams with cross-resource unread aggregation, and last-write-wins
// document synchronization.
//
// Components here hold derived state only. The store is the single source of
// truth; every snapshot is re-queried on a hub tick, filtered (visibility,
// TTL), and compared structurally so identical snapshots never produce
// observable updates downstream.
package sync

import "time"

// Engine timing and window constants. Presence and typing staleness are
// evaluated client-side against these TTLs; the store never expires rows.
const (
	// PresenceTTL is the maximum age of a presence record before it is
	// excluded from rosters.
	PresenceTTL = 30 * time.Second

	// HeartbeatInterval is how often an open tracker rewrites its presence
	// record. Half the TTL, so a single missed heartbeat does not flicker a
	// live participant to "away".
	HeartbeatInterval = PresenceTTL / 2

	// SelectionDebounce bounds presence rewrites during rapid cursor movement.
	SelectionDebounce = 300 * time.Millisecond

	// TypingTTL is the maximum age of a typing flag before readers ignore it.
	TypingTTL = 5 * time.Second

	// TypingIdle is how long after the last keystroke the typing flag
	// auto-clears.
	TypingIdle = 1500 * time.Millisecond

	// ChatDisplayLimit caps the per-resource message stream shown to clients.
	ChatDisplayLimit = 100

	// UnreadWindow caps the cross-resource recency window that unread
	// aggregation scans.
	UnreadWindow = 200
)

// Identity is the slice of auth-collaborator state the engine needs for one
// participant. Immutable for the engine's purposes.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}
