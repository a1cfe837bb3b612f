package sync

import "time"

// IsLive reports whether an ephemeral record written at lastActive is still
// considered live at `now` under the given TTL. Presence and typing use this
// identical predicate with their respective TTLs.
//
// The boundary is exclusive: a record aged exactly TTL is stale. Records
// from the future (clock skew between writers) are treated as live; they age
// into staleness like any other.
func IsLive(lastActive, now time.Time, ttl time.Duration) bool {
	age := now.Sub(lastActive)
	if age < 0 {
		return true
	}
	return age < ttl
}
