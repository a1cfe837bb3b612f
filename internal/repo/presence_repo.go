// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ephemeral
// collaboration records: presence and typing flags.
//
// Both record kinds are upsert-heavy (rewritten on every heartbeat or
// keystroke) and keyed by (resource_key, user_id). Deletion is best-effort at
// the call sites: a failed delete self-heals through the client-evaluated TTL
// predicate, so errors are returned but callers may swallow them.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/collabpad/collab-backend/internal/domain"
)

// UpsertPresence writes or rewrites a presence record. All mutable columns
// are replaced on conflict so a heartbeat refreshes both LastActive and the
// last known selection in one write.
func UpsertPresence(ctx context.Context, db *gorm.DB, rec *domain.PresenceRecord) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "resource_key"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "avatar_url", "project_id",
				"sel_start_line", "sel_start_col", "sel_end_line", "sel_end_col",
				"last_active",
			}),
		}).
		Create(rec).Error
}

// ListPresence returns every presence record under a resource key, ordered
// by user id so roster snapshots are deterministic. TTL filtering is the
// caller's concern (sync.IsLive).
func ListPresence(ctx context.Context, db *gorm.DB, resourceKey string) ([]domain.PresenceRecord, error) {
	var out []domain.PresenceRecord
	err := db.WithContext(ctx).
		Where("resource_key = ?", resourceKey).
		Order("user_id asc").
		Find(&out).Error
	return out, err
}

// DeletePresence removes one participant's record under a resource key.
// Missing records are not an error: close paths race with TTL expiry.
func DeletePresence(ctx context.Context, db *gorm.DB, resourceKey, userID string) error {
	return db.WithContext(ctx).
		Where("resource_key = ? AND user_id = ?", resourceKey, userID).
		Delete(&domain.PresenceRecord{}).Error
}

// DeletePresenceByKey removes every presence record under a resource key.
// Used when the underlying file is deleted to avoid leaking ephemeral state.
func DeletePresenceByKey(ctx context.Context, db *gorm.DB, resourceKey string) error {
	return db.WithContext(ctx).
		Where("resource_key = ?", resourceKey).
		Delete(&domain.PresenceRecord{}).Error
}

// UpsertTyping writes or rewrites a typing flag.
func UpsertTyping(ctx context.Context, db *gorm.DB, flag *domain.TypingFlag) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_key"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "is_typing", "typing_at"}),
		}).
		Create(flag).Error
}

// ListTyping returns every typing flag under a resource key, ordered by user
// id. TTL filtering and self-exclusion are the caller's concern.
func ListTyping(ctx context.Context, db *gorm.DB, resourceKey string) ([]domain.TypingFlag, error) {
	var out []domain.TypingFlag
	err := db.WithContext(ctx).
		Where("resource_key = ?", resourceKey).
		Order("user_id asc").
		Find(&out).Error
	return out, err
}

// DeleteTypingByKey removes every typing flag under a resource key.
func DeleteTypingByKey(ctx context.Context, db *gorm.DB, resourceKey string) error {
	return db.WithContext(ctx).
		Where("resource_key = ?", resourceKey).
		Delete(&domain.TypingFlag{}).Error
}
