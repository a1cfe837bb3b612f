// Package bookmarks persists per-user read state in the node-local database:
// unread bookmarks ("newest chat timestamp the user has actively seen" per
// resource) and the session marker. This state belongs to this node, not to
// the shared document store, so it lives in its own SQLite file.
package bookmarks

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/collabpad/collab-backend/internal/domain"
)

// Store reads and advances bookmarks on the local database.
type Store struct {
	db *gorm.DB
}

// New constructs a bookmark store over an opened local database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// LastSeen returns the bookmark for (user, resource). A missing row returns
// the zero time with no error: the epoch default, under which every message
// counts as unread.
func (s *Store) LastSeen(userID, resourceKey string) (time.Time, error) {
	var b domain.UnreadBookmark
	err := s.db.
		Where("user_id = ? AND resource_key = ?", userID, resourceKey).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return b.LastSeen, nil
}

// Advance moves the bookmark forward to seen. Bookmarks only ever advance:
// a write older than the stored value is a no-op, so a stale pass (an old
// chat view closing late, a clock-skewed snapshot) can never resurrect
// unread counts the user has already cleared.
func (s *Store) Advance(ctx context.Context, userID, resourceKey string, seen time.Time) error {
	b := domain.UnreadBookmark{
		UserID:      userID,
		ResourceKey: resourceKey,
		LastSeen:    seen.UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "resource_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_seen", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "excluded.last_seen > unread_bookmarks.last_seen"},
			}},
		}).
		Create(&b).Error
}

// StartSession replaces the user's session marker with now and returns the
// previous marker (zero when this is the first session on this node). The
// caller shows "since your last visit" affordances off the returned value.
func (s *Store) StartSession(ctx context.Context, userID string, now time.Time) (time.Time, error) {
	var prev time.Time
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m domain.SessionMarker
		err := tx.Where("user_id = ?", userID).First(&m).Error
		switch {
		case err == nil:
			prev = m.StartedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
			// first session
		default:
			return err
		}
		m = domain.SessionMarker{UserID: userID, StartedAt: now.UTC()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"started_at", "updated_at"}),
		}).Create(&m).Error
	})
	if err != nil {
		return time.Time{}, err
	}
	return prev, nil
}
