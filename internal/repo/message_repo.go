// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ChatMessage
// model.
//
// Messages are append-only and immutable; the creation timestamp is assigned
// here, on the server, so that stream ordering never depends on client
// clocks.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/collabpad/collab-backend/internal/domain"
)

// AppendMessage inserts a chat message under a resource key with a
// server-assigned UTC timestamp and returns the persisted record.
func AppendMessage(ctx context.Context, db *gorm.DB, resourceKey, userID, displayName, text string) (*domain.ChatMessage, error) {
	m := &domain.ChatMessage{
		ID:          uuid.NewString(),
		ResourceKey: resourceKey,
		UserID:      userID,
		DisplayName: displayName,
		Text:        text,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns up to limit of the most recent messages under a
// resource key, in creation-time ascending order (the display order). The
// newest messages win when the log exceeds the limit: the query selects the
// tail descending, then the slice is reversed.
func ListMessages(ctx context.Context, db *gorm.DB, resourceKey string, limit int) ([]domain.ChatMessage, error) {
	var tail []domain.ChatMessage
	err := db.WithContext(ctx).
		Where("resource_key = ?", resourceKey).
		Order("created_at desc").
		Limit(limit).
		Find(&tail).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
		tail[i], tail[j] = tail[j], tail[i]
	}
	return tail, nil
}

// ListRecentMessages returns up to limit of the most recent messages across
// all resources, newest first. This feeds cross-resource unread aggregation;
// callers do not rely on ordering, only on recency of the window.
func ListRecentMessages(ctx context.Context, db *gorm.DB, limit int) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	err := db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetMessage fetches a single message by ID, or ErrNotFound if missing.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.ChatMessage, error) {
	var m domain.ChatMessage
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMessagesByKey removes every message under a resource key. Used when
// the underlying file is deleted to avoid leaking chat history under a
// now-invalid key.
func DeleteMessagesByKey(ctx context.Context, db *gorm.DB, resourceKey string) error {
	return db.WithContext(ctx).
		Where("resource_key = ?", resourceKey).
		Delete(&domain.ChatMessage{}).Error
}

// MessagesStats returns the number of messages and the newest creation time
// under a resource key. Used for weak ETags on the history endpoint.
func MessagesStats(ctx context.Context, db *gorm.DB, resourceKey string) (int64, *time.Time, error) {
	var total int64
	if err := db.WithContext(ctx).
		Model(&domain.ChatMessage{}).
		Where("resource_key = ?", resourceKey).
		Count(&total).Error; err != nil {
		return 0, nil, err
	}
	if total == 0 {
		return 0, nil, nil
	}
	var maxTS time.Time
	row := db.WithContext(ctx).
		Model(&domain.ChatMessage{}).
		Where("resource_key = ?", resourceKey).
		Select("MAX(created_at)").
		Row()
	if err := row.Scan(&maxTS); err != nil {
		return total, nil, nil
	}
	return total, &maxTS, nil
}
