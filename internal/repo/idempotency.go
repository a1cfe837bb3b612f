// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for idempotency
// records used to deduplicate retried chat message sends.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/collabpad/collab-backend/internal/domain"
)

// GetIdempotency returns the idempotency record for (userID, resourceKey, key)
// when one exists and has not expired at `now`. It returns (nil, nil) when no
// valid record exists; errors are reserved for lookup failures.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, resourceKey, key string, now time.Time) (*domain.Idempotency, error) {
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND resource_key = ? AND key = ? AND expires_at > ?",
			userID, resourceKey, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutIdempotency stores a processed key pointing at the message it produced.
// Conflicts (a concurrent retry winning the race) are not an error; the
// first stored record stands.
func PutIdempotency(ctx context.Context, db *gorm.DB, userID, resourceKey, key, messageID string, ttl time.Duration) error {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:          uuid.NewString(),
		UserID:      userID,
		ResourceKey: resourceKey,
		Key:         key,
		MessageID:   messageID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil
		}
		return err
	}
	return nil
}
