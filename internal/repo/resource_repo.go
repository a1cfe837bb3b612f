// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for files
// (domain.Resource) and projects.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. Visibility filtering is applied by the
// sync layer on snapshots, never here.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/collabpad/collab-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the engine layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateFile inserts a new file owned by ownerID. ProjectID may be empty for
// standalone files. The file ID is a randomly generated UUID (string), and
// CreatedAt/UpdatedAt are set to UTC.
func CreateFile(ctx context.Context, db *gorm.DB, ownerID, projectID, name, language string, isPublic bool) (*domain.Resource, error) {
	now := time.Now().UTC()
	r := &domain.Resource{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		ProjectID: projectID,
		Name:      name,
		Language:  language,
		IsPublic:  isPublic,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetFile fetches a single file by its ID, or ErrNotFound if missing.
func GetFile(ctx context.Context, db *gorm.DB, id string) (*domain.Resource, error) {
	var r domain.Resource
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetFileByIdentity fetches a file by its canonical identity
// (owner, project|empty, name), or ErrNotFound if missing.
func GetFileByIdentity(ctx context.Context, db *gorm.DB, ownerID, projectID, name string) (*domain.Resource, error) {
	var r domain.Resource
	err := db.WithContext(ctx).
		Where("owner_id = ? AND project_id = ? AND name = ?", ownerID, projectID, name).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListStandaloneFiles returns every standalone file (no project), ordered by
// creation time descending. Visibility is the caller's concern.
func ListStandaloneFiles(ctx context.Context, db *gorm.DB) ([]domain.Resource, error) {
	var out []domain.Resource
	err := db.WithContext(ctx).
		Where("project_id = ?", "").
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// ListProjectFiles returns every file in a project, ordered by name.
func ListProjectFiles(ctx context.Context, db *gorm.DB, projectID string) ([]domain.Resource, error) {
	var out []domain.Resource
	err := db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("name asc").
		Find(&out).Error
	return out, err
}

// SaveContent replaces a file's content wholesale (last write wins) and
// bumps the server-assigned UpdatedAt. Returns ErrNotFound when the file
// does not exist.
func SaveContent(ctx context.Context, db *gorm.DB, id, content string) error {
	res := db.WithContext(ctx).
		Model(&domain.Resource{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"content":    content,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteFile soft-deletes a file row. Returns ErrNotFound when the file does
// not exist. Ephemeral stream teardown (presence, typing, chat) is performed
// by the store facade, not here.
func DeleteFile(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Resource{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FilesStats returns the number of files and the most recent update time for
// the given project (or all standalone files when projectID is empty).
// Used for weak ETags on listing endpoints.
func FilesStats(ctx context.Context, db *gorm.DB, projectID string) (int64, *time.Time, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Resource{}).Where("project_id = ?", projectID)
	if err := q.Count(&total).Error; err != nil {
		return 0, nil, err
	}
	if total == 0 {
		return 0, nil, nil
	}
	var maxTS time.Time
	row := db.WithContext(ctx).
		Model(&domain.Resource{}).
		Where("project_id = ?", projectID).
		Select("MAX(updated_at)").
		Row()
	if err := row.Scan(&maxTS); err != nil {
		return total, nil, nil // non-fatal: ETag degrades, listing still works
	}
	return total, &maxTS, nil
}
