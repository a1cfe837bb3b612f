// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Project
// model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/collabpad/collab-backend/internal/domain"
)

// CreateProject inserts a new project owned by ownerID.
func CreateProject(ctx context.Context, db *gorm.DB, ownerID, name string, isPublic bool) (*domain.Project, error) {
	now := time.Now().UTC()
	p := &domain.Project{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		IsPublic:  isPublic,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetProject fetches a project by ID, or ErrNotFound if missing.
func GetProject(ctx context.Context, db *gorm.DB, id string) (*domain.Project, error) {
	var p domain.Project
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects ordered by creation time descending.
// Visibility is the caller's concern.
func ListProjects(ctx context.Context, db *gorm.DB) ([]domain.Project, error) {
	var out []domain.Project
	err := db.WithContext(ctx).Order("created_at desc").Find(&out).Error
	return out, err
}

// ProjectsStats returns the number of projects and the most recent update
// time. Used for weak ETags on the listing endpoint.
func ProjectsStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error) {
	var total int64
	if err := db.WithContext(ctx).Model(&domain.Project{}).Count(&total).Error; err != nil {
		return 0, nil, err
	}
	if total == 0 {
		return 0, nil, nil
	}
	var maxTS time.Time
	row := db.WithContext(ctx).
		Model(&domain.Project{}).
		Select("MAX(updated_at)").
		Row()
	if err := row.Scan(&maxTS); err != nil {
		return total, nil, nil // non-fatal: ETag degrades, listing still works
	}
	return total, &maxTS, nil
}

// DeleteProjectRecord soft-deletes the project row itself. Callers must have
// already deleted every child file (see store.Documents.DeleteProject): a
// partially cascaded delete must leave the parent row in place.
func DeleteProjectRecord(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Project{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
