// Documents is the façade the engine and HTTP layer use to talk to the
// document store: every write goes through here so that the matching hub
// topic is published after the row is committed, which is what turns plain
// CRUD into "subscribe for changes" semantics.
//
// Reads ("snapshots") are plain queries; subscribers re-query through these
// methods whenever their hub subscription ticks.
package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/collabpad/collab-backend/internal/domain"
	"github.com/collabpad/collab-backend/internal/repo"
	"github.com/collabpad/collab-backend/internal/reskey"
)

// Documents wraps the store database and its change hub.
//
// TeardownEphemeral controls whether deleting a file also removes the
// presence, typing, and chat records tied to its key. Leaving stale records
// behind matches the historical behavior some clients were tested against;
// teardown is the correct behavior and the default.
type Documents struct {
	DB  *gorm.DB
	Hub *Hub

	TeardownEphemeral bool
}

// NewDocuments constructs a Documents façade with teardown enabled.
func NewDocuments(db *gorm.DB, hub *Hub) *Documents {
	return &Documents{DB: db, Hub: hub, TeardownEphemeral: true}
}

//
// Files and projects
//

// CreateFile inserts a file and announces the change on the files topic
// (and the project's file listing is covered by the same topic).
func (d *Documents) CreateFile(ctx context.Context, ownerID, projectID, name, language string, isPublic bool) (*domain.Resource, error) {
	r, err := repo.CreateFile(ctx, d.DB, ownerID, projectID, name, language, isPublic)
	if err != nil {
		return nil, err
	}
	d.Hub.Publish(TopicFiles)
	return r, nil
}

// GetFile proxies repo.GetFile.
func (d *Documents) GetFile(ctx context.Context, id string) (*domain.Resource, error) {
	return repo.GetFile(ctx, d.DB, id)
}

// GetFileByIdentity proxies repo.GetFileByIdentity.
func (d *Documents) GetFileByIdentity(ctx context.Context, ownerID, projectID, name string) (*domain.Resource, error) {
	return repo.GetFileByIdentity(ctx, d.DB, ownerID, projectID, name)
}

// ListStandaloneFiles proxies repo.ListStandaloneFiles.
func (d *Documents) ListStandaloneFiles(ctx context.Context) ([]domain.Resource, error) {
	return repo.ListStandaloneFiles(ctx, d.DB)
}

// ListProjectFiles proxies repo.ListProjectFiles.
func (d *Documents) ListProjectFiles(ctx context.Context, projectID string) ([]domain.Resource, error) {
	return repo.ListProjectFiles(ctx, d.DB, projectID)
}

// SaveContent persists a full-content save (last write wins) and announces
// the change so open synchronizers observe the new snapshot.
func (d *Documents) SaveContent(ctx context.Context, id, content string) error {
	if err := repo.SaveContent(ctx, d.DB, id, content); err != nil {
		return err
	}
	d.Hub.Publish(TopicFiles)
	return nil
}

// DeleteFile removes a file and, when TeardownEphemeral is set, the
// presence, typing, and chat records under its resource key. The file row
// goes first: a teardown failure leaves only ephemeral leftovers, which the
// TTL predicates already tolerate, whereas the reverse order could orphan a
// live file's streams.
func (d *Documents) DeleteFile(ctx context.Context, id string) error {
	r, err := repo.GetFile(ctx, d.DB, id)
	if err != nil {
		return err
	}
	key := reskey.ForResource(r).String()

	if err := repo.DeleteFile(ctx, d.DB, id); err != nil {
		return err
	}
	d.Hub.Publish(TopicFiles)

	if d.TeardownEphemeral {
		if err := repo.DeletePresenceByKey(ctx, d.DB, key); err != nil {
			return fmt.Errorf("file deleted, presence teardown failed: %w", err)
		}
		if err := repo.DeleteTypingByKey(ctx, d.DB, key); err != nil {
			return fmt.Errorf("file deleted, typing teardown failed: %w", err)
		}
		if err := repo.DeleteMessagesByKey(ctx, d.DB, key); err != nil {
			return fmt.Errorf("file deleted, chat teardown failed: %w", err)
		}
		d.Hub.Publish(TopicPresence(key))
		d.Hub.Publish(TopicTyping(key))
		d.Hub.Publish(TopicChat(key))
		d.Hub.Publish(TopicChatAll)
	}
	return nil
}

// CreateProject inserts a project and announces the change.
func (d *Documents) CreateProject(ctx context.Context, ownerID, name string, isPublic bool) (*domain.Project, error) {
	p, err := repo.CreateProject(ctx, d.DB, ownerID, name, isPublic)
	if err != nil {
		return nil, err
	}
	d.Hub.Publish(TopicProjects)
	return p, nil
}

// GetProject proxies repo.GetProject.
func (d *Documents) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return repo.GetProject(ctx, d.DB, id)
}

// ListProjects proxies repo.ListProjects.
func (d *Documents) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return repo.ListProjects(ctx, d.DB)
}

// DeleteProject cascades over the project's files before touching the parent
// record. Every child deletion must succeed: the first failure aborts the
// cascade with the project row left in place, so a partial cascade is
// observable and never reported as success.
func (d *Documents) DeleteProject(ctx context.Context, id string) error {
	files, err := repo.ListProjectFiles(ctx, d.DB, id)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := d.DeleteFile(ctx, f.ID); err != nil {
			return fmt.Errorf("project %s not deleted, file %q failed: %w", id, f.Name, err)
		}
	}
	if err := repo.DeleteProjectRecord(ctx, d.DB, id); err != nil {
		return err
	}
	d.Hub.Publish(TopicProjects)
	return nil
}

//
// Ephemeral records
//

// WritePresence upserts a heartbeat/selection record and wakes roster
// subscribers on that resource key.
func (d *Documents) WritePresence(ctx context.Context, rec *domain.PresenceRecord) error {
	if err := repo.UpsertPresence(ctx, d.DB, rec); err != nil {
		return err
	}
	d.Hub.Publish(TopicPresence(rec.ResourceKey))
	return nil
}

// ClearPresence deletes one participant's record. Missing rows are fine;
// close paths race with TTL expiry.
func (d *Documents) ClearPresence(ctx context.Context, resourceKey, userID string) error {
	if err := repo.DeletePresence(ctx, d.DB, resourceKey, userID); err != nil {
		return err
	}
	d.Hub.Publish(TopicPresence(resourceKey))
	return nil
}

// PresenceSnapshot returns the raw presence records under a key, ordered by
// user id. TTL filtering happens in the engine.
func (d *Documents) PresenceSnapshot(ctx context.Context, resourceKey string) ([]domain.PresenceRecord, error) {
	return repo.ListPresence(ctx, d.DB, resourceKey)
}

// WriteTyping upserts a typing flag and wakes typing subscribers.
func (d *Documents) WriteTyping(ctx context.Context, flag *domain.TypingFlag) error {
	if err := repo.UpsertTyping(ctx, d.DB, flag); err != nil {
		return err
	}
	d.Hub.Publish(TopicTyping(flag.ResourceKey))
	return nil
}

// TypingSnapshot returns the raw typing flags under a key.
func (d *Documents) TypingSnapshot(ctx context.Context, resourceKey string) ([]domain.TypingFlag, error) {
	return repo.ListTyping(ctx, d.DB, resourceKey)
}

//
// Chat
//

// AppendMessage persists a chat message with a server-assigned timestamp and
// wakes both the per-resource chat subscribers and the global unread
// aggregation topic.
func (d *Documents) AppendMessage(ctx context.Context, resourceKey, userID, displayName, text string) (*domain.ChatMessage, error) {
	m, err := repo.AppendMessage(ctx, d.DB, resourceKey, userID, displayName, text)
	if err != nil {
		return nil, err
	}
	d.Hub.Publish(TopicChat(resourceKey))
	d.Hub.Publish(TopicChatAll)
	return m, nil
}

// ChatSnapshot returns up to limit of the newest messages under a key in
// display (ascending) order.
func (d *Documents) ChatSnapshot(ctx context.Context, resourceKey string, limit int) ([]domain.ChatMessage, error) {
	return repo.ListMessages(ctx, d.DB, resourceKey, limit)
}

// RecentMessages returns the cross-resource recency window for unread
// aggregation.
func (d *Documents) RecentMessages(ctx context.Context, limit int) ([]domain.ChatMessage, error) {
	return repo.ListRecentMessages(ctx, d.DB, limit)
}
