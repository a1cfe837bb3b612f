// Package domain defines the persistence models for projects, files, chat
// messages, and the ephemeral collaboration records (presence, typing).
// These types are mapped with GORM and form the core data layer of the
// collaboration backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Project groups a set of files under a single owner. Projects carry no
// content of their own; deleting a project cascades to its files only after
// every child deletion succeeded (see repo.DeleteProject).
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - OwnerID: identifier of the project owner; indexed for listings.
//   - Name: human-readable project name.
//   - IsPublic: visibility flag; private projects are only listed for the owner.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Project struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	OwnerID   string         `json:"owner_id"   gorm:"type:varchar(64);not null;index:idx_owner_projects"`
	Name      string         `json:"name"       gorm:"type:varchar(255);not null"`
	IsPublic  bool           `json:"is_public"  gorm:"not null;default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Project.
func (Project) TableName() string { return "projects" }

// Resource is a single editable file, either standalone or project-scoped.
// Its canonical identity is (OwnerID, ProjectID|empty, Name); the derived
// resource key (see reskey.Key) joins the file to its presence, typing, and
// chat streams and must not change while the file is open.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - OwnerID: identifier of the file owner; part of the canonical identity.
//   - ProjectID: optional parent project (empty for standalone files).
//   - Name: file name; unique per (owner, project).
//   - Language: editor language hint ("python", "go", ...).
//   - Content: full file text; replaced wholesale on every save (last write wins).
//   - IsPublic: visibility flag, defaults to true.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM; UpdatedAt is the
//     server-assigned save time.
//   - DeletedAt: soft deletion marker.
type Resource struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	OwnerID   string         `json:"owner_id"   gorm:"type:varchar(64);not null;index:idx_owner_files;uniqueIndex:ux_file_identity,priority:1"`
	ProjectID string         `json:"project_id,omitempty" gorm:"type:char(36);index;uniqueIndex:ux_file_identity,priority:2"`
	Name      string         `json:"name"       gorm:"type:varchar(255);not null;uniqueIndex:ux_file_identity,priority:3"`
	Language  string         `json:"language"   gorm:"type:varchar(32);not null;default:'plaintext'"`
	Content   string         `json:"content"    gorm:"type:text"`
	IsPublic  bool           `json:"is_public"  gorm:"not null;default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Resource.
func (Resource) TableName() string { return "files" }

// Selection is a participant's last known selection range, in 1-based editor
// coordinates. A zero Selection means "no selection known".
type Selection struct {
	StartLine int `json:"start_line" gorm:"not null;default:0"`
	StartCol  int `json:"start_col"  gorm:"not null;default:0"`
	EndLine   int `json:"end_line"   gorm:"not null;default:0"`
	EndCol    int `json:"end_col"    gorm:"not null;default:0"`
}

// IsZero reports whether no selection has been recorded.
func (s Selection) IsZero() bool {
	return s.StartLine == 0 && s.StartCol == 0 && s.EndLine == 0 && s.EndCol == 0
}

// IsPoint reports whether the selection is a single caret position rather
// than a range.
func (s Selection) IsPoint() bool {
	return s.StartLine == s.EndLine && s.StartCol == s.EndCol
}

// PresenceRecord is the ephemeral liveness record for one participant on one
// resource, keyed by (ResourceKey, UserID). Records are rewritten on every
// heartbeat and selection change and deleted best-effort when the resource is
// closed. Staleness is a client-evaluated predicate (sync.IsLive), never a
// store-enforced expiry, so a record older than the presence TTL is excluded
// from rosters regardless of what the store still holds.
//
// Fields:
//   - ResourceKey: canonical key of the open file (see reskey).
//   - UserID / DisplayName / AvatarURL: participant identity from the auth collaborator.
//   - ProjectID: current project pointer (empty for standalone files).
//   - Selection: last known selection range, embedded (zero when absent).
//   - LastActive: server-assigned time of the most recent heartbeat or
//     selection write.
type PresenceRecord struct {
	ResourceKey string    `json:"resource_key" gorm:"type:varchar(512);not null;primaryKey"`
	UserID      string    `json:"user_id"      gorm:"type:varchar(64);not null;primaryKey"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(128);not null"`
	AvatarURL   string    `json:"avatar_url,omitempty" gorm:"type:varchar(512)"`
	ProjectID   string    `json:"project_id,omitempty" gorm:"type:char(36)"`
	Selection   Selection `json:"selection"    gorm:"embedded;embeddedPrefix:sel_"`
	LastActive  time.Time `json:"last_active"  gorm:"not null;index"`
}

// TableName returns the database table name for PresenceRecord.
func (PresenceRecord) TableName() string { return "presence" }

// TypingFlag is the short-lived "user is typing" marker for one participant
// on one resource's chat composer, keyed like PresenceRecord. The same
// client-evaluated TTL predicate as presence applies, with a much shorter
// window.
type TypingFlag struct {
	ResourceKey string    `json:"resource_key" gorm:"type:varchar(512);not null;primaryKey"`
	UserID      string    `json:"user_id"      gorm:"type:varchar(64);not null;primaryKey"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(128);not null"`
	IsTyping    bool      `json:"is_typing"    gorm:"not null;default:false"`
	TypingAt    time.Time `json:"typing_at"    gorm:"not null"`
}

// TableName returns the database table name for TypingFlag.
func (TypingFlag) TableName() string { return "typing" }

// ChatMessage is one entry in a resource's append-only chat log. Messages are
// immutable once created and ordered by the server-assigned CreatedAt, never
// by client clocks, so cross-client skew cannot reorder a stream.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ResourceKey: canonical key of the chat's resource; indexed with
//     CreatedAt for ascending stream reads.
//   - UserID / DisplayName: message author.
//   - Text: message body; blank bodies are rejected before reaching the store.
//   - CreatedAt: server-assigned creation time.
type ChatMessage struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	ResourceKey string    `json:"resource_key" gorm:"type:varchar(512);not null;index:idx_key_msgs,priority:1"`
	UserID      string    `json:"user_id"      gorm:"type:varchar(64);not null"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(128);not null"`
	Text        string    `json:"text"         gorm:"type:text;not null"`
	CreatedAt   time.Time `json:"created_at"   gorm:"index:idx_key_msgs,priority:2;index"`
}

// TableName returns the database table name for ChatMessage.
func (ChatMessage) TableName() string { return "chat_messages" }

// UnreadBookmark marks, per (user, resource), the newest chat timestamp the
// user has actively seen. It lives in the local bookmark database, not in the
// document store, and only ever advances (see bookmarks.Store).
type UnreadBookmark struct {
	UserID      string    `json:"user_id"      gorm:"type:varchar(64);not null;primaryKey"`
	ResourceKey string    `json:"resource_key" gorm:"type:varchar(512);not null;primaryKey"`
	LastSeen    time.Time `json:"last_seen"    gorm:"not null"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for UnreadBookmark.
func (UnreadBookmark) TableName() string { return "unread_bookmarks" }

// SessionMarker records, per user, when their current session on this node
// began. Lives in the local bookmark database next to UnreadBookmark; the
// previous value is surfaced at session start ("last visit") before being
// replaced.
type SessionMarker struct {
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);primaryKey"`
	StartedAt time.Time `json:"started_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for SessionMarker.
func (SessionMarker) TableName() string { return "session_markers" }

// Idempotency records a processed Idempotency-Key so that retried message
// sends can be detected and replayed instead of duplicated.
type Idempotency struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string    `json:"user_id"      gorm:"type:varchar(64);not null;uniqueIndex:ux_idem_scope,priority:1"`
	ResourceKey string    `json:"resource_key" gorm:"type:varchar(512);not null;uniqueIndex:ux_idem_scope,priority:2"`
	Key         string    `json:"key"          gorm:"type:varchar(200);not null;uniqueIndex:ux_idem_scope,priority:3"`
	MessageID   string    `json:"message_id"   gorm:"type:char(36);not null"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"   gorm:"not null;index"`
}

// TableName returns the database table name for Idempotency.
func (Idempotency) TableName() string { return "idempotency" }
