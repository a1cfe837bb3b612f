package sync

import (
	"context"
	gosync "sync"

	"github.com/rs/zerolog"

	"github.com/collabpad/collab-backend/internal/domain"
)

// DocumentStore is the slice of the document store the synchronizer needs.
type DocumentStore interface {
	// GetFile fetches the current stored file.
	GetFile(ctx context.Context, id string) (*domain.Resource, error)
	// SaveContent replaces the stored content wholesale (last write wins).
	SaveContent(ctx context.Context, id, content string) error
}

// Synchronizer keeps one session's editing surface and the stored file
// content reconciled under the last-write-wins policy.
//
// Edits apply to the local buffer immediately (optimistic) and issue a
// persist write; the saved indicator flips true only once the write for the
// *newest* edit acknowledges. While local edits are in flight, remote
// snapshots for the same file are ignored; the optimistic buffer is
// authoritative until the next local save. No merge or diffing is attempted;
// concurrent heavy editing of one file loses the earlier writer's content by
// design, a documented limitation of this engine.
type Synchronizer struct {
	store DocumentStore
	log   zerolog.Logger

	mu     gosync.Mutex
	fileID string
	buffer string
	gen    uint64 // bumped per edit; a save ack only counts for the newest gen
	saved  bool
	dirty  bool // local edits newer than the last acknowledged save
}

// NewSynchronizer constructs a synchronizer bound to a store.
func NewSynchronizer(st DocumentStore, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{store: st, log: log}
}

// Open loads the file's current content into the editing buffer and clears
// the saved indicator. Any previous file's state is discarded.
func (s *Synchronizer) Open(ctx context.Context, fileID string) (string, error) {
	r, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileID = fileID
	s.buffer = r.Content
	s.gen = 0
	s.saved = false
	s.dirty = false
	return r.Content, nil
}

// Edit applies newContent to the local buffer immediately and issues the
// persist write. A failed write leaves saved=false, visibly unsaved, and
// the next edit retries by persisting the then-current buffer.
func (s *Synchronizer) Edit(ctx context.Context, newContent string) {
	s.mu.Lock()
	if s.fileID == "" {
		s.mu.Unlock()
		return
	}
	s.buffer = newContent
	s.dirty = true
	s.saved = false
	s.gen++
	gen := s.gen
	fileID := s.fileID
	s.mu.Unlock()

	if err := s.store.SaveContent(ctx, fileID, newContent); err != nil {
		if ctx.Err() == nil {
			s.log.Warn().Err(err).Str("file_id", fileID).Msg("save failed; buffer remains unsaved")
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Only the newest edit's ack may flip the indicator; a stale ack says
	// nothing about the buffer as it is now.
	if gen == s.gen && s.fileID == fileID {
		s.saved = true
		s.dirty = false
	}
}

// RemoteChanged feeds a store snapshot for some file into the synchronizer.
// It returns the adopted content and true when the remote content replaced
// the buffer: only for the open file, and only when no local edits are in
// flight (last write wins; the optimistic buffer is otherwise
// authoritative until the next save).
func (s *Synchronizer) RemoteChanged(remote *domain.Resource) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if remote == nil || remote.ID != s.fileID || s.dirty {
		return "", false
	}
	if remote.Content == s.buffer {
		return "", false
	}
	s.buffer = remote.Content
	return remote.Content, true
}

// Snapshot returns the current buffer and saved-indicator state.
func (s *Synchronizer) Snapshot() (content string, saved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer, s.saved
}

// FileID returns the currently open file id, or "" when nothing is open.
func (s *Synchronizer) FileID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileID
}
