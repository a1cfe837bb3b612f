package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	gosync "sync"
	"testing"
	"time"

	"github.com/collabpad/collab-backend/internal/domain"
)

// fakeStore is an in-memory stand-in for the store façade, implementing the
// narrow interfaces the engine components consume.
type fakeStore struct {
	mu gosync.Mutex

	presence map[string]map[string]domain.PresenceRecord
	typing   map[string]map[string]domain.TypingFlag
	msgs     []domain.ChatMessage
	files    map[string]*domain.Resource

	clock   func() time.Time
	nextID  int
	failAll bool // every write/read returns an error

	presenceWrites int
	typingWrites   []bool // recorded is_typing values in write order
	saveCalls      int
	failSaves      int // fail this many SaveContent calls, then succeed
}

var errFakeStore = errors.New("store unavailable")

func newFakeStore() *fakeStore {
	return &fakeStore{
		presence: make(map[string]map[string]domain.PresenceRecord),
		typing:   make(map[string]map[string]domain.TypingFlag),
		files:    make(map[string]*domain.Resource),
		clock:    time.Now,
	}
}

func (f *fakeStore) WritePresence(ctx context.Context, rec *domain.PresenceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errFakeStore
	}
	if f.presence[rec.ResourceKey] == nil {
		f.presence[rec.ResourceKey] = make(map[string]domain.PresenceRecord)
	}
	f.presence[rec.ResourceKey][rec.UserID] = *rec
	f.presenceWrites++
	return nil
}

func (f *fakeStore) ClearPresence(ctx context.Context, resourceKey, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errFakeStore
	}
	delete(f.presence[resourceKey], userID)
	return nil
}

func (f *fakeStore) PresenceSnapshot(ctx context.Context, resourceKey string) ([]domain.PresenceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errFakeStore
	}
	out := make([]domain.PresenceRecord, 0, len(f.presence[resourceKey]))
	for _, rec := range f.presence[resourceKey] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *fakeStore) WriteTyping(ctx context.Context, flag *domain.TypingFlag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errFakeStore
	}
	if f.typing[flag.ResourceKey] == nil {
		f.typing[flag.ResourceKey] = make(map[string]domain.TypingFlag)
	}
	f.typing[flag.ResourceKey][flag.UserID] = *flag
	f.typingWrites = append(f.typingWrites, flag.IsTyping)
	return nil
}

func (f *fakeStore) TypingSnapshot(ctx context.Context, resourceKey string) ([]domain.TypingFlag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TypingFlag, 0, len(f.typing[resourceKey]))
	for _, flag := range f.typing[resourceKey] {
		out = append(out, flag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *fakeStore) AppendMessage(ctx context.Context, resourceKey, userID, displayName, text string) (*domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errFakeStore
	}
	f.nextID++
	m := domain.ChatMessage{
		ID:          fmt.Sprintf("m%d", f.nextID),
		ResourceKey: resourceKey,
		UserID:      userID,
		DisplayName: displayName,
		Text:        text,
		CreatedAt:   f.clock().UTC(),
	}
	f.msgs = append(f.msgs, m)
	return &m, nil
}

func (f *fakeStore) ChatSnapshot(ctx context.Context, resourceKey string, limit int) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []domain.ChatMessage
	for _, m := range f.msgs {
		if m.ResourceKey == resourceKey {
			all = append(all, m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (f *fakeStore) RecentMessages(ctx context.Context, limit int) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errFakeStore
	}
	all := make([]domain.ChatMessage, len(f.msgs))
	copy(all, f.msgs)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeStore) GetFile(ctx context.Context, id string) (*domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.files[id]
	if !ok {
		return nil, errFakeStore
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) SaveContent(ctx context.Context, id, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.failSaves > 0 {
		f.failSaves--
		return errFakeStore
	}
	r, ok := f.files[id]
	if !ok {
		return errFakeStore
	}
	r.Content = content
	r.UpdatedAt = f.clock().UTC()
	return nil
}

// waitFor polls cond until it holds or a short deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

// fakeMarks is an in-memory BookmarkSource.
type fakeMarks struct {
	mu    gosync.Mutex
	marks map[string]time.Time // userID+"|"+resourceKey
}

func newFakeMarks() *fakeMarks {
	return &fakeMarks{marks: make(map[string]time.Time)}
}

func (f *fakeMarks) LastSeen(userID, resourceKey string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marks[userID+"|"+resourceKey], nil
}

func (f *fakeMarks) set(userID, resourceKey string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks[userID+"|"+resourceKey] = at
}
