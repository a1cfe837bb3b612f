package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/collabpad/collab-backend/internal/domain"
	"github.com/collabpad/collab-backend/internal/store"
)

func TestChatSend_TrimsAndPersists(t *testing.T) {
	st := newFakeStore()
	c := &Chat{Store: st}

	msg, err := c.Send(context.Background(), "k", Identity{UserID: "x", DisplayName: "X"}, "  hello  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Text != "hello" {
		t.Fatalf("persisted text = %q; want trimmed", msg.Text)
	}
	if msg.ID == "" || msg.CreatedAt.IsZero() {
		t.Fatalf("message missing server-assigned id/timestamp: %+v", msg)
	}
}

func TestChatSend_RejectsBlank(t *testing.T) {
	st := newFakeStore()
	c := &Chat{Store: st}

	for _, text := range []string{"", "   ", "\n\t "} {
		if _, err := c.Send(context.Background(), "k", Identity{UserID: "x"}, text); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("Send(%q) err = %v; want ErrEmptyMessage", text, err)
		}
	}
	if len(st.msgs) != 0 {
		t.Fatalf("blank sends persisted %d messages; want none", len(st.msgs))
	}
}

func TestChatHistory_CappedAscending(t *testing.T) {
	st := newFakeStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next := base
	st.clock = func() time.Time { t := next; next = next.Add(time.Second); return t }

	c := &Chat{Store: st}
	for i := 0; i < ChatDisplayLimit+20; i++ {
		if _, err := c.Send(context.Background(), "k", Identity{UserID: "x"}, "msg"); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	hist, err := c.History(context.Background(), "k")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != ChatDisplayLimit {
		t.Fatalf("history length = %d; want capped at %d", len(hist), ChatDisplayLimit)
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].CreatedAt.Before(hist[i-1].CreatedAt) {
			t.Fatalf("history not ascending at %d", i)
		}
	}
	// The cap drops the oldest, keeps the newest.
	if !hist[len(hist)-1].CreatedAt.Equal(base.Add(time.Duration(ChatDisplayLimit+19) * time.Second)) {
		t.Fatalf("newest retained = %v; want the last send", hist[len(hist)-1].CreatedAt)
	}
}

func TestCountUnread_SkipsOwnMessages(t *testing.T) {
	now := time.Now()
	window := []domain.ChatMessage{
		{ID: "1", ResourceKey: "k", UserID: "x", CreatedAt: now},
		{ID: "2", ResourceKey: "k", UserID: "y", CreatedAt: now},
	}
	counts := CountUnread(window, "x", newFakeMarks())
	if counts["k"] != 1 {
		t.Fatalf("unread = %d; want 1 (own messages never count)", counts["k"])
	}
}

func TestCountUnread_BookmarkBoundary(t *testing.T) {
	mark := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	marks := newFakeMarks()
	marks.set("x", "k", mark)

	window := []domain.ChatMessage{
		{ID: "old", ResourceKey: "k", UserID: "y", CreatedAt: mark.Add(-time.Second)},
		{ID: "at", ResourceKey: "k", UserID: "y", CreatedAt: mark}, // exactly at the bookmark: seen
		{ID: "new", ResourceKey: "k", UserID: "y", CreatedAt: mark.Add(time.Second)},
	}
	counts := CountUnread(window, "x", marks)
	if counts["k"] != 1 {
		t.Fatalf("unread = %d; want 1 (only strictly-newer counts)", counts["k"])
	}
}

func TestCountUnread_MissingBookmarkCountsEverything(t *testing.T) {
	now := time.Now()
	window := []domain.ChatMessage{
		{ID: "1", ResourceKey: "k", UserID: "y", CreatedAt: now.Add(-time.Hour)},
		{ID: "2", ResourceKey: "k", UserID: "y", CreatedAt: now},
	}
	counts := CountUnread(window, "x", newFakeMarks())
	if counts["k"] != 2 {
		t.Fatalf("unread = %d; want 2 with the epoch default", counts["k"])
	}
}

func TestTotalUnread(t *testing.T) {
	if got := TotalUnread(map[string]int{"a": 2, "b": 3}); got != 5 {
		t.Fatalf("TotalUnread = %d; want 5", got)
	}
	if got := TotalUnread(nil); got != 0 {
		t.Fatalf("TotalUnread(nil) = %d; want 0", got)
	}
}

func newTestAggregator(st ChatStore, marks BookmarkSource, hub *store.Hub) (*UnreadAggregator, *[]int) {
	var totals []int
	a := &UnreadAggregator{
		Store:    st,
		Marks:    marks,
		Registry: NewRegistry(hub),
		ViewerID: "x",
		Log:      zerolog.Nop(),
	}
	a.OnChange = func(total int, _ map[string]int) { totals = append(totals, total) }
	return a, &totals
}

func TestAggregator_FiresOnlyOnChange(t *testing.T) {
	st := newFakeStore()
	marks := newFakeMarks()
	a, totals := newTestAggregator(st, marks, store.NewHub())

	_, _ = st.AppendMessage(context.Background(), "a", "y", "Y", "one")
	_, _ = st.AppendMessage(context.Background(), "b", "y", "Y", "two")

	a.Recompute(context.Background())
	a.Recompute(context.Background()) // same state, must not re-fire

	if len(*totals) != 1 || (*totals)[0] != 2 {
		t.Fatalf("OnChange totals = %v; want a single firing of 2", *totals)
	}
}

func TestAggregator_BookmarkAdvanceDropsCount(t *testing.T) {
	st := newFakeStore()
	marks := newFakeMarks()
	a, totals := newTestAggregator(st, marks, store.NewHub())

	msg, _ := st.AppendMessage(context.Background(), "k", "y", "Y", "hello")
	a.Recompute(context.Background())

	// Viewer opens the chat: bookmark advances to the newest message.
	marks.set("x", "k", msg.CreatedAt)
	a.Recompute(context.Background())

	if len(*totals) != 2 || (*totals)[1] != 0 {
		t.Fatalf("OnChange totals = %v; want [1 0]", *totals)
	}
}

func TestAggregator_QueryFailureKeepsCounts(t *testing.T) {
	st := newFakeStore()
	a, totals := newTestAggregator(st, newFakeMarks(), store.NewHub())

	_, _ = st.AppendMessage(context.Background(), "k", "y", "Y", "hello")
	a.Recompute(context.Background())

	st.mu.Lock()
	st.failAll = true
	st.mu.Unlock()
	a.Recompute(context.Background())

	if len(*totals) != 1 {
		t.Fatalf("OnChange totals = %v; failed pass must keep previous counts silently", *totals)
	}
}

func TestAggregator_RunReactsToChatTicks(t *testing.T) {
	st := newFakeStore()
	hub := store.NewHub()
	a, totals := newTestAggregator(st, newFakeMarks(), hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { a.Run(ctx); close(done) }()

	waitFor(t, func() bool { return hub.SubscriberCount(store.TopicChatAll) == 1 })

	_, _ = st.AppendMessage(context.Background(), "k", "y", "Y", "hello")
	hub.Publish(store.TopicChatAll)

	waitFor(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.last["k"] == 1
	})

	cancel()
	<-done
	if hub.SubscriberCount(store.TopicChatAll) != 0 {
		t.Fatal("Run exit must release its subscription")
	}
	if len(*totals) == 0 || (*totals)[len(*totals)-1] != 1 {
		t.Fatalf("OnChange totals = %v; want final total 1", *totals)
	}
}

// Scenario: two participants chat across two files while a third watches the
// global badge. The badge counts only messages from others, per resource,
// and opening one chat clears only that resource's share.
func TestScenario_UnreadBadge(t *testing.T) {
	st := newFakeStore()
	marks := newFakeMarks()
	a, _ := newTestAggregator(st, marks, store.NewHub())

	_, _ = st.AppendMessage(context.Background(), "standalone:a:one.py", "y", "Y", "hi")
	last, _ := st.AppendMessage(context.Background(), "standalone:a:one.py", "y", "Y", "there")
	_, _ = st.AppendMessage(context.Background(), "standalone:b:two.py", "z", "Z", "yo")
	_, _ = st.AppendMessage(context.Background(), "standalone:b:two.py", "x", "X", "my own")

	a.Recompute(context.Background())
	a.mu.Lock()
	per := a.last
	a.mu.Unlock()
	if per["standalone:a:one.py"] != 2 || per["standalone:b:two.py"] != 1 {
		t.Fatalf("per-resource counts = %v; want 2 and 1", per)
	}

	marks.set("x", "standalone:a:one.py", last.CreatedAt)
	a.Recompute(context.Background())
	a.mu.Lock()
	per = a.last
	a.mu.Unlock()
	if per["standalone:a:one.py"] != 0 || per["standalone:b:two.py"] != 1 {
		t.Fatalf("counts after opening one chat = %v; want 0 and 1", per)
	}
}
