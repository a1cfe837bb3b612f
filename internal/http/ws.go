// WebSocket transport for the collaboration engine.
//
// One connection is one participant session. The client opens at most one
// file scope at a time ("open" frame); the session wires the engine's
// components (presence tracker, typing indicator, document synchronizer, and
// the shared topic subscriptions) to that scope and streams derived
// snapshots back as events. Switching files tears the previous scope down
// completely before the next one starts.
//
// The read loop is the only reader and the write loop the only writer on the
// underlying connection; everything else communicates through the outbound
// queue. A slow consumer drops events rather than blocking the engine: every
// event carries a full snapshot, so the next one makes the client whole.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/collabpad/collab-backend/internal/bookmarks"
	"github.com/collabpad/collab-backend/internal/config"
	"github.com/collabpad/collab-backend/internal/domain"
	"github.com/collabpad/collab-backend/internal/http/middleware"
	"github.com/collabpad/collab-backend/internal/reskey"
	"github.com/collabpad/collab-backend/internal/store"
	"github.com/collabpad/collab-backend/internal/sync"
)

// Client→server frame. Type selects which fields are meaningful.
type wsFrame struct {
	Type string `json:"type"`

	// open
	FileID string `json:"file_id,omitempty"`
	// selection
	Selection *domain.Selection `json:"selection,omitempty"`
	// chat
	Text string `json:"text,omitempty"`
	// edit
	Content string `json:"content,omitempty"`
}

// Server→client event. Every payload is a complete snapshot for its type;
// clients replace, never merge.
type wsEvent struct {
	Type   string `json:"type"`
	FileID string `json:"file_id,omitempty"`

	Content     *string              `json:"content,omitempty"`
	Saved       *bool                `json:"saved,omitempty"`
	Roster      []sync.RosterEntry   `json:"roster,omitempty"`
	Typists     []string             `json:"typists,omitempty"`
	Decorations []sync.Decoration    `json:"decorations,omitempty"`
	Messages    []domain.ChatMessage `json:"messages,omitempty"`
	Total       *int                 `json:"total,omitempty"`
	PerKey      map[string]int       `json:"per_key,omitempty"`
	LastVisit   *time.Time           `json:"last_visit,omitempty"`
	Message     string               `json:"message,omitempty"`
}

const (
	frameOpen       = "open"
	frameClose      = "close"
	frameSelection  = "selection"
	frameEdit       = "edit"
	frameTyping     = "typing"
	frameTypingStop = "typing_stop"
	frameChat       = "chat"
	frameMarkRead   = "mark_read"

	eventSnapshot    = "snapshot"
	eventContent     = "content"
	eventSaved       = "saved"
	eventRoster      = "roster"
	eventTypists     = "typists"
	eventDecorations = "decorations"
	eventChat        = "chat"
	eventUnread      = "unread"
	eventSession     = "session"
	eventFileGone    = "file_gone"
	eventError       = "error"
)

// wsDeps bundles the engine dependencies one session needs.
type wsDeps struct {
	cfg   config.WSConfig
	docs  *store.Documents
	marks *bookmarks.Store
	reg   *sync.Registry
	log   zerolog.Logger
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The REST layer owns CORS; the demo-auth model has no cookie to protect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades the request and runs the session until the peer
// disconnects.
func WSHandler(cfg config.WSConfig, docs *store.Documents, marks *bookmarks.Store, reg *sync.Registry, log zerolog.Logger) gin.HandlerFunc {
	deps := wsDeps{cfg: cfg, docs: docs, marks: marks, reg: reg, log: log}
	return func(c *gin.Context) {
		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the handshake failure.
			middleware.LoggerFrom(c).Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		s := newWSSession(deps, conn, wsIdentity(c))
		s.run(c.Request.Context())
	}
}

// wsIdentity resolves the participant identity. Browser WebSocket clients
// cannot set headers, so query parameters take precedence.
func wsIdentity(c *gin.Context) sync.Identity {
	pick := func(query, header string) string {
		if v := strings.TrimSpace(c.Query(query)); v != "" {
			return v
		}
		return strings.TrimSpace(c.GetHeader(header))
	}
	id := sync.Identity{
		UserID:      pick("user_id", "X-User-ID"),
		DisplayName: pick("display_name", "X-User-Name"),
		AvatarURL:   pick("avatar_url", "X-User-Avatar"),
	}
	if id.UserID == "" {
		id.UserID = "demo-user"
	}
	if id.DisplayName == "" {
		id.DisplayName = id.UserID
	}
	return id
}

// wsScope is everything bound to the currently open file. Built on "open",
// destroyed on "close", file switch, file deletion, or disconnect.
type wsScope struct {
	fileID  string
	key     string
	tracker *sync.Tracker
	typing  *sync.TypingIndicator
	syncer  *sync.Synchronizer
	cancel  context.CancelFunc
	done    chan struct{}
}

type wsSession struct {
	wsDeps
	conn *websocket.Conn
	id   sync.Identity
	chat *sync.Chat
	send chan []byte

	mu    gosync.Mutex
	scope *wsScope
}

func newWSSession(deps wsDeps, conn *websocket.Conn, id sync.Identity) *wsSession {
	deps.log = deps.log.With().Str("component", "ws").Str("user_id", id.UserID).Logger()
	return &wsSession{
		wsDeps: deps,
		conn:   conn,
		id:     id,
		chat:   &sync.Chat{Store: deps.docs},
		send:   make(chan []byte, 64),
	}
}

// run drives the session: write loop, unread aggregation, then the blocking
// read loop. Returns when the peer disconnects.
func (s *wsSession) run(parent context.Context) {
	middleware.WSSessionStarted()
	defer middleware.WSSessionEnded()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer s.conn.Close()

	go s.writeLoop(ctx)

	// Session marker: surface "since your last visit" once per connect.
	if prev, err := s.marks.StartSession(ctx, s.id.UserID, time.Now().UTC()); err == nil {
		ev := wsEvent{Type: eventSession}
		if !prev.IsZero() {
			ev.LastVisit = &prev
		}
		s.push(ev)
	}

	agg := &sync.UnreadAggregator{
		Store:    s.docs,
		Marks:    s.marks,
		Registry: s.reg,
		ViewerID: s.id.UserID,
		Log:      s.log,
		OnChange: func(total int, perKey map[string]int) {
			s.push(wsEvent{Type: eventUnread, Total: &total, PerKey: perKey})
		},
	}
	go agg.Run(ctx)

	s.readLoop(ctx, agg)
	s.closeScope()
}

func (s *wsSession) readLoop(ctx context.Context, agg *sync.UnreadAggregator) {
	s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	deadline := func() { s.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval)) }
	deadline()
	s.conn.SetPongHandler(func(string) error { deadline(); return nil })

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				s.log.Debug().Err(err).Msg("read loop ended")
			}
			return
		}
		deadline()

		var f wsFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.push(wsEvent{Type: eventError, Message: "malformed frame"})
			continue
		}
		s.dispatch(ctx, f, agg)
	}
}

func (s *wsSession) dispatch(ctx context.Context, f wsFrame, agg *sync.UnreadAggregator) {
	// Counting only known types keeps the frame-type label bounded.
	switch f.Type {
	case frameOpen, frameClose, frameSelection, frameEdit, frameTyping, frameTypingStop, frameChat, frameMarkRead:
		middleware.WSFrameReceived(f.Type)
	default:
		middleware.WSFrameReceived("unknown")
	}

	switch f.Type {
	case frameOpen:
		s.openScope(ctx, f.FileID)

	case frameClose:
		s.closeScope()

	case frameSelection:
		if sc := s.current(); sc != nil && f.Selection != nil {
			sc.tracker.UpdateSelection(ctx, *f.Selection)
		}

	case frameEdit:
		if sc := s.current(); sc != nil {
			sc.syncer.Edit(ctx, f.Content)
			_, saved := sc.syncer.Snapshot()
			s.push(wsEvent{Type: eventSaved, FileID: sc.fileID, Saved: &saved})
		}

	case frameTyping:
		if sc := s.current(); sc != nil {
			sc.typing.Keystroke(ctx)
		}

	case frameTypingStop:
		if sc := s.current(); sc != nil {
			sc.typing.Clear(ctx)
		}

	case frameChat:
		sc := s.current()
		if sc == nil {
			s.push(wsEvent{Type: eventError, Message: "no file open"})
			return
		}
		sc.typing.Clear(ctx)
		if _, err := s.chat.Send(ctx, sc.key, s.id, f.Text); err != nil {
			if errors.Is(err, sync.ErrEmptyMessage) {
				s.push(wsEvent{Type: eventError, Message: "message text is empty"})
			} else {
				s.log.Warn().Err(err).Msg("chat send failed")
				s.push(wsEvent{Type: eventError, Message: "send failed"})
			}
		}

	case frameMarkRead:
		sc := s.current()
		if sc == nil {
			return
		}
		if err := s.marks.Advance(ctx, s.id.UserID, sc.key, time.Now().UTC()); err != nil {
			s.log.Warn().Err(err).Msg("bookmark advance failed")
			return
		}
		// Drop the badge immediately instead of waiting for the next
		// store-driven pass.
		agg.Recompute(ctx)

	default:
		s.push(wsEvent{Type: eventError, Message: "unknown frame type"})
	}
}

func (s *wsSession) current() *wsScope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// openScope switches the session onto fileID: previous scope torn down first,
// then the engine components are started and the initial snapshots pushed.
func (s *wsSession) openScope(ctx context.Context, fileID string) {
	s.closeScope()

	r, err := s.docs.GetFile(ctx, fileID)
	if err != nil || !sync.Visible(r.OwnerID, r.IsPublic, s.id.UserID) {
		s.push(wsEvent{Type: eventError, Message: "file not found"})
		return
	}
	key := reskey.ForResource(r).String()

	syncer := sync.NewSynchronizer(s.docs, s.log)
	content, err := syncer.Open(ctx, fileID)
	if err != nil {
		s.push(wsEvent{Type: eventError, Message: "file not found"})
		return
	}

	scopeCtx, cancel := context.WithCancel(ctx)
	sc := &wsScope{
		fileID:  fileID,
		key:     key,
		tracker: sync.NewTracker(s.docs, s.id, key, r.ProjectID, s.log),
		typing:  sync.NewTypingIndicator(s.docs, s.id, key, s.log),
		syncer:  syncer,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	sc.tracker.Start(scopeCtx)

	s.mu.Lock()
	s.scope = sc
	s.mu.Unlock()

	saved := false
	s.push(wsEvent{Type: eventSnapshot, FileID: fileID, Content: &content, Saved: &saved})
	go s.watch(scopeCtx, sc)
}

// closeScope tears the open scope down: stop the watcher, clear the typing
// flag, delete presence. Idempotent; safe when nothing is open.
func (s *wsSession) closeScope() {
	s.mu.Lock()
	sc := s.scope
	s.scope = nil
	s.mu.Unlock()
	if sc == nil {
		return
	}
	s.teardown(sc)
}

// closeScopeIf tears sc down only while it is still the published scope.
// The deletion watcher runs this on its own goroutine, and by the time that
// goroutine is scheduled the read loop may already have torn sc down and
// opened another file; the replacement scope must not be cancelled in its
// place. When the published scope is not sc, sc has already been fully torn
// down by closeScope and there is nothing left to do.
func (s *wsSession) closeScopeIf(sc *wsScope) {
	s.mu.Lock()
	if s.scope != sc {
		s.mu.Unlock()
		return
	}
	s.scope = nil
	s.mu.Unlock()
	s.teardown(sc)
}

func (s *wsSession) teardown(sc *wsScope) {
	sc.cancel()
	<-sc.done

	// Detached context: the scope context is gone, teardown writes still run.
	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	sc.typing.Clear(ctx)
	sc.tracker.Close()
}

// watch owns the scope's subscriptions. Each tick re-queries a full snapshot
// and pushes it only when it differs from the last one sent; a timer covers
// TTL expiry, which changes rosters without any store write.
func (s *wsSession) watch(ctx context.Context, sc *wsScope) {
	defer close(sc.done)

	presence := s.reg.Acquire(store.TopicPresence(sc.key))
	typing := s.reg.Acquire(store.TopicTyping(sc.key))
	chat := s.reg.Acquire(store.TopicChat(sc.key))
	files := s.reg.Acquire(store.TopicFiles)
	defer presence.Release()
	defer typing.Release()
	defer chat.Release()
	defer files.Release()

	var (
		lastRoster  []sync.RosterEntry
		lastDecor   []sync.Decoration
		lastTypists []string
	)

	refreshPresence := func() {
		recs, err := s.docs.PresenceSnapshot(ctx, sc.key)
		if err != nil {
			return
		}
		roster := sync.Roster(recs, time.Now(), sync.PresenceTTL)
		if !sync.SameRoster(roster, lastRoster) {
			lastRoster = roster
			s.push(wsEvent{Type: eventRoster, FileID: sc.fileID, Roster: roster})
		} else {
			lastRoster = roster
		}
		decor := sync.BuildDecorations(roster, s.id.UserID)
		if !sync.SameDecorations(decor, lastDecor) {
			lastDecor = decor
			s.push(wsEvent{Type: eventDecorations, FileID: sc.fileID, Decorations: decor})
		}
	}
	refreshTyping := func() {
		flags, err := s.docs.TypingSnapshot(ctx, sc.key)
		if err != nil {
			return
		}
		typists := sync.ActiveTypists(flags, s.id.UserID, time.Now())
		if !sameStrings(typists, lastTypists) {
			lastTypists = typists
			s.push(wsEvent{Type: eventTypists, FileID: sc.fileID, Typists: typists})
		}
	}
	refreshChat := func() {
		msgs, err := s.chat.History(ctx, sc.key)
		if err != nil {
			return
		}
		s.push(wsEvent{Type: eventChat, FileID: sc.fileID, Messages: msgs})
	}

	refreshPresence()
	refreshTyping()
	refreshChat()

	// TTL re-evaluation cadence: fast enough that a vanished peer ages out of
	// typing promptly, cheap because snapshots are tiny.
	expiry := time.NewTicker(sync.TypingTTL)
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-presence.C:
			refreshPresence()
		case <-typing.C:
			refreshTyping()
		case <-chat.C:
			refreshChat()
		case <-expiry.C:
			refreshPresence()
			refreshTyping()
		case <-files.C:
			remote, err := s.docs.GetFile(ctx, sc.fileID)
			if err != nil {
				// Deleted under us: the scope is dead. Teardown must run off
				// this goroutine (closeScopeIf blocks on sc.done, which our
				// deferred close provides) and must be identity-checked so a
				// concurrent file switch keeps its new scope.
				s.push(wsEvent{Type: eventFileGone, FileID: sc.fileID})
				go s.closeScopeIf(sc)
				return
			}
			if content, adopted := sc.syncer.RemoteChanged(remote); adopted {
				s.push(wsEvent{Type: eventContent, FileID: sc.fileID, Content: &content})
			}
		}
	}
}

// push queues one event. Full queue drops the event; snapshots are
// self-healing so the next successful push catches the client up.
func (s *wsSession) push(ev wsEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case s.send <- b:
	default:
		s.log.Debug().Str("event", ev.Type).Msg("outbound queue full; event dropped")
	}
}

// writeLoop is the single writer: outbound queue plus the ping cadence.
func (s *wsSession) writeLoop(ctx context.Context) {
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case b := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
