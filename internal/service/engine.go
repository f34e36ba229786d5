package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/metrics"
	"github.com/vedran77/pulsesync/internal/repository"
	"github.com/vedran77/pulsesync/internal/transport/http/api"
	"github.com/vedran77/pulsesync/internal/transport/ws"
)

const restTimeout = 15 * time.Second

// Backend is the REST surface the engine consumes.
type Backend interface {
	SessionBackend
	TokenRefresher
	Conversations(ctx context.Context) ([]domain.ConversationSummary, error)
	NotificationSummary(ctx context.Context) ([]domain.UnreadEntry, error)
	Messages(ctx context.Context, key domain.ConversationKey, limit int, before *string) (*api.MessagePage, error)
	Pin(ctx context.Context, key domain.ConversationKey) error
	Unpin(ctx context.Context, key domain.ConversationKey) error
	Search(ctx context.Context, query string) (*api.SearchResults, error)
}

// Transport is the stream the engine reads from and writes to.
type Transport interface {
	Sender
	Connect(ctx context.Context) error
	Disconnect()
	Events() <-chan ws.Event
	Interrupts() <-chan ws.ForceLogout
	Closed() <-chan error
}

type EngineConfig struct {
	PageSize        int
	SeenCapacity    int
	RefreshInterval time.Duration
}

// Engine owns every piece of conversation state. Run is the only goroutine
// that touches it; public methods hand closures to Run and wait for them,
// and REST calls run elsewhere and post their results back.
type Engine struct {
	backend   Backend
	transport Transport
	cfg       EngineConfig
	log       *zap.Logger
	metrics   *metrics.Metrics

	session   *SessionStore
	presence  *PresenceTable
	ledger    *UnreadLedger
	directory *Directory
	cache     *MessageCache
	composer  *Composer
	refresher *Refresher
	archive   *archiver

	calls   chan func()
	stopped chan struct{}
	now     func() time.Time

	// Owned by Run.
	ctx         context.Context
	gen         uint64
	live        bool
	linkUp      bool
	self        domain.Identity
	stopRefresh context.CancelFunc
}

func NewEngine(backend Backend, transport Transport, cfg EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.SeenCapacity <= 0 {
		cfg.SeenCapacity = 2048
	}

	e := &Engine{
		backend:   backend,
		transport: transport,
		cfg:       cfg,
		log:       logger.Named("engine"),
		calls:     make(chan func()),
		stopped:   make(chan struct{}),
		now:       time.Now,
	}
	e.session = NewSessionStore(backend, logger.Named("session"))
	e.session.OnTeardown(transport.Disconnect)
	e.presence = NewPresenceTable()
	e.cache = NewMessageCache()
	e.directory = NewDirectory()
	e.composer = NewComposer(transport, e.cache, e.directory)
	e.ledger = NewUnreadLedger(cfg.SeenCapacity, e.composer)
	e.refresher = NewRefresher(backend, cfg.RefreshInterval, logger.Named("refresher"))
	return e
}

// SetMetrics sets the prometheus collectors (optional dependency).
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
	e.composer.SetMetrics(m)
}

// SetArchive enables message archiving (optional dependency). Call before Run.
func (e *Engine) SetArchive(repo repository.ArchiveRepository) {
	e.archive = newArchiver(repo, e.log.Named("archive"))
}

func (e *Engine) Session() *SessionStore { return e.session }

// Run is the event loop. It returns when ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	e.ctx = ctx
	defer close(e.stopped)
	defer func() {
		if e.stopRefresh != nil {
			e.stopRefresh()
		}
	}()
	if e.archive != nil {
		go e.archive.run(ctx)
	}

	for {
		// force_logout preempts anything already queued.
		select {
		case fl := <-e.transport.Interrupts():
			e.forceLogout(fl)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case fl := <-e.transport.Interrupts():
			e.forceLogout(fl)

		case evt := <-e.transport.Events():
			select {
			case fl := <-e.transport.Interrupts():
				e.forceLogout(fl)
			default:
			}
			e.apply(evt)

		case err := <-e.transport.Closed():
			e.linkUp = false
			if e.live {
				e.log.Warn("stream closed, live updates paused until the session restarts", zap.Error(err))
			}

		case fn := <-e.calls:
			fn()
		}
	}
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case e.calls <- func() { defer close(done); fn() }:
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// post queues fn on the loop without waiting.
func (e *Engine) post(fn func()) bool {
	select {
	case e.calls <- fn:
		return true
	case <-e.stopped:
		return false
	}
}

// fetchAsync runs fetch off the loop and applies the result on it. Results
// that come back after the session changed are dropped. The outcome is
// delivered on done.
func fetchAsync[T any](e *Engine, fetch func(context.Context) (T, error), apply func(T, error) error, done chan<- error) {
	gen := e.gen
	base := e.ctx
	go func() {
		ctx, cancel := context.WithTimeout(base, restTimeout)
		v, err := fetch(ctx)
		cancel()
		posted := e.post(func() {
			if e.gen != gen {
				e.log.Debug("dropping stale completion")
				done <- ErrNoSession
				return
			}
			done <- apply(v, err)
		})
		if !posted {
			done <- ErrEngineStopped
		}
	}()
}

func await(ctx context.Context, done <-chan error) error {
	if done == nil {
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start resumes an existing cookie session.
func (e *Engine) Start(ctx context.Context) (*domain.Identity, error) {
	id, err := e.session.Probe(ctx)
	if err != nil {
		return nil, fmt.Errorf("probing session: %w", err)
	}
	return id, e.begin(ctx, *id)
}

// Login authenticates, fetches the identity and starts the session.
func (e *Engine) Login(ctx context.Context, username, password string) (*domain.Identity, error) {
	id, err := e.session.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return id, e.begin(ctx, *id)
}

func (e *Engine) begin(ctx context.Context, id domain.Identity) error {
	var gen uint64
	err := e.do(ctx, func() {
		if e.live {
			e.stopSession()
			e.transport.Disconnect()
		}
		e.resetState()
		e.discardQueuedEvents()
		e.gen++
		gen = e.gen
		e.self = id
		e.live = true
		e.startRefresher(gen)
	})
	if err != nil {
		return err
	}

	if err := e.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connecting stream: %w", err)
	}
	if err := e.do(ctx, func() {
		if e.gen == gen {
			e.linkUp = true
		}
	}); err != nil {
		return err
	}

	var (
		convs  []domain.ConversationSummary
		unread []domain.UnreadEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		convs, err = e.backend.Conversations(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		unread, err = e.backend.NotificationSummary(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("loading session snapshot: %w", err)
	}

	var stale bool
	err = e.do(ctx, func() {
		if e.gen != gen {
			stale = true
			return
		}
		e.directory.Adopt(convs)
		if err := e.ledger.Adopt(unread); err != nil {
			e.log.Warn("marking active conversation read failed", zap.Error(err))
		}
		e.syncGauges()
	})
	if err != nil {
		return err
	}
	if stale {
		return ErrNoSession
	}
	e.log.Info("session started",
		zap.String("identity", id.Key().String()),
		zap.Int("conversations", len(convs)),
		zap.Int("unread_entries", len(unread)),
	)
	return nil
}

func (e *Engine) startRefresher(gen uint64) {
	ctx, cancel := context.WithCancel(e.ctx)
	e.stopRefresh = cancel
	go e.refresher.Run(ctx, func(reason string) {
		e.post(func() {
			if e.gen == gen && e.live {
				e.endSession(reason)
			}
		})
	})
}

func (e *Engine) stopSession() {
	if e.stopRefresh != nil {
		e.stopRefresh()
		e.stopRefresh = nil
	}
	e.gen++
	e.live = false
	e.linkUp = false
}

func (e *Engine) endSession(reason string) {
	e.stopSession()
	e.session.Logout(reason)
	e.resetState()
}

func (e *Engine) forceLogout(fl ws.ForceLogout) {
	e.log.Info("forced logout", zap.String("reason", fl.Reason))
	e.metrics.EventApplied(ws.EventForceLogout)
	e.endSession(fl.Reason)
}

func (e *Engine) resetState() {
	e.presence.Reset()
	e.ledger.Reset()
	e.directory.Reset()
	e.cache.Reset()
	e.self = domain.Identity{}
	e.syncGauges()
}

// discardQueuedEvents drops frames an earlier link left in the transport
// queue. It runs before the new link connects.
func (e *Engine) discardQueuedEvents() {
	for {
		select {
		case <-e.transport.Events():
		default:
			return
		}
	}
}

// Logout ends the session. It is safe to call without one.
func (e *Engine) Logout(ctx context.Context, reason string) error {
	return e.do(ctx, func() { e.endSession(reason) })
}

// OpenConversation makes key the active conversation, clears its unread
// count and loads its first page unless it is already cached.
func (e *Engine) OpenConversation(ctx context.Context, key domain.ConversationKey) error {
	var wait chan error
	var serr error
	err := e.do(ctx, func() {
		if !e.live {
			serr = ErrNoSession
			return
		}
		e.ledger.SetActive(key)
		if err := e.ledger.Clear(key); err != nil {
			e.log.Warn("marking conversation read failed", zap.Stringer("key", key), zap.Error(err))
		}
		e.syncGauges()
		if !e.cache.BeginOpen(key) {
			return
		}
		wait = make(chan error, 1)
		fetchAsync(e,
			func(ctx context.Context) (*api.MessagePage, error) {
				return e.backend.Messages(ctx, key, e.cfg.PageSize, nil)
			},
			func(page *api.MessagePage, err error) error {
				if err != nil {
					e.cache.FailOpen(key)
					e.log.Warn("loading conversation failed", zap.Stringer("key", key), zap.Error(err))
					return err
				}
				e.cache.CompleteOpen(key, page.Messages, page.NextCursor)
				e.directory.FillLastMessageID(key, e.cache.LastID(key))
				e.archiveMessages(key, page.Messages)
				e.syncGauges()
				return nil
			},
			wait,
		)
	})
	if err != nil {
		return err
	}
	if serr != nil {
		return serr
	}
	return await(ctx, wait)
}

// LoadOlder fetches the page before the oldest cached message. It is a
// no-op when nothing older remains or a load is already running.
func (e *Engine) LoadOlder(ctx context.Context, key domain.ConversationKey) error {
	var wait chan error
	var serr error
	err := e.do(ctx, func() {
		if !e.live {
			serr = ErrNoSession
			return
		}
		cursor, ok := e.cache.BeginLoadOlder(key)
		if !ok {
			return
		}
		wait = make(chan error, 1)
		fetchAsync(e,
			func(ctx context.Context) (*api.MessagePage, error) {
				return e.backend.Messages(ctx, key, e.cfg.PageSize, &cursor)
			},
			func(page *api.MessagePage, err error) error {
				if err != nil {
					e.cache.FailLoadOlder(key)
					e.log.Warn("loading older messages failed", zap.Stringer("key", key), zap.Error(err))
					return err
				}
				e.cache.CompleteLoadOlder(key, page.Messages, page.NextCursor)
				e.archiveMessages(key, page.Messages)
				return nil
			},
			wait,
		)
	})
	if err != nil {
		return err
	}
	if serr != nil {
		return serr
	}
	return await(ctx, wait)
}

// SetActive changes the foreground conversation without reading it. Pass
// the zero key when navigating away.
func (e *Engine) SetActive(ctx context.Context, key domain.ConversationKey) error {
	return e.do(ctx, func() { e.ledger.SetActive(key) })
}

func (e *Engine) SetVisible(ctx context.Context, visible bool) error {
	var serr error
	err := e.do(ctx, func() {
		serr = e.ledger.SetVisible(visible)
		e.syncGauges()
	})
	if err != nil {
		return err
	}
	return serr
}

// SendMessage inserts the message optimistically and transmits it. On a
// transport failure the returned message is marked failed and err says why.
func (e *Engine) SendMessage(ctx context.Context, key domain.ConversationKey, content domain.Content) (*domain.Message, error) {
	var (
		msg  *domain.Message
		serr error
	)
	err := e.do(ctx, func() {
		if !e.live {
			serr = ErrNoSession
			return
		}
		msg, serr = e.composer.SendMessage(e.self, key, content)
		if msg != nil {
			e.archiveMessages(key, []domain.Message{*msg})
		}
	})
	if err != nil {
		return nil, err
	}
	return msg, serr
}

func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	var serr error
	err := e.do(ctx, func() {
		if !e.live {
			serr = ErrNoSession
			return
		}
		serr = e.composer.DeleteMessage(messageID)
	})
	if err != nil {
		return err
	}
	return serr
}

func (e *Engine) Pin(ctx context.Context, key domain.ConversationKey) error {
	return e.setPinned(ctx, key, true)
}

func (e *Engine) Unpin(ctx context.Context, key domain.ConversationKey) error {
	return e.setPinned(ctx, key, false)
}

// setPinned calls the server first and moves the summary only on success.
func (e *Engine) setPinned(ctx context.Context, key domain.ConversationKey, pinned bool) error {
	var (
		gen   uint64
		live  bool
		known bool
	)
	if err := e.do(ctx, func() {
		gen, live = e.gen, e.live
		_, known = e.directory.Get(key)
	}); err != nil {
		return err
	}
	if !live {
		return ErrNoSession
	}
	if !known {
		return ErrUnknownConversation
	}

	call := e.backend.Unpin
	if pinned {
		call = e.backend.Pin
	}
	if err := call(ctx, key); err != nil {
		return err
	}

	var serr error
	if err := e.do(ctx, func() {
		if e.gen != gen {
			serr = ErrNoSession
			return
		}
		serr = e.directory.SetPinned(key, pinned)
	}); err != nil {
		return err
	}
	return serr
}

func (e *Engine) Search(ctx context.Context, query string) (*api.SearchResults, error) {
	if e.session.Identity() == nil {
		return nil, ErrNoSession
	}
	return e.backend.Search(ctx, query)
}

// SelectFromSearch adds a placeholder summary for a search hit and returns
// the summary now in the directory.
func (e *Engine) SelectFromSearch(ctx context.Context, s domain.ConversationSummary) (domain.ConversationSummary, error) {
	var (
		out  domain.ConversationSummary
		serr error
	)
	err := e.do(ctx, func() {
		if !e.live {
			serr = ErrNoSession
			return
		}
		if !s.Key.Kind.Valid() {
			serr = domain.ErrInvalidKey
			return
		}
		out = e.directory.AddPlaceholder(s, e.now())
	})
	if err != nil {
		return out, err
	}
	return out, serr
}

// --- read accessors ---

func (e *Engine) Identity() *domain.Identity { return e.session.Identity() }

func (e *Engine) Conversations() []domain.ConversationSummary {
	var out []domain.ConversationSummary
	_ = e.do(context.Background(), func() { out = e.directory.List() })
	return out
}

func (e *Engine) Messages(key domain.ConversationKey) ([]domain.Message, bool) {
	var (
		out []domain.Message
		ok  bool
	)
	_ = e.do(context.Background(), func() { out, ok = e.cache.Messages(key) })
	return out, ok
}

func (e *Engine) HasMore(key domain.ConversationKey) bool {
	var ok bool
	_ = e.do(context.Background(), func() { ok = e.cache.HasMore(key) })
	return ok
}

func (e *Engine) Unread() []domain.UnreadEntry {
	var out []domain.UnreadEntry
	_ = e.do(context.Background(), func() { out = e.ledger.Entries() })
	return out
}

func (e *Engine) UnreadCount(key domain.ConversationKey) int {
	var n int
	_ = e.do(context.Background(), func() { n = e.ledger.Count(key) })
	return n
}

func (e *Engine) TotalUnread() int {
	var n int
	_ = e.do(context.Background(), func() { n = e.ledger.Total() })
	return n
}

func (e *Engine) Presence(key domain.ConversationKey) (domain.PresenceEntry, bool) {
	var (
		out domain.PresenceEntry
		ok  bool
	)
	_ = e.do(context.Background(), func() { out, ok = e.presence.Lookup(key) })
	return out, ok
}

func (e *Engine) Connected() bool {
	var up bool
	_ = e.do(context.Background(), func() { up = e.linkUp })
	return up
}

// --- event application ---

func (e *Engine) apply(evt ws.Event) {
	if !e.live {
		return
	}

	switch ev := evt.(type) {
	case ws.NewMessage:
		e.applyNewMessage(ev.Message)

	case ws.MessageAcknowledged:
		key := ev.Conversation.Key()
		e.cache.ReconcileAck(key, ev.TempID, ev.NewID, ev.Timestamp.Time)
		if !e.directory.ReconcileAck(key, ev.TempID, ev.NewID, ev.Timestamp.Time) && !key.IsZero() {
			e.directory.ReconcileAck(domain.ConversationKey{}, ev.TempID, ev.NewID, ev.Timestamp.Time)
		}
		e.ledger.Observe(ev.NewID)
		owner := e.self.Key().String()
		e.archiveDo(func(ctx context.Context, repo repository.ArchiveRepository) error {
			return repo.RewriteID(ctx, owner, ev.TempID, ev.NewID, ev.Timestamp.Time)
		})

	case ws.MessageDeleted:
		hint := ev.Conversation.Key()
		key, found := e.cache.ApplyDeletion(hint, ev.MessageID, e.self.IsPrivileged())
		if !found {
			key = hint
		}
		switch {
		case e.directory.ApplyDeletion(key, ev.MessageID):
		case found && e.cache.LastID(key) == ev.MessageID:
			e.directory.MarkLastDeleted(key)
		case !key.IsZero():
			e.directory.ApplyDeletion(domain.ConversationKey{}, ev.MessageID)
		}
		owner, redact := e.self.Key().String(), !e.self.IsPrivileged()
		e.archiveDo(func(ctx context.Context, repo repository.ArchiveRepository) error {
			return repo.MarkDeleted(ctx, owner, ev.MessageID, redact)
		})

	case ws.MessagesStatusUpdate:
		e.cache.MarkReadBy(ev.Reader.Key(), e.self)

	case ws.StatusUpdate:
		status := domain.NormalizeStatus(ev.Status)
		if e.cache.SetStatus(ev.MessageID, status) {
			owner := e.self.Key().String()
			e.archiveDo(func(ctx context.Context, repo repository.ArchiveRepository) error {
				return repo.SetStatus(ctx, owner, ev.MessageID, status)
			})
		}

	case ws.PresenceUpdate:
		e.presence.Update(ev.User.Key(), ev.Status, ev.Timestamp.Time)

	case ws.InitialPresenceState:
		snapshot := make(map[domain.ConversationKey]domain.PresenceEntry, len(ev.Users))
		for raw, p := range ev.Users {
			key, err := domain.ParseConversationKey(raw)
			if err != nil {
				e.log.Debug("skipping presence entry", zap.String("key", raw))
				continue
			}
			snapshot[key] = domain.PresenceEntry{Status: p.Status, LastSeen: p.LastSeen.Ptr()}
		}
		if !e.presence.Bulk(snapshot) {
			e.log.Debug("presence snapshot ignored, table already populated")
		}

	case ws.MemberRemoved:
		if ev.Type == string(domain.KindGroup) {
			e.directory.MarkRemoved(domain.ConversationKey{Kind: domain.KindGroup, ID: ev.ID})
		}

	case ws.ForceLogout:
		e.forceLogout(ev)
		return

	case ws.Unknown:
		e.log.Debug("ignoring unknown event", zap.String("event", ev.Event))
		return
	}

	e.metrics.EventApplied(evt.Name())
	e.syncGauges()
}

func (e *Engine) applyNewMessage(msg domain.Message) {
	key := msg.Key(e.self)
	if key.IsZero() {
		e.log.Warn("message with unresolvable conversation", zap.String("id", msg.ID))
		return
	}
	if !e.ledger.Observe(msg.ID) {
		e.log.Debug("duplicate message", zap.String("id", msg.ID))
		return
	}
	if msg.IsDeleted && !e.self.IsPrivileged() {
		msg.Redact()
	}

	name := msg.CounterpartyName(e.self)
	e.cache.Append(key, msg)
	e.directory.Touch(key, name, &msg)
	if !e.self.Is(msg.Sender) {
		if _, err := e.ledger.OnInbound(key, name, &msg); err != nil {
			e.log.Warn("instant read failed", zap.Stringer("key", key), zap.Error(err))
		}
	}
	e.archiveMessages(key, []domain.Message{msg})
}

func (e *Engine) archiveDo(job archiveJob) {
	if e.archive != nil {
		e.archive.enqueue(job)
	}
}

func (e *Engine) archiveMessages(key domain.ConversationKey, msgs []domain.Message) {
	if e.archive == nil || len(msgs) == 0 {
		return
	}
	owner := e.self.Key().String()
	batch := append([]domain.Message(nil), msgs...)
	e.archive.enqueue(func(ctx context.Context, repo repository.ArchiveRepository) error {
		for i := range batch {
			if err := repo.Save(ctx, owner, key, &batch[i]); err != nil {
				return fmt.Errorf("archiving %s: %w", batch[i].ID, err)
			}
		}
		return nil
	})
}

func (e *Engine) syncGauges() {
	e.metrics.SetUnread(e.ledger.Total())
	e.metrics.SetCached(e.cache.Len())
}
