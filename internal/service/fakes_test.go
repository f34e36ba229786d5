package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/transport/http/api"
	"github.com/vedran77/pulsesync/internal/transport/ws"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []any
	err  error
}

func (f *fakeSender) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSender) Sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

// readsSent returns the messages_read payloads sent so far.
func (f *fakeSender) readsSent() []ws.MessagesReadPayload {
	var out []ws.MessagesReadPayload
	for _, v := range f.Sent() {
		if p, ok := v.(ws.MessagesReadPayload); ok {
			out = append(out, p)
		}
	}
	return out
}

type fakeTransport struct {
	fakeSender
	events      chan ws.Event
	interrupts  chan ws.ForceLogout
	closed      chan error
	connectErr  error
	connects    atomic.Int32
	disconnects atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:     make(chan ws.Event, 64),
		interrupts: make(chan ws.ForceLogout, 1),
		closed:     make(chan error, 1),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects.Add(1)
	return nil
}

func (f *fakeTransport) Disconnect()                       { f.disconnects.Add(1) }
func (f *fakeTransport) Events() <-chan ws.Event           { return f.events }
func (f *fakeTransport) Interrupts() <-chan ws.ForceLogout { return f.interrupts }
func (f *fakeTransport) Closed() <-chan error              { return f.closed }

type fakeBackend struct {
	mu sync.Mutex

	identity *domain.Identity
	meErr    error
	loginErr error
	logins   []api.LoginInput
	logouts  int

	refreshErr error
	refreshes  int
	expiry     time.Time

	convs  []domain.ConversationSummary
	unread []domain.UnreadEntry
	// snapshotGate, when set, holds Conversations until closed.
	snapshotGate chan struct{}

	pages       map[domain.ConversationKey]*api.MessagePage
	olderPages  map[string]*api.MessagePage
	messagesErr error
	messageGate chan struct{}
	fetches     []*string

	pinErr error
	pinned []string

	search *api.SearchResults
}

func newFakeBackend(id *domain.Identity) *fakeBackend {
	return &fakeBackend{
		identity:   id,
		pages:      make(map[domain.ConversationKey]*api.MessagePage),
		olderPages: make(map[string]*api.MessagePage),
	}
}

func (f *fakeBackend) Login(ctx context.Context, in api.LoginInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, in)
	return f.loginErr
}

func (f *fakeBackend) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func (f *fakeBackend) Me(ctx context.Context) (*domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.meErr != nil {
		return nil, f.meErr
	}
	if f.identity == nil {
		return nil, &api.StatusError{Code: 401, Detail: "Not authenticated"}
	}
	id := *f.identity
	return &id, nil
}

func (f *fakeBackend) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeBackend) TokenExpiry() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expiry, !f.expiry.IsZero()
}

func (f *fakeBackend) Conversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	f.mu.Lock()
	gate := f.snapshotGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ConversationSummary(nil), f.convs...), nil
}

func (f *fakeBackend) NotificationSummary(ctx context.Context) ([]domain.UnreadEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.UnreadEntry(nil), f.unread...), nil
}

func (f *fakeBackend) Messages(ctx context.Context, key domain.ConversationKey, limit int, before *string) (*api.MessagePage, error) {
	f.mu.Lock()
	gate := f.messageGate
	f.fetches = append(f.fetches, before)
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messagesErr != nil {
		return nil, f.messagesErr
	}
	var page *api.MessagePage
	if before != nil {
		page = f.olderPages[*before]
	} else {
		page = f.pages[key]
	}
	if page == nil {
		return &api.MessagePage{}, nil
	}
	return &api.MessagePage{
		Messages:   append([]domain.Message(nil), page.Messages...),
		NextCursor: page.NextCursor,
	}, nil
}

func (f *fakeBackend) Pin(ctx context.Context, key domain.ConversationKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pinErr != nil {
		return f.pinErr
	}
	f.pinned = append(f.pinned, "pin:"+key.String())
	return nil
}

func (f *fakeBackend) Unpin(ctx context.Context, key domain.ConversationKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pinErr != nil {
		return f.pinErr
	}
	f.pinned = append(f.pinned, "unpin:"+key.String())
	return nil
}

func (f *fakeBackend) Search(ctx context.Context, query string) (*api.SearchResults, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.search == nil {
		return &api.SearchResults{}, nil
	}
	return f.search, nil
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeBackend) logoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logouts
}

// --- fixtures ---

var (
	alice = domain.Identity{ID: 1, Username: "alice", Role: domain.RoleUser}
	root  = domain.Identity{ID: 9, Username: "root", Role: domain.RoleAdmin}

	bobKey   = domain.ConversationKey{Kind: domain.KindUser, ID: 42}
	carolKey = domain.ConversationKey{Kind: domain.KindAdmin, ID: 7}
	teamKey  = domain.ConversationKey{Kind: domain.KindGroup, ID: 3}

	bob = domain.Participant{ID: 42, Username: "bob", Role: domain.RoleUser}
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return epoch.Add(time.Duration(minutes) * time.Minute)
}

func strPtr(s string) *string { return &s }

// inbound builds a private message from bob to alice.
func inbound(id, text string, minute int) domain.Message {
	me := alice.Participant()
	return domain.Message{
		ID:        id,
		Type:      domain.MessageTypePrivate,
		Sender:    bob,
		Receiver:  &me,
		Content:   domain.TextContent(text),
		Timestamp: domain.Timestamp{Time: at(minute)},
		Status:    domain.StatusSent,
	}
}

// outbound builds a private message from alice to bob.
func outbound(id, text string, minute int) domain.Message {
	to := bob
	return domain.Message{
		ID:        id,
		Type:      domain.MessageTypePrivate,
		Sender:    alice.Participant(),
		Receiver:  &to,
		Content:   domain.TextContent(text),
		Timestamp: domain.Timestamp{Time: at(minute)},
		Status:    domain.StatusSent,
	}
}

func groupMessage(id, text string, from domain.Participant, minute int) domain.Message {
	return domain.Message{
		ID:        id,
		Type:      domain.MessageTypeGroup,
		Sender:    from,
		Group:     &domain.GroupRef{ID: teamKey.ID, Name: "team"},
		Content:   domain.TextContent(text),
		Timestamp: domain.Timestamp{Time: at(minute)},
		Status:    domain.StatusSent,
	}
}

func summary(key domain.ConversationKey, name string, minute int, pinned bool) domain.ConversationSummary {
	return domain.ConversationSummary{
		Key:           key,
		DisplayName:   name,
		LastMessageAt: at(minute),
		Pinned:        pinned,
		MemberActive:  true,
	}
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func keys(list []domain.ConversationSummary) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.Key.String()
	}
	return out
}
