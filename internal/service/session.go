package service

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/transport/http/api"
	"github.com/vedran77/pulsesync/pkg/validator"
)

const (
	loginPath     = "/login"
	logoutTimeout = 5 * time.Second
)

type SessionBackend interface {
	Login(ctx context.Context, input api.LoginInput) error
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*domain.Identity, error)
}

// SessionStore holds the authenticated identity. It is read from several
// goroutines (refresher, CLI), so unlike the other components it locks.
type SessionStore struct {
	backend SessionBackend
	log     *zap.Logger

	mu       sync.RWMutex
	identity *domain.Identity
	loading  bool
	teardown []func()
	redirect func(target string)

	pending sync.WaitGroup
}

func NewSessionStore(backend SessionBackend, logger *zap.Logger) *SessionStore {
	return &SessionStore{backend: backend, log: logger}
}

// OnTeardown registers fn to run on every logout, after the identity is cleared.
func (s *SessionStore) OnTeardown(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown = append(s.teardown, fn)
}

// SetRedirect sets the callback that receives the post-logout entry point.
func (s *SessionStore) SetRedirect(fn func(target string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirect = fn
}

func (s *SessionStore) Identity() *domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

func (s *SessionStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Probe asks the server who the cookie session belongs to.
func (s *SessionStore) Probe(ctx context.Context) (*domain.Identity, error) {
	s.setLoading(true)
	defer s.setLoading(false)

	id, err := s.backend.Me(ctx)
	if err != nil {
		s.setIdentity(nil)
		return nil, err
	}
	s.setIdentity(id)
	return s.Identity(), nil
}

// Login posts the credentials and then fetches the identity. It only
// returns once the identity is stored, so role checks never see a stale value.
func (s *SessionStore) Login(ctx context.Context, username, password string) (*domain.Identity, error) {
	if errs := validator.ValidateLogin(username, password); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, errs)
	}

	if err := s.backend.Login(ctx, api.LoginInput{Username: username, Password: password}); err != nil {
		return nil, err
	}
	id, err := s.Probe(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching identity after login: %w", err)
	}
	s.log.Info("logged in", zap.String("username", id.Username), zap.String("role", string(id.Role)))
	return id, nil
}

// Logout clears the identity, runs teardown hooks and redirects. Server-side
// invalidation runs in the background and its failure is only logged.
// Calling Logout again repeats the same steps harmlessly.
func (s *SessionStore) Logout(reason string) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
		defer cancel()
		if err := s.backend.Logout(ctx); err != nil {
			s.log.Debug("server logout failed", zap.Error(err))
		}
	}()

	s.mu.Lock()
	had := s.identity != nil
	s.identity = nil
	hooks := append([]func(){}, s.teardown...)
	redirect := s.redirect
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	if had {
		s.log.Info("logged out", zap.String("reason", reason))
	}
	if redirect != nil {
		redirect(RedirectTarget(reason))
	}
}

// Wait blocks until background logout requests finish.
func (s *SessionStore) Wait() {
	s.pending.Wait()
}

// RedirectTarget is the entry point shown after logout, carrying the reason
// for display when there is one.
func RedirectTarget(reason string) string {
	if reason == "" {
		return loginPath
	}
	return loginPath + "?reason=" + url.QueryEscape(reason)
}

func (s *SessionStore) setIdentity(id *domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
}

func (s *SessionStore) setLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = v
}
