package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/account-api/internal/model"
	apperrors "github.com/jwalitptl/account-api/pkg/errors"
	"github.com/jwalitptl/account-api/pkg/logger"
	"github.com/jwalitptl/account-api/pkg/messaging"
)

// SessionStore persists the single current-session record.
type SessionStore interface {
	SaveSession(ctx context.Context, session *model.Session) error
	LoadSession(ctx context.Context) (*model.Session, error)
	ClearSession(ctx context.Context) error
}

// Authority is the remote side of login, logout and token verification.
type Authority interface {
	Login(ctx context.Context, username, password string) (*model.LoginResponse, error)
	Logout(ctx context.Context, token string) error
	Verify(ctx context.Context, token string) (*model.Account, error)
}

// Manager owns the current session and its state machine:
// Unauthenticated -> Verifying -> Authenticated, with every terminal
// transition looping back to Unauthenticated. Verification failure of
// any kind clears persisted state rather than leaving it ambiguous.
type Manager struct {
	store  SessionStore
	remote Authority
	log    *logger.Logger

	mu      sync.RWMutex
	state   model.SessionState
	current *model.Session
}

func NewManager(store SessionStore, remote Authority, log *logger.Logger) *Manager {
	return &Manager{
		store:  store,
		remote: remote,
		log:    log,
		state:  model.StateUnauthenticated,
	}
}

// Start restores a persisted session at process start. A persisted token
// moves the machine to Verifying and is checked against the authority;
// the principal's status is refreshed from the answer. Any failure
// clears the persisted session and lands in Unauthenticated.
func (m *Manager) Start(ctx context.Context) error {
	persisted, err := m.store.LoadSession(ctx)
	if err != nil {
		return err
	}
	if persisted == nil || persisted.Token == "" {
		m.setState(model.StateUnauthenticated, nil)
		return nil
	}

	m.setState(model.StateVerifying, nil)

	if tokenExpired(persisted.Token) {
		m.log.Info("persisted session token expired, clearing session")
		return m.clear(ctx)
	}

	account, err := m.remote.Verify(ctx, persisted.Token)
	if err != nil {
		m.log.Info("session verification failed, clearing session", "error", err.Error())
		return m.clear(ctx)
	}

	session := &model.Session{
		Principal: account.Stripped(),
		Token:     persisted.Token,
		IssuedAt:  persisted.IssuedAt,
	}
	if err := m.store.SaveSession(ctx, session); err != nil {
		return err
	}
	m.setState(model.StateAuthenticated, session)
	return nil
}

// Login exchanges credentials with the authority. On success the session
// is persisted and the machine moves to Authenticated; on failure any
// partial state is cleared and the error propagates.
func (m *Manager) Login(ctx context.Context, username, password string) (*model.Session, error) {
	if username == "" || password == "" {
		return nil, apperrors.Validation("username and password are required", nil)
	}

	resp, err := m.remote.Login(ctx, username, password)
	if err != nil {
		if clearErr := m.clear(ctx); clearErr != nil {
			m.log.Error(clearErr, "failed to clear session after login failure")
		}
		return nil, err
	}

	if resp.User.Status == model.StatusBlocked {
		if clearErr := m.clear(ctx); clearErr != nil {
			m.log.Error(clearErr, "failed to clear session for blocked principal")
		}
		return nil, apperrors.Authentication("account is blocked", nil)
	}

	session := &model.Session{
		Principal: resp.User.Stripped(),
		Token:     resp.Token,
		IssuedAt:  time.Now(),
	}
	if err := m.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	m.setState(model.StateAuthenticated, session)
	m.log.Info("session established", "username", session.Principal.Username)
	return session, nil
}

// Logout invalidates the token remotely on a best-effort basis; local
// cleanup happens unconditionally.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()

	if current != nil {
		if err := m.remote.Logout(ctx, current.Token); err != nil {
			m.log.Warn("remote logout failed", "error", err.Error())
		}
	}
	return m.clear(ctx)
}

// Watch consumes account status events and tears the session down when
// the active principal is blocked. Runs until ctx is cancelled or the
// broker channel closes.
func (m *Manager) Watch(ctx context.Context, broker messaging.Broker) error {
	events, err := broker.Subscribe(ctx, model.StatusChangedChannel)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-events:
				if !ok {
					return
				}
				var event model.AccountStatusChanged
				if err := json.Unmarshal(payload, &event); err != nil {
					m.log.Warn("dropping malformed status event", "error", err.Error())
					continue
				}
				m.handleStatusChange(ctx, event)
			}
		}
	}()
	return nil
}

func (m *Manager) handleStatusChange(ctx context.Context, event model.AccountStatusChanged) {
	if event.NewStatus != model.StatusBlocked {
		return
	}

	m.mu.RLock()
	active := m.current != nil && m.current.Principal.Username == event.Username
	m.mu.RUnlock()
	if !active {
		return
	}

	m.log.Info("active principal blocked, terminating session",
		"username", event.Username, "blocked_by", event.ChangedBy)
	if err := m.Logout(ctx); err != nil {
		m.log.Error(err, "forced logout failed")
	}
}

// State returns the current machine state.
func (m *Manager) State() model.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Current returns the active session, or nil when unauthenticated.
func (m *Manager) Current() *model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Principal returns the authenticated account, or nil.
func (m *Manager) Principal() *model.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	return m.current.Principal
}

// Token returns the session token, or "" when unauthenticated.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.Token
}

func (m *Manager) clear(ctx context.Context) error {
	m.setState(model.StateUnauthenticated, nil)
	return m.store.ClearSession(ctx)
}

func (m *Manager) setState(state model.SessionState, session *model.Session) {
	m.mu.Lock()
	m.state = state
	m.current = session
	m.mu.Unlock()
}

// tokenExpired pre-checks a JWT's exp claim without verifying the
// signature; verification stays with the authority. Opaque tokens skip
// the check.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
