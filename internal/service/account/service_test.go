package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/account-api/internal/authz"
	"github.com/jwalitptl/account-api/internal/credential"
	"github.com/jwalitptl/account-api/internal/directory"
	"github.com/jwalitptl/account-api/internal/email"
	"github.com/jwalitptl/account-api/internal/model"
	"github.com/jwalitptl/account-api/internal/persist"
	"github.com/jwalitptl/account-api/internal/session"
	"github.com/jwalitptl/account-api/internal/subscription"
	apperrors "github.com/jwalitptl/account-api/pkg/errors"
	"github.com/jwalitptl/account-api/pkg/logger"
	"github.com/jwalitptl/account-api/pkg/messaging"
	"github.com/jwalitptl/account-api/pkg/security"
)

// fakeStore backs both the persistence bridge and the session manager
// with plain maps.
type fakeStore struct {
	accounts map[string]*model.Account
	order    []string
	session  *model.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[string]*model.Account)}
}

func (s *fakeStore) LoadAccounts(ctx context.Context) ([]*model.Account, error) {
	out := make([]*model.Account, 0, len(s.order))
	for _, u := range s.order {
		out = append(out, s.accounts[u])
	}
	return out, nil
}

func (s *fakeStore) SaveAccount(ctx context.Context, account *model.Account) error {
	if _, ok := s.accounts[account.Username]; !ok {
		s.order = append(s.order, account.Username)
	}
	copied := *account
	s.accounts[account.Username] = &copied
	return nil
}

func (s *fakeStore) DeleteAccount(ctx context.Context, username string) error {
	if _, ok := s.accounts[username]; ok {
		delete(s.accounts, username)
		for i, u := range s.order {
			if u == username {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (s *fakeStore) ReplaceAccounts(ctx context.Context, accounts []*model.Account) error {
	s.accounts = make(map[string]*model.Account)
	s.order = nil
	for _, a := range accounts {
		if err := s.SaveAccount(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStore) SaveSession(ctx context.Context, sess *model.Session) error {
	s.session = sess
	return nil
}

func (s *fakeStore) LoadSession(ctx context.Context) (*model.Session, error) {
	return s.session, nil
}

func (s *fakeStore) ClearSession(ctx context.Context) error {
	s.session = nil
	return nil
}

// fakeRemote stands in for the remote authority on both the bridge and
// the session side.
type fakeRemote struct {
	accounts    []*model.Account
	loginUser   *model.Account
	loginErr    error
	deleteErr   error
	deleted     []string
	statusCalls int
}

func (r *fakeRemote) Login(ctx context.Context, username, password string) (*model.LoginResponse, error) {
	if r.loginErr != nil {
		return nil, r.loginErr
	}
	return &model.LoginResponse{Token: "tok-1", User: r.loginUser}, nil
}

func (r *fakeRemote) Logout(ctx context.Context, token string) error { return nil }

func (r *fakeRemote) Verify(ctx context.Context, token string) (*model.Account, error) {
	if r.loginUser == nil {
		return nil, apperrors.Authentication("unknown token", nil)
	}
	return r.loginUser, nil
}

func (r *fakeRemote) ListAccounts(ctx context.Context, token string) ([]*model.Account, error) {
	return r.accounts, nil
}

func (r *fakeRemote) CreateAdmin(ctx context.Context, token string, req *model.NewAdminRequest) (*model.CreateAdminResponse, error) {
	admin := &model.Account{
		Username:   "gen." + req.FirstName,
		Email:      req.Email,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Role:       model.RoleAdmin,
		Status:     model.StatusActive,
		BusinessID: "biz-new",
	}
	r.accounts = append(r.accounts, admin)
	return &model.CreateAdminResponse{
		User:     admin,
		Business: &model.Business{ID: "biz-new", Name: req.BusinessName},
		Subscription: &model.Subscription{
			Plan:         "standard",
			Status:       model.SubscriptionActive,
			BillingCycle: model.BillingMonthly,
			StartDate:    time.Now(),
		},
		Credentials: &model.GeneratedCredentials{Username: "gen." + req.FirstName, Password: "Xy7#generated"},
	}, nil
}

func (r *fakeRemote) UpdateStatus(ctx context.Context, token, username, status, reason string) error {
	r.statusCalls++
	return nil
}

func (r *fakeRemote) DeleteAccount(ctx context.Context, token, username string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.deleted = append(r.deleted, username)
	return nil
}

type harness struct {
	svc    *Service
	store  *fakeStore
	remote *fakeRemote
	broker *messaging.MemoryBroker
	dir    *directory.Directory
	mgr    *session.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NewLogger(nil)
	store := newFakeStore()
	remote := &fakeRemote{}
	broker := messaging.NewMemoryBroker()
	dir := directory.New(broker, log)
	bridge := persist.NewBridge(store, remote, log)
	mgr := session.NewManager(store, remote, log)

	svc := NewService(
		dir,
		bridge,
		mgr,
		authz.NewEngine(),
		subscription.NewGate(),
		credential.NewGenerator(),
		security.NewBcryptHasher(4),
		email.NewNoopService(log),
		log,
		OwnerSeed{Username: "root", Password: "rootpass123", Email: "root@example.com"},
	)
	return &harness{svc: svc, store: store, remote: remote, broker: broker, dir: dir, mgr: mgr}
}

func activeSubscription() *model.Subscription {
	return &model.Subscription{
		Plan:         "standard",
		Status:       model.SubscriptionActive,
		BillingCycle: model.BillingMonthly,
		StartDate:    time.Now(),
	}
}

// loginAs authenticates the given account; the roster arrives via the
// remote list so the post-login directory reload carries it.
func (h *harness) loginAs(t *testing.T, principal *model.Account, roster ...*model.Account) {
	t.Helper()
	h.remote.loginUser = principal
	h.remote.accounts = append([]*model.Account{principal}, roster...)
	_, err := h.svc.Login(context.Background(), principal.Username, "whatever123")
	require.NoError(t, err)
}

func TestStartupSeedsOwnerOnFreshInstall(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.svc.Startup(context.Background()))

	assert.Equal(t, 1, h.dir.Len())
	owner := h.dir.Owner()
	require.NotNil(t, owner)
	assert.Equal(t, "root", owner.Username)
	assert.Equal(t, model.RoleOwner, owner.Role)

	persisted, ok := h.store.accounts["root"]
	require.True(t, ok)
	assert.NotEmpty(t, persisted.PasswordSecret, "owner secret must be hashed and cached")
	assert.NotEqual(t, "rootpass123", persisted.PasswordSecret)
}

func TestStartupSkipsSeedWhenDirectoryPopulated(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveAccount(context.Background(), &model.Account{
		Username: "existing-owner", Role: model.RoleOwner, Status: model.StatusActive,
	}))

	require.NoError(t, h.svc.Startup(context.Background()))

	assert.Equal(t, 1, h.dir.Len())
	assert.Equal(t, "existing-owner", h.dir.Owner().Username)
}

func TestCheckUserAccess(t *testing.T) {
	h := newHarness(t)

	t.Run("no session", func(t *testing.T) {
		err := h.svc.CheckUserAccess(model.RoleUser)
		assert.True(t, apperrors.Is(err, apperrors.ErrAuthentication))
	})

	t.Run("admin cannot act as owner", func(t *testing.T) {
		h.loginAs(t, &model.Account{
			Username: "ann", Role: model.RoleAdmin, BusinessID: "biz-1", Status: model.StatusActive,
		})
		assert.True(t, apperrors.Is(h.svc.CheckUserAccess(model.RoleOwner), apperrors.ErrAuthorization))
		assert.NoError(t, h.svc.CheckUserAccess(model.RoleUser))
	})
}

func TestGetAllUsersOwnerOnly(t *testing.T) {
	h := newHarness(t)
	h.loginAs(t, &model.Account{
		Username: "ann", Role: model.RoleAdmin, BusinessID: "biz-1", Status: model.StatusActive,
	})

	_, err := h.svc.GetAllUsers(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrAuthorization))
}

func TestAddNewAdminWithBusiness(t *testing.T) {
	h := newHarness(t)
	h.loginAs(t, &model.Account{Username: "root", Role: model.RoleOwner, Status: model.StatusActive})

	req := &model.NewAdminRequest{
		FirstName:    "Grace",
		LastName:     "Hopper",
		Email:        "grace@example.com",
		Phone:        "555-0100",
		BusinessName: "Grace Salon",
		BusinessType: "salon",
	}
	resp, err := h.svc.AddNewAdminWithBusiness(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.User)
	assert.Equal(t, model.RoleAdmin, resp.User.Role)
	assert.Equal(t, "biz-new", resp.User.BusinessID)
	require.NotNil(t, resp.Credentials)

	// Round-trip through the tenant listing.
	users, err := h.svc.GetBusinessUsers(context.Background(), "biz-new")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, resp.User.Username, users[0].Username)
	assert.Empty(t, users[0].PasswordSecret)

	t.Run("invalid payload rejected", func(t *testing.T) {
		_, err := h.svc.AddNewAdminWithBusiness(context.Background(), &model.NewAdminRequest{FirstName: "x"})
		assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	})
}

func TestAddSubUserToBusiness(t *testing.T) {
	admin := func(sub *model.Subscription) *model.Account {
		return &model.Account{
			Username: "ann", Role: model.RoleAdmin, BusinessID: "biz-1",
			Status: model.StatusActive, Subscription: sub,
		}
	}
	req := &model.NewSubUserRequest{FirstName: "Bob", LastName: "Stone", Email: "bob@example.com"}

	t.Run("inactive subscription gated", func(t *testing.T) {
		h := newHarness(t)
		h.loginAs(t, admin(&model.Subscription{Status: model.SubscriptionSuspended}))

		_, _, err := h.svc.AddSubUserToBusiness(context.Background(), "ann", req)
		assert.True(t, apperrors.Is(err, apperrors.ErrSubscriptionInactive))
	})

	t.Run("active subscription creates scoped sub-user", func(t *testing.T) {
		h := newHarness(t)
		h.loginAs(t, admin(activeSubscription()))

		sub, creds, err := h.svc.AddSubUserToBusiness(context.Background(), "ann", req)
		require.NoError(t, err)

		assert.Equal(t, "bob.stone", sub.Username)
		assert.Equal(t, model.RoleUser, sub.Role)
		assert.Equal(t, "biz-1", sub.BusinessID)
		assert.Equal(t, "ann", sub.ManagedBy)
		assert.Empty(t, sub.PasswordSecret, "returned account must be stripped")
		require.NotNil(t, creds)
		assert.Len(t, creds.Password, 12)

		// Both the sub-user and the admin's grown roster are cached.
		cachedSub, ok := h.store.accounts["bob.stone"]
		require.True(t, ok)
		assert.NotEmpty(t, cachedSub.PasswordSecret)
		cachedAdmin, ok := h.store.accounts["ann"]
		require.True(t, ok)
		assert.Contains(t, cachedAdmin.SubUsers, "bob.stone")
	})

	t.Run("another admin cannot add for ann", func(t *testing.T) {
		h := newHarness(t)
		ann := admin(activeSubscription())
		h.loginAs(t, &model.Account{
			Username: "eve", Role: model.RoleAdmin, BusinessID: "biz-2",
			Status: model.StatusActive, Subscription: activeSubscription(),
		}, ann)

		_, _, err := h.svc.AddSubUserToBusiness(context.Background(), "ann", req)
		assert.True(t, apperrors.Is(err, apperrors.ErrAuthorization))
	})
}

func TestDeleteUser(t *testing.T) {
	owner := &model.Account{Username: "root", Role: model.RoleOwner, Status: model.StatusActive}

	t.Run("owner account protected", func(t *testing.T) {
		h := newHarness(t)
		h.loginAs(t, owner)

		err := h.svc.DeleteUser(context.Background(), "root")
		assert.True(t, apperrors.Is(err, apperrors.ErrOwnerProtected))
	})

	t.Run("admin with roster rejected", func(t *testing.T) {
		h := newHarness(t)
		h.loginAs(t, owner,
			&model.Account{Username: "ann", Role: model.RoleAdmin, BusinessID: "biz-1", Status: model.StatusActive},
			&model.Account{Username: "bob", Role: model.RoleUser, BusinessID: "biz-1", ManagedBy: "ann", Status: model.StatusActive},
		)

		err := h.svc.DeleteUser(context.Background(), "ann")
		assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
		assert.Empty(t, h.remote.deleted, "remote must not be called when invariants fail")
	})

	t.Run("remote 404 proceeds locally", func(t *testing.T) {
		h := newHarness(t)
		h.loginAs(t, owner,
			&model.Account{Username: "ann", Role: model.RoleAdmin, BusinessID: "biz-1", Status: model.StatusActive},
			&model.Account{Username: "bob", Role: model.RoleUser, BusinessID: "biz-1", ManagedBy: "ann", Status: model.StatusActive},
		)
		h.remote.deleteErr = apperrors.NotFound("account", nil)

		require.NoError(t, h.svc.DeleteUser(context.Background(), "bob"))
		_, err := h.dir.Get("bob")
		assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	})

	t.Run("remote outage aborts", func(t *testing.T) {
		h := newHarness(t)
		h.loginAs(t, owner,
			&model.Account{Username: "ann", Role: model.RoleAdmin, BusinessID: "biz-1", Status: model.StatusActive},
			&model.Account{Username: "bob", Role: model.RoleUser, BusinessID: "biz-1", ManagedBy: "ann", Status: model.StatusActive},
		)
		h.remote.deleteErr = apperrors.RemoteUnavailable(errors.New("connection refused"))

		err := h.svc.DeleteUser(context.Background(), "bob")
		assert.True(t, apperrors.Is(err, apperrors.ErrRemoteUnavailable))
		_, getErr := h.dir.Get("bob")
		assert.NoError(t, getErr, "account must survive an aborted delete")
	})

	t.Run("admin scoped to own roster", func(t *testing.T) {
		h := newHarness(t)
		h.loginAs(t,
			&model.Account{Username: "ann", Role: model.RoleAdmin, BusinessID: "biz-1", Status: model.StatusActive},
			&model.Account{Username: "eve", Role: model.RoleAdmin, BusinessID: "biz-2", Status: model.StatusActive},
			&model.Account{Username: "mia", Role: model.RoleUser, BusinessID: "biz-2", ManagedBy: "eve", Status: model.StatusActive},
		)

		err := h.svc.DeleteUser(context.Background(), "mia")
		assert.True(t, apperrors.Is(err, apperrors.ErrAuthorization))
	})
}

func TestUpdateUserStatus(t *testing.T) {
	ann := &model.Account{
		Username: "ann", Role: model.RoleAdmin, BusinessID: "biz-1", Status: model.StatusActive,
	}

	t.Run("owner blocks admin", func(t *testing.T) {
		h := newHarness(t)
		annCopy := *ann
		h.loginAs(t, &model.Account{Username: "root", Role: model.RoleOwner, Status: model.StatusActive}, &annCopy)

		updated, err := h.svc.UpdateUserStatus(context.Background(), "ann", model.StatusBlocked, "policy violation", "")
		require.NoError(t, err)
		assert.True(t, updated.Blocked)
		require.NotNil(t, updated.BlockedBy)
		assert.Equal(t, "root", *updated.BlockedBy)
		require.NotNil(t, updated.BlockedReason)
		assert.Equal(t, "policy violation", *updated.BlockedReason)
		require.NotNil(t, updated.BlockedAt)
		assert.Equal(t, 1, h.remote.statusCalls, "admin transitions must reach the authority")

		cached, ok := h.store.accounts["ann"]
		require.True(t, ok)
		assert.Equal(t, model.StatusBlocked, cached.Status)
	})

	t.Run("admin cannot touch another admin", func(t *testing.T) {
		h := newHarness(t)
		annCopy := *ann
		h.loginAs(t, &model.Account{
			Username: "eve", Role: model.RoleAdmin, BusinessID: "biz-2", Status: model.StatusActive,
		}, &annCopy)

		_, err := h.svc.UpdateUserStatus(context.Background(), "ann", model.StatusBlocked, "spite", "")
		assert.True(t, apperrors.Is(err, apperrors.ErrAuthorization))
	})

	t.Run("unblock clears the quad", func(t *testing.T) {
		h := newHarness(t)
		blocked := *ann
		now := time.Now()
		by, reason := "root", "policy violation"
		blocked.Status = model.StatusBlocked
		blocked.Blocked = true
		blocked.BlockedBy = &by
		blocked.BlockedAt = &now
		blocked.BlockedReason = &reason
		h.loginAs(t, &model.Account{Username: "root", Role: model.RoleOwner, Status: model.StatusActive}, &blocked)

		updated, err := h.svc.UpdateUserStatus(context.Background(), "ann", model.StatusActive, "", "")
		require.NoError(t, err)
		assert.False(t, updated.Blocked)
		assert.Nil(t, updated.BlockedBy)
		assert.Nil(t, updated.BlockedAt)
		assert.Nil(t, updated.BlockedReason)
	})
}

// A block committed elsewhere (another process, fanned out over the
// broker) must end the active principal's session here.
func TestBlockEventForcesLogout(t *testing.T) {
	h := newHarness(t)
	h.loginAs(t, &model.Account{
		Username: "ann", Role: model.RoleAdmin, BusinessID: "biz-1", Status: model.StatusActive,
	})
	require.Equal(t, model.StateAuthenticated, h.mgr.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.mgr.Watch(ctx, h.broker))

	require.NoError(t, h.broker.Publish(context.Background(), model.StatusChangedChannel, model.AccountStatusChanged{
		Username:  "ann",
		OldStatus: model.StatusActive,
		NewStatus: model.StatusBlocked,
		Reason:    "policy violation",
		ChangedBy: "root",
		ChangedAt: time.Now(),
	}))

	assert.Eventually(t, func() bool {
		return h.mgr.State() == model.StateUnauthenticated
	}, 2*time.Second, 10*time.Millisecond, "blocking the active principal must end its session")
}

func TestGetSubUsersScope(t *testing.T) {
	h := newHarness(t)
	h.loginAs(t,
		&model.Account{Username: "eve", Role: model.RoleAdmin, BusinessID: "biz-2", Status: model.StatusActive},
		&model.Account{Username: "ann", Role: model.RoleAdmin, BusinessID: "biz-1", Status: model.StatusActive},
		&model.Account{Username: "bob", Role: model.RoleUser, BusinessID: "biz-1", ManagedBy: "ann", Status: model.StatusActive},
	)

	_, err := h.svc.GetSubUsers(context.Background(), "ann")
	assert.True(t, apperrors.Is(err, apperrors.ErrAuthorization))
}
