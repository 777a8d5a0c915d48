package account

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

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
	"github.com/jwalitptl/account-api/pkg/security"
)

// OwnerSeed is the fixed owner account created on first boot when the
// directory is empty.
type OwnerSeed struct {
	Username string
	Password string
	Email    string
}

// Service is the operation surface consumed by UI callers. Every
// mutation is checked against the authorization engine and the
// subscription gate before it reaches the directory, and persisted
// through the bridge after it commits.
type Service struct {
	directory *directory.Directory
	bridge    *persist.Bridge
	sessions  *session.Manager
	authz     *authz.Engine
	gate      *subscription.Gate
	creds     *credential.Generator
	hasher    security.PasswordHasher
	emailSvc  email.Service
	validate  *validator.Validate
	log       *logger.Logger
	ownerSeed OwnerSeed
}

func NewService(
	dir *directory.Directory,
	bridge *persist.Bridge,
	sessions *session.Manager,
	engine *authz.Engine,
	gate *subscription.Gate,
	creds *credential.Generator,
	hasher security.PasswordHasher,
	emailSvc email.Service,
	log *logger.Logger,
	ownerSeed OwnerSeed,
) *Service {
	return &Service{
		directory: dir,
		bridge:    bridge,
		sessions:  sessions,
		authz:     engine,
		gate:      gate,
		creds:     creds,
		hasher:    hasher,
		emailSvc:  emailSvc,
		validate:  validator.New(),
		log:       log,
		ownerSeed: ownerSeed,
	}
}

// Startup restores the persisted session, hydrates the directory from
// the merged local/remote load, and seeds the owner account on a fresh
// install.
func (s *Service) Startup(ctx context.Context) error {
	if err := s.sessions.Start(ctx); err != nil {
		return err
	}

	accounts, err := s.bridge.Load(ctx, s.sessions.Token())
	if err != nil {
		return err
	}
	s.directory.Seed(accounts)

	if s.directory.Len() == 0 {
		return s.seedOwner(ctx)
	}
	return nil
}

func (s *Service) seedOwner(ctx context.Context) error {
	secret, err := s.hasher.Hash(s.ownerSeed.Password)
	if err != nil {
		return apperrors.Internal(err)
	}

	owner := &model.Account{
		Username:       s.ownerSeed.Username,
		PasswordSecret: secret,
		Email:          s.ownerSeed.Email,
		Role:           model.RoleOwner,
		Status:         model.StatusActive,
	}
	if err := s.directory.Create(ctx, owner); err != nil {
		return err
	}

	raw, err := s.directory.Raw(owner.Username)
	if err != nil {
		return err
	}
	if err := s.bridge.SaveAccount(ctx, raw); err != nil {
		return err
	}

	s.log.Info("seeded owner account", "username", owner.Username)
	return nil
}

// Login authenticates against the remote authority and rebuilds the
// directory with the fresh token.
func (s *Service) Login(ctx context.Context, username, password string) (*model.Session, error) {
	sess, err := s.sessions.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	accounts, err := s.bridge.Load(ctx, sess.Token)
	if err != nil {
		s.log.Error(err, "directory reload after login failed")
		return sess, nil
	}
	s.directory.Seed(accounts)
	return sess, nil
}

// Logout tears the session down; remote invalidation is best-effort.
func (s *Service) Logout(ctx context.Context) error {
	return s.sessions.Logout(ctx)
}

// CheckUserAccess verifies the current principal satisfies the required
// role. Returns nil when access is granted.
func (s *Service) CheckUserAccess(requiredRole string) error {
	principal := s.sessions.Principal()
	if principal == nil {
		return apperrors.Authentication("no active session", nil)
	}
	if !s.authz.CanAccessRole(principal, requiredRole) {
		return apperrors.Authorization("role " + requiredRole + " required")
	}
	return nil
}

// HasBusinessAccess reports whether the principal may touch the given
// tenant.
func (s *Service) HasBusinessAccess(principal *model.Account, businessID string) bool {
	return s.authz.HasBusinessAccess(principal, businessID)
}

// Principal returns the current session's account, or nil.
func (s *Service) Principal() *model.Account {
	return s.sessions.Principal()
}

// SessionState exposes the session state machine's current value.
func (s *Service) SessionState() model.SessionState {
	return s.sessions.State()
}

// GetAllUsers returns the full directory, secret-stripped. Owner only.
func (s *Service) GetAllUsers(ctx context.Context) ([]*model.Account, error) {
	if err := s.CheckUserAccess(model.RoleOwner); err != nil {
		return nil, err
	}
	return s.directory.List(model.AccountFilter{}), nil
}

// GetBusinessUsers returns every account scoped to the business, after
// a tenant-boundary check.
func (s *Service) GetBusinessUsers(ctx context.Context, businessID string) ([]*model.Account, error) {
	principal := s.sessions.Principal()
	if principal == nil {
		return nil, apperrors.Authentication("no active session", nil)
	}
	if !s.authz.HasBusinessAccess(principal, businessID) {
		return nil, apperrors.Authorization("business " + businessID + " is outside your tenant")
	}
	return s.directory.List(model.AccountFilter{BusinessID: businessID}), nil
}

// GetSubUsers returns the sub-user roster for an admin.
func (s *Service) GetSubUsers(ctx context.Context, adminUsername string) ([]*model.Account, error) {
	principal := s.sessions.Principal()
	if principal == nil {
		return nil, apperrors.Authentication("no active session", nil)
	}
	if principal.Role != model.RoleOwner && principal.Username != adminUsername {
		return nil, apperrors.Authorization("only the managing admin or the owner may list sub-users")
	}

	admin, err := s.directory.Get(adminUsername)
	if err != nil {
		return nil, err
	}
	if admin.Role != model.RoleAdmin {
		return nil, apperrors.Validation(adminUsername+" is not an admin account", nil)
	}
	return s.directory.List(model.AccountFilter{ManagedBy: adminUsername}), nil
}

// UpdateUserStatus transitions an account's status. The directory keeps
// the blocked quad consistent and announces the change; blocking the
// active principal therefore terminates its session via the event
// subscription, not a direct call.
func (s *Service) UpdateUserStatus(ctx context.Context, username, status, reason, blockedBy string) (*model.Account, error) {
	principal := s.sessions.Principal()
	if principal == nil {
		return nil, apperrors.Authentication("no active session", nil)
	}

	target, err := s.directory.Get(username)
	if err != nil {
		return nil, err
	}
	if err := s.canManage(principal, target); err != nil {
		return nil, err
	}
	if blockedBy == "" {
		blockedBy = principal.Username
	}

	updated, err := s.directory.SetStatus(ctx, username, status, reason, blockedBy)
	if err != nil {
		return nil, err
	}

	raw, err := s.directory.Raw(username)
	if err != nil {
		return nil, err
	}
	if err := s.bridge.UpdateStatus(ctx, s.sessions.Token(), raw, reason); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteUser removes an account via the delete protocol: invariants
// first, then remote (404 means local-only and is fine), then the
// local cache and directory.
func (s *Service) DeleteUser(ctx context.Context, username string) error {
	principal := s.sessions.Principal()
	if principal == nil {
		return apperrors.Authentication("no active session", nil)
	}

	target, err := s.directory.Get(username)
	if err != nil {
		return err
	}
	if err := s.canManage(principal, target); err != nil {
		return err
	}
	if err := s.directory.ValidateDelete(username); err != nil {
		return err
	}

	if err := s.bridge.Delete(ctx, s.sessions.Token(), username); err != nil {
		return err
	}
	if err := s.directory.Delete(ctx, username); err != nil {
		return err
	}

	// A sub-user delete shrinks its admin's roster; mirror that.
	if target.Role == model.RoleUser && target.ManagedBy != "" {
		admin, err := s.directory.Raw(target.ManagedBy)
		if err == nil {
			if saveErr := s.bridge.SaveAccount(ctx, admin); saveErr != nil {
				s.log.Error(saveErr, "failed to mirror admin roster", "admin", target.ManagedBy)
			}
		}
	}

	s.log.Info("account deleted", "username", username, "by", principal.Username)
	return nil
}

// AddNewAdminWithBusiness provisions an admin account, its business and
// initial subscription through the remote authority. Owner only. The
// credentials email is best-effort; creation succeeds without it.
func (s *Service) AddNewAdminWithBusiness(ctx context.Context, req *model.NewAdminRequest) (*model.CreateAdminResponse, error) {
	if err := s.CheckUserAccess(model.RoleOwner); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validation("invalid admin request", err)
	}

	resp, err := s.bridge.CreateAdmin(ctx, s.sessions.Token(), req)
	if err != nil {
		return nil, err
	}
	if err := s.directory.Create(ctx, resp.User); err != nil {
		return nil, err
	}

	if resp.Credentials != nil {
		if err := s.emailSvc.SendCredentials(ctx, req.Email, resp.Credentials.Username, resp.Credentials.Password); err != nil {
			s.log.Warn("credentials email failed", "to", req.Email, "error", err.Error())
		}
	}

	s.log.Info("admin provisioned", "username", resp.User.Username, "business", resp.User.BusinessID)
	return resp, nil
}

// AddSubUserToBusiness creates a sub-user under an admin: subscription
// gate first, then credential generation, then directory commit and
// local-only persistence (the authority does not track sub-users).
func (s *Service) AddSubUserToBusiness(ctx context.Context, adminUsername string, req *model.NewSubUserRequest) (*model.Account, *model.GeneratedCredentials, error) {
	principal := s.sessions.Principal()
	if principal == nil {
		return nil, nil, apperrors.Authentication("no active session", nil)
	}
	if principal.Role != model.RoleOwner && principal.Username != adminUsername {
		return nil, nil, apperrors.Authorization("only the managing admin or the owner may add sub-users")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, nil, apperrors.Validation("invalid sub-user request", err)
	}

	admin, err := s.directory.Get(adminUsername)
	if err != nil {
		return nil, nil, err
	}
	if admin.Role != model.RoleAdmin {
		return nil, nil, apperrors.Validation(adminUsername+" is not an admin account", nil)
	}
	if !s.gate.CanAddSubUser(admin) {
		return nil, nil, apperrors.SubscriptionInactive(adminUsername)
	}

	username, err := s.creds.GenerateUsername(req.FirstName, req.LastName, s.directory.Usernames())
	if err != nil {
		return nil, nil, err
	}
	password, err := s.creds.GeneratePassword(req.FirstName, req.LastName)
	if err != nil {
		return nil, nil, err
	}
	secret, err := s.hasher.Hash(password)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}

	creds := &model.GeneratedCredentials{
		Username:    username,
		Password:    password,
		GeneratedBy: principal.Username,
		GeneratedAt: time.Now(),
	}
	subUser := &model.Account{
		Username:       username,
		PasswordSecret: secret,
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Phone:          req.Phone,
		Role:           model.RoleUser,
		Status:         model.StatusActive,
		BusinessID:     admin.BusinessID,
		ManagedBy:      adminUsername,
		Credentials:    creds,
	}

	if err := s.directory.Create(ctx, subUser); err != nil {
		return nil, nil, err
	}

	rawSub, err := s.directory.Raw(username)
	if err != nil {
		return nil, nil, err
	}
	if err := s.bridge.SaveAccount(ctx, rawSub); err != nil {
		return nil, nil, err
	}
	rawAdmin, err := s.directory.Raw(adminUsername)
	if err != nil {
		return nil, nil, err
	}
	if err := s.bridge.SaveAccount(ctx, rawAdmin); err != nil {
		return nil, nil, err
	}

	if req.Email != "" {
		if err := s.emailSvc.SendCredentials(ctx, req.Email, username, password); err != nil {
			s.log.Warn("credentials email failed", "to", req.Email, "error", err.Error())
		}
	}

	s.log.Info("sub-user created", "username", username, "admin", adminUsername)
	return rawSub.Stripped(), creds, nil
}

// canManage enforces who may mutate whom: the owner manages every
// non-owner account; an admin manages only its own sub-users.
func (s *Service) canManage(principal, target *model.Account) error {
	if target.Role == model.RoleOwner {
		return apperrors.OwnerProtected("manage")
	}
	switch principal.Role {
	case model.RoleOwner:
		return nil
	case model.RoleAdmin:
		if target.Role == model.RoleUser && target.ManagedBy == principal.Username {
			return nil
		}
	}
	return apperrors.Authorization("account " + target.Username + " is outside your scope")
}
