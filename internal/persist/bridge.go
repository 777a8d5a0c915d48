package persist

import (
	"context"

	"github.com/jwalitptl/account-api/internal/model"
	apperrors "github.com/jwalitptl/account-api/pkg/errors"
	"github.com/jwalitptl/account-api/pkg/logger"
)

// LocalStore is the durable process-local cache of the directory.
type LocalStore interface {
	LoadAccounts(ctx context.Context) ([]*model.Account, error)
	SaveAccount(ctx context.Context, account *model.Account) error
	DeleteAccount(ctx context.Context, username string) error
	ReplaceAccounts(ctx context.Context, accounts []*model.Account) error
}

// RemoteAuthority is the backend that owns admin provisioning and the
// authoritative account list.
type RemoteAuthority interface {
	ListAccounts(ctx context.Context, token string) ([]*model.Account, error)
	CreateAdmin(ctx context.Context, token string, req *model.NewAdminRequest) (*model.CreateAdminResponse, error)
	UpdateStatus(ctx context.Context, token, username, status, reason string) error
	DeleteAccount(ctx context.Context, token, username string) error
}

// Bridge synchronizes the directory with its two sources of truth. The
// remote authority wins for every entry it returns; the local cache acts
// as an overlay of entries the authority does not know about (offline
// created sub-users) and as the fast-reload mirror.
type Bridge struct {
	local  LocalStore
	remote RemoteAuthority
	log    *logger.Logger
}

func NewBridge(local LocalStore, remote RemoteAuthority, log *logger.Logger) *Bridge {
	return &Bridge{local: local, remote: remote, log: log}
}

// Load reads the cache, overlays the remote list when a token is
// available, and rewrites the cache to the merged result. A remote
// failure degrades to cache-only rather than blocking startup.
func (b *Bridge) Load(ctx context.Context, token string) ([]*model.Account, error) {
	local, err := b.local.LoadAccounts(ctx)
	if err != nil {
		return nil, err
	}

	if token == "" {
		return local, nil
	}

	remote, err := b.remote.ListAccounts(ctx, token)
	if err != nil {
		b.log.Warn("remote list unavailable, serving cached directory", "error", err.Error())
		return local, nil
	}

	merged := merge(local, remote)
	if err := b.local.ReplaceAccounts(ctx, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// merge keeps local insertion order, replaces entries the remote also
// returns with the remote version, and appends remote-only entries. The
// authority never transmits secrets, so a remote win preserves the
// locally cached secret and credential record.
func merge(local, remote []*model.Account) []*model.Account {
	remoteByName := make(map[string]*model.Account, len(remote))
	for _, r := range remote {
		remoteByName[r.Username] = r
	}

	merged := make([]*model.Account, 0, len(local)+len(remote))
	seen := make(map[string]struct{}, len(local))

	for _, l := range local {
		seen[l.Username] = struct{}{}
		r, ok := remoteByName[l.Username]
		if !ok {
			merged = append(merged, l)
			continue
		}
		c := *r
		if c.PasswordSecret == "" {
			c.PasswordSecret = l.PasswordSecret
		}
		if c.Credentials == nil {
			c.Credentials = l.Credentials
		}
		// The authority never tracks rosters, so a remote win must not
		// wipe the locally maintained one.
		if len(c.SubUsers) == 0 {
			c.SubUsers = l.SubUsers
		}
		merged = append(merged, &c)
	}

	for _, r := range remote {
		if _, ok := seen[r.Username]; ok {
			continue
		}
		c := *r
		merged = append(merged, &c)
	}
	return merged
}

// SaveAccount writes through to the local cache synchronously.
func (b *Bridge) SaveAccount(ctx context.Context, account *model.Account) error {
	return b.local.SaveAccount(ctx, account)
}

// ReplaceAll mirrors a full directory snapshot into the cache.
func (b *Bridge) ReplaceAll(ctx context.Context, accounts []*model.Account) error {
	return b.local.ReplaceAccounts(ctx, accounts)
}

// CreateAdmin provisions the admin remotely (the authority also creates
// the business and initial subscription), then caches the result.
func (b *Bridge) CreateAdmin(ctx context.Context, token string, req *model.NewAdminRequest) (*model.CreateAdminResponse, error) {
	resp, err := b.remote.CreateAdmin(ctx, token, req)
	if err != nil {
		return nil, err
	}

	account := *resp.User
	if account.Subscription == nil {
		account.Subscription = resp.Subscription
	}
	if account.Credentials == nil {
		account.Credentials = resp.Credentials
	}
	if err := b.local.SaveAccount(ctx, &account); err != nil {
		return nil, err
	}
	resp.User = &account
	return resp, nil
}

// UpdateStatus pushes the transition remotely for accounts the authority
// owns, then mirrors the updated account into the cache. A remote 404
// means the account only ever existed locally; that is not an error.
func (b *Bridge) UpdateStatus(ctx context.Context, token string, account *model.Account, reason string) error {
	if account.Role != model.RoleUser && token != "" {
		err := b.remote.UpdateStatus(ctx, token, account.Username, account.Status, reason)
		if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}
	}
	return b.local.SaveAccount(ctx, account)
}

// Delete runs the delete protocol: remote first, where a 404 marks the
// account local-only and removal proceeds; any other remote failure
// aborts before the cache is touched.
func (b *Bridge) Delete(ctx context.Context, token, username string) error {
	if token != "" {
		err := b.remote.DeleteAccount(ctx, token, username)
		if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}
	}
	return b.local.DeleteAccount(ctx, username)
}
