package directory

import (
	"context"
	"sync"
	"time"

	"github.com/jwalitptl/account-api/internal/model"
	apperrors "github.com/jwalitptl/account-api/pkg/errors"
	"github.com/jwalitptl/account-api/pkg/logger"
	"github.com/jwalitptl/account-api/pkg/messaging"
)

// Directory is the authoritative in-memory account table. Every mutation
// is validated against the tenant-isolation invariants before commit:
// global username uniqueness, sub-user/admin business agreement, roster
// bidirectionality, single undeletable owner, and the blocked quad.
//
// Status transitions are announced on the broker instead of calling into
// the session layer, which keeps the directory free of session concerns.
type Directory struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	order    []string

	broker messaging.Broker
	log    *logger.Logger
	now    func() time.Time
}

func New(broker messaging.Broker, log *logger.Logger) *Directory {
	return &Directory{
		accounts: make(map[string]*model.Account),
		broker:   broker,
		log:      log,
		now:      time.Now,
	}
}

// Seed replaces the table contents with accounts already validated by a
// previous run (typically the bridge's merged load). Insertion order is
// the slice order.
func (d *Directory) Seed(accounts []*model.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.accounts = make(map[string]*model.Account, len(accounts))
	d.order = d.order[:0]
	for _, a := range accounts {
		if a == nil || a.Username == "" {
			continue
		}
		if _, ok := d.accounts[a.Username]; ok {
			continue
		}
		c := *a
		d.accounts[a.Username] = &c
		d.order = append(d.order, a.Username)
	}

	// Rosters are rebuilt from ManagedBy links rather than trusted from
	// the seed: the remote authority does not track sub-users, so a
	// merged load can carry admins with stale or empty rosters.
	for _, username := range d.order {
		if a := d.accounts[username]; a.Role == model.RoleAdmin {
			a.SubUsers = nil
		}
	}
	for _, username := range d.order {
		a := d.accounts[username]
		if a.Role != model.RoleUser || a.ManagedBy == "" {
			continue
		}
		if admin, ok := d.accounts[a.ManagedBy]; ok && admin.Role == model.RoleAdmin {
			admin.SubUsers = append(admin.SubUsers, a.Username)
		}
	}
}

// Create inserts a new account after invariant validation. Sub-user
// creation also appends the username to the managing admin's roster.
func (d *Directory) Create(ctx context.Context, account *model.Account) error {
	if account == nil || account.Username == "" {
		return apperrors.Validation("username is required", nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.accounts[account.Username]; ok {
		return apperrors.DuplicateUsername(account.Username)
	}

	switch account.Role {
	case model.RoleOwner:
		if d.ownerLocked() != nil {
			return apperrors.Validation("an owner account already exists", nil)
		}
		if account.BusinessID != "" || account.ManagedBy != "" {
			return apperrors.Validation("owner accounts carry no business scope", nil)
		}
	case model.RoleAdmin:
		if account.BusinessID == "" {
			return apperrors.InvalidRoleLinkage("admin account requires a business ID")
		}
		if account.ManagedBy != "" {
			return apperrors.InvalidRoleLinkage("admin accounts are not managed by another account")
		}
	case model.RoleUser:
		admin, ok := d.accounts[account.ManagedBy]
		if !ok || admin.Role != model.RoleAdmin {
			return apperrors.InvalidRoleLinkage("sub-user must be managed by an existing admin")
		}
		if account.BusinessID != admin.BusinessID {
			return apperrors.InvalidRoleLinkage("sub-user business must match the managing admin's")
		}
	default:
		return apperrors.Validation("unknown role "+account.Role, nil)
	}

	if account.Status == "" {
		account.Status = model.StatusActive
	}
	if !account.IsBlockedConsistent() {
		return apperrors.Validation("blocked fields must be set together with blocked status", nil)
	}

	c := *account
	if c.CreatedAt.IsZero() {
		c.CreatedAt = d.now()
	}
	c.UpdatedAt = d.now()

	d.accounts[c.Username] = &c
	d.order = append(d.order, c.Username)

	if c.Role == model.RoleUser {
		admin := d.accounts[c.ManagedBy]
		if !admin.SubUsers.Contains(c.Username) {
			admin.SubUsers = append(admin.SubUsers, c.Username)
			admin.UpdatedAt = d.now()
		}
	}

	return nil
}

// Update applies a partial patch, rejecting changes that would break
// tenant isolation.
func (d *Directory) Update(ctx context.Context, username string, patch model.UpdatePatch) (*model.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	account, ok := d.accounts[username]
	if !ok {
		return nil, apperrors.NotFound("account "+username, nil)
	}

	if patch.BusinessID != nil && *patch.BusinessID != account.BusinessID {
		switch account.Role {
		case model.RoleOwner:
			return nil, apperrors.Validation("owner accounts carry no business scope", nil)
		case model.RoleUser:
			return nil, apperrors.Validation("sub-user business cannot diverge from its admin's", nil)
		case model.RoleAdmin:
			if len(account.SubUsers) > 0 {
				return nil, apperrors.Validation("cannot move a business while sub-users exist", nil)
			}
		}
		account.BusinessID = *patch.BusinessID
	}

	if patch.Email != nil {
		account.Email = *patch.Email
	}
	if patch.FirstName != nil {
		account.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		account.LastName = *patch.LastName
	}
	if patch.Phone != nil {
		account.Phone = *patch.Phone
	}
	if patch.Subscription != nil {
		if account.Role != model.RoleAdmin {
			return nil, apperrors.Validation("only admin accounts carry a subscription", nil)
		}
		sub := *patch.Subscription
		account.Subscription = &sub
	}

	account.UpdatedAt = d.now()
	return account.Stripped(), nil
}

// Delete removes an account. The owner is protected; an admin must have
// an empty roster first; a sub-user is also removed from its admin's
// roster.
func (d *Directory) Delete(ctx context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deleteLocked(username)
}

// ValidateDelete runs the delete invariants without mutating, so callers
// can reject before touching the remote authority.
func (d *Directory) ValidateDelete(username string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.validateDeleteLocked(username)
}

func (d *Directory) validateDeleteLocked(username string) error {
	account, ok := d.accounts[username]
	if !ok {
		return apperrors.NotFound("account "+username, nil)
	}
	switch account.Role {
	case model.RoleOwner:
		return apperrors.OwnerProtected("delete")
	case model.RoleAdmin:
		if len(account.SubUsers) > 0 {
			return apperrors.Validation("admin still manages sub-users; remove or reassign them first", nil)
		}
	}
	return nil
}

func (d *Directory) deleteLocked(username string) error {
	if err := d.validateDeleteLocked(username); err != nil {
		return err
	}

	account := d.accounts[username]
	if account.Role == model.RoleUser {
		if admin, ok := d.accounts[account.ManagedBy]; ok {
			admin.SubUsers = admin.SubUsers.Without(username)
			admin.UpdatedAt = d.now()
		}
	}

	delete(d.accounts, username)
	for i, u := range d.order {
		if u == username {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return nil
}

// SetStatus transitions an account's status, keeping the blocked quad
// consistent, and publishes AccountStatusChanged after commit.
func (d *Directory) SetStatus(ctx context.Context, username, status, reason, changedBy string) (*model.Account, error) {
	switch status {
	case model.StatusActive, model.StatusBlocked, model.StatusSuspended:
	default:
		return nil, apperrors.Validation("unknown status "+status, nil)
	}

	d.mu.Lock()
	account, ok := d.accounts[username]
	if !ok {
		d.mu.Unlock()
		return nil, apperrors.NotFound("account "+username, nil)
	}
	if account.Role == model.RoleOwner && status == model.StatusBlocked {
		d.mu.Unlock()
		return nil, apperrors.OwnerProtected("block")
	}
	if status == model.StatusBlocked && (reason == "" || changedBy == "") {
		d.mu.Unlock()
		return nil, apperrors.Validation("blocking requires a reason and the blocking account", nil)
	}

	oldStatus := account.Status
	account.Status = status
	if status == model.StatusBlocked {
		at := d.now()
		account.Blocked = true
		account.BlockedBy = &changedBy
		account.BlockedAt = &at
		account.BlockedReason = &reason
	} else {
		account.Blocked = false
		account.BlockedBy = nil
		account.BlockedAt = nil
		account.BlockedReason = nil
	}
	account.UpdatedAt = d.now()

	event := model.AccountStatusChanged{
		Username:  username,
		OldStatus: oldStatus,
		NewStatus: status,
		Reason:    reason,
		ChangedBy: changedBy,
		ChangedAt: account.UpdatedAt,
	}
	stripped := account.Stripped()
	d.mu.Unlock()

	if d.broker != nil {
		if err := d.broker.Publish(ctx, model.StatusChangedChannel, event); err != nil {
			d.log.Warn("failed to publish status change", "username", username, "error", err.Error())
		}
	}

	return stripped, nil
}

// Get returns a secret-stripped copy of the account.
func (d *Directory) Get(username string) (*model.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	account, ok := d.accounts[username]
	if !ok {
		return nil, apperrors.NotFound("account "+username, nil)
	}
	return account.Stripped(), nil
}

// List returns secret-stripped accounts in insertion order, optionally
// narrowed by business, managing admin, role or status.
func (d *Directory) List(filter model.AccountFilter) []*model.Account {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*model.Account, 0, len(d.order))
	for _, username := range d.order {
		a := d.accounts[username]
		if filter.BusinessID != "" && a.BusinessID != filter.BusinessID {
			continue
		}
		if filter.ManagedBy != "" && a.ManagedBy != filter.ManagedBy {
			continue
		}
		if filter.Role != "" && a.Role != filter.Role {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a.Stripped())
	}
	return out
}

// Raw returns a full copy, secret included. Reserved for the
// persistence layer; never expose externally.
func (d *Directory) Raw(username string) (*model.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	account, ok := d.accounts[username]
	if !ok {
		return nil, apperrors.NotFound("account "+username, nil)
	}
	c := *account
	return &c, nil
}

// Snapshot returns full copies, secrets included, in insertion order.
// Reserved for the persistence layer; never expose externally.
func (d *Directory) Snapshot() []*model.Account {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*model.Account, 0, len(d.order))
	for _, username := range d.order {
		c := *d.accounts[username]
		out = append(out, &c)
	}
	return out
}

// Usernames returns the set of taken usernames for credential generation.
func (d *Directory) Usernames() map[string]struct{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := make(map[string]struct{}, len(d.accounts))
	for u := range d.accounts {
		set[u] = struct{}{}
	}
	return set
}

// Owner returns the stripped owner account, if seeded.
func (d *Directory) Owner() *model.Account {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if o := d.ownerLocked(); o != nil {
		return o.Stripped()
	}
	return nil
}

func (d *Directory) ownerLocked() *model.Account {
	for _, a := range d.accounts {
		if a.Role == model.RoleOwner {
			return a
		}
	}
	return nil
}

// Len reports the number of accounts in the table.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.accounts)
}
