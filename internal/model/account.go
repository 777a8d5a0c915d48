package model

import (
	"time"
)

// Account roles
const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Account status constants
const (
	StatusActive    = "active"
	StatusBlocked   = "blocked"
	StatusSuspended = "suspended"
)

// Subscription status constants
const (
	SubscriptionTrial     = "trial"
	SubscriptionActive    = "active"
	SubscriptionSuspended = "suspended"
	SubscriptionCancelled = "cancelled"
)

// Billing cycle constants
const (
	BillingMonthly = "monthly"
	BillingYearly  = "yearly"
)

// Account is the central directory entity. Usernames are globally unique
// across all roles and immutable after creation.
type Account struct {
	Username       string `json:"username" db:"username"`
	PasswordSecret string `json:"-" db:"password_secret"`
	Email          string `json:"email" db:"email"`
	FirstName      string `json:"first_name" db:"first_name"`
	LastName       string `json:"last_name" db:"last_name"`
	Phone          string `json:"phone" db:"phone"`
	Role           string `json:"role" db:"role"`
	Status         string `json:"status" db:"status"`

	// Blocked quad: all four are set together iff Status == StatusBlocked.
	Blocked       bool       `json:"blocked" db:"blocked"`
	BlockedBy     *string    `json:"blocked_by,omitempty" db:"blocked_by"`
	BlockedAt     *time.Time `json:"blocked_at,omitempty" db:"blocked_at"`
	BlockedReason *string    `json:"blocked_reason,omitempty" db:"blocked_reason"`

	// BusinessID is the tenant-isolation key. Present for admins and
	// sub-users, empty for the owner.
	BusinessID string `json:"business_id,omitempty" db:"business_id"`

	// ManagedBy is the admin username that created a sub-user. Empty for
	// owner and admin accounts.
	ManagedBy string `json:"managed_by,omitempty" db:"managed_by"`

	// SubUsers is the ordered roster of sub-user usernames an admin manages.
	SubUsers StringList `json:"sub_users,omitempty" db:"sub_users"`

	Subscription *Subscription         `json:"subscription,omitempty" db:"subscription"`
	Credentials  *GeneratedCredentials `json:"-" db:"credentials"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsBlockedConsistent reports whether the blocked quad matches the status.
func (a *Account) IsBlockedConsistent() bool {
	if a.Status == StatusBlocked {
		return a.Blocked && a.BlockedBy != nil && a.BlockedAt != nil && a.BlockedReason != nil
	}
	return !a.Blocked && a.BlockedBy == nil && a.BlockedAt == nil && a.BlockedReason == nil
}

// Stripped returns a copy safe for any external read path: the password
// secret and generated-credentials record are removed.
func (a *Account) Stripped() *Account {
	c := *a
	c.PasswordSecret = ""
	c.Credentials = nil
	if a.SubUsers != nil {
		c.SubUsers = append(StringList(nil), a.SubUsers...)
	}
	if a.Subscription != nil {
		sub := *a.Subscription
		c.Subscription = &sub
	}
	return &c
}

// Subscription tracks an admin's billing state. Expiry is derived lazily
// from StartDate and BillingCycle, never by a background timer.
type Subscription struct {
	Plan           string    `json:"plan"`
	Status         string    `json:"status"`
	Amount         float64   `json:"amount"`
	BillingCycle   string    `json:"billing_cycle"`
	StartDate      time.Time `json:"start_date"`
	NextPaymentAt  time.Time `json:"next_payment_at"`
	PaymentHistory []Payment `json:"payment_history,omitempty"`
}

type Payment struct {
	ID     string    `json:"id"`
	Amount float64   `json:"amount"`
	PaidAt time.Time `json:"paid_at"`
	Method string    `json:"method,omitempty"`
}

// GeneratedCredentials is the audit record of the last auto-generated
// username/password pair for an account.
type GeneratedCredentials struct {
	Username    string    `json:"username"`
	Password    string    `json:"password"`
	GeneratedBy string    `json:"generated_by"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Business is the tenant record provisioned by the remote authority when
// an admin account is created.
type Business struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Address       string    `json:"address"`
	Phone         string    `json:"phone"`
	Email         string    `json:"email"`
	OwnerUsername string    `json:"owner_username"`
	CreatedAt     time.Time `json:"created_at"`
}

// AccountFilter narrows List results. Zero values mean "no filter".
type AccountFilter struct {
	BusinessID string
	ManagedBy  string
	Role       string
	Status     string
}

// StringList is an ordered list of usernames. It is persisted as a JSON
// column by the local store.
type StringList []string

// Contains reports whether the list holds the given username.
func (l StringList) Contains(username string) bool {
	for _, u := range l {
		if u == username {
			return true
		}
	}
	return false
}

// Without returns a copy of the list with the given username removed.
func (l StringList) Without(username string) StringList {
	out := make(StringList, 0, len(l))
	for _, u := range l {
		if u != username {
			out = append(out, u)
		}
	}
	return out
}
