package model

import "time"

// Session holds the authenticated principal and its remote-issued token.
// The principal is always stored secret-stripped.
type Session struct {
	Principal *Account  `json:"principal"`
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
}

// LoginRequest carries credentials for the remote login call.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is the remote authority's answer to a successful login.
type LoginResponse struct {
	Token string   `json:"token"`
	User  *Account `json:"user"`
}

// SessionState is the SessionManager state machine value.
type SessionState int32

const (
	StateUnauthenticated SessionState = iota
	StateVerifying
	StateAuthenticated
)

func (s SessionState) String() string {
	switch s {
	case StateVerifying:
		return "verifying"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// AccountStatusChanged is published on the broker whenever SetStatus
// commits. SessionManager consumes it to force-logout a blocked principal.
type AccountStatusChanged struct {
	Username  string    `json:"username"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Reason    string    `json:"reason,omitempty"`
	ChangedBy string    `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// StatusChangedChannel is the broker channel for account status events.
const StatusChangedChannel = "accounts.status"
