package email

import (
	"context"
)

// Service sends account notifications. Delivery failures are the
// caller's to log and swallow; account mutations never roll back over a
// failed email.
type Service interface {
	SendCredentials(ctx context.Context, to, username, password string) error
	SendWelcome(ctx context.Context, to, name string) error
}
