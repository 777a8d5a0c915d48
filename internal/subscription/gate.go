package subscription

import (
	"time"

	"github.com/jwalitptl/account-api/internal/model"
)

// Display states derived from subscription data. These feed UI badges and
// never mutate anything.
const (
	SummaryActive    = "active"
	SummaryTrial     = "trial"
	SummaryExpired   = "expired"
	SummarySuspended = "suspended"
	SummaryCancelled = "cancelled"
	SummaryNone      = "none"
)

// Gate evaluates whether an admin's subscription permits an operation.
// Expiry is computed lazily from the billing cycle, never by a timer.
type Gate struct {
	now func() time.Time
}

func NewGate() *Gate {
	return &Gate{now: time.Now}
}

// NewGateAt builds a gate with a fixed clock, for tests.
func NewGateAt(now func() time.Time) *Gate {
	return &Gate{now: now}
}

// CanAddSubUser reports whether the admin may create sub-users: the
// subscription must exist and be in active status.
func (g *Gate) CanAddSubUser(admin *model.Account) bool {
	if admin == nil || admin.Role != model.RoleAdmin || admin.Subscription == nil {
		return false
	}
	return admin.Subscription.Status == model.SubscriptionActive
}

// IsActive reports whether the subscription is in active status and the
// current billing period has not lapsed.
func (g *Gate) IsActive(sub *model.Subscription) bool {
	if sub == nil || sub.Status != model.SubscriptionActive {
		return false
	}
	return !g.now().After(expiry(sub))
}

// DaysUntilExpiry returns the whole days remaining in the current billing
// period. Negative values mean the period has already lapsed.
func (g *Gate) DaysUntilExpiry(sub *model.Subscription) int {
	if sub == nil {
		return 0
	}
	remaining := expiry(sub).Sub(g.now())
	return int(remaining.Hours() / 24)
}

// SummaryStatus derives the display state for a subscription.
func (g *Gate) SummaryStatus(sub *model.Subscription) string {
	switch {
	case sub == nil:
		return SummaryNone
	case sub.Status == model.SubscriptionCancelled:
		return SummaryCancelled
	case sub.Status == model.SubscriptionSuspended:
		return SummarySuspended
	case sub.Status == model.SubscriptionTrial:
		return SummaryTrial
	case g.IsActive(sub):
		return SummaryActive
	default:
		return SummaryExpired
	}
}

// expiry computes the end of the current billing period from the start
// date and billing cycle. NextPaymentAt wins when the remote authority
// supplied it.
func expiry(sub *model.Subscription) time.Time {
	if !sub.NextPaymentAt.IsZero() {
		return sub.NextPaymentAt
	}
	switch sub.BillingCycle {
	case model.BillingYearly:
		return sub.StartDate.AddDate(1, 0, 0)
	default:
		return sub.StartDate.AddDate(0, 1, 0)
	}
}
