package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/account-api/internal/model"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func fixedGate() *Gate {
	return NewGateAt(func() time.Time { return testNow })
}

func activeSub(cycle string, start time.Time) *model.Subscription {
	return &model.Subscription{
		Plan:         "standard",
		Status:       model.SubscriptionActive,
		Amount:       29.99,
		BillingCycle: cycle,
		StartDate:    start,
	}
}

func TestCanAddSubUser(t *testing.T) {
	g := fixedGate()

	admin := &model.Account{
		Username:     "ann",
		Role:         model.RoleAdmin,
		BusinessID:   "biz-1",
		Subscription: activeSub(model.BillingMonthly, testNow.AddDate(0, 0, -5)),
	}
	assert.True(t, g.CanAddSubUser(admin))

	admin.Subscription.Status = model.SubscriptionSuspended
	assert.False(t, g.CanAddSubUser(admin))

	admin.Subscription.Status = model.SubscriptionTrial
	assert.False(t, g.CanAddSubUser(admin))

	admin.Subscription = nil
	assert.False(t, g.CanAddSubUser(admin))

	subUser := &model.Account{Username: "bob", Role: model.RoleUser}
	assert.False(t, g.CanAddSubUser(subUser))
	assert.False(t, g.CanAddSubUser(nil))
}

func TestIsActive(t *testing.T) {
	g := fixedGate()

	t.Run("inside monthly period", func(t *testing.T) {
		assert.True(t, g.IsActive(activeSub(model.BillingMonthly, testNow.AddDate(0, 0, -10))))
	})

	t.Run("lapsed monthly period", func(t *testing.T) {
		assert.False(t, g.IsActive(activeSub(model.BillingMonthly, testNow.AddDate(0, -2, 0))))
	})

	t.Run("inside yearly period", func(t *testing.T) {
		assert.True(t, g.IsActive(activeSub(model.BillingYearly, testNow.AddDate(0, -6, 0))))
	})

	t.Run("next payment date wins over computed expiry", func(t *testing.T) {
		sub := activeSub(model.BillingMonthly, testNow.AddDate(0, -3, 0))
		sub.NextPaymentAt = testNow.AddDate(0, 0, 7)
		assert.True(t, g.IsActive(sub))
	})

	t.Run("non-active status is never active", func(t *testing.T) {
		sub := activeSub(model.BillingMonthly, testNow)
		sub.Status = model.SubscriptionCancelled
		assert.False(t, g.IsActive(sub))
	})

	assert.False(t, g.IsActive(nil))
}

func TestDaysUntilExpiry(t *testing.T) {
	g := fixedGate()

	sub := activeSub(model.BillingMonthly, testNow)
	sub.NextPaymentAt = testNow.AddDate(0, 0, 10)
	assert.Equal(t, 10, g.DaysUntilExpiry(sub))

	sub.NextPaymentAt = testNow.AddDate(0, 0, -3)
	assert.Equal(t, -3, g.DaysUntilExpiry(sub))

	assert.Equal(t, 0, g.DaysUntilExpiry(nil))
}

func TestSummaryStatus(t *testing.T) {
	g := fixedGate()

	assert.Equal(t, SummaryNone, g.SummaryStatus(nil))
	assert.Equal(t, SummaryActive, g.SummaryStatus(activeSub(model.BillingMonthly, testNow.AddDate(0, 0, -1))))

	expired := activeSub(model.BillingMonthly, testNow.AddDate(0, -2, 0))
	assert.Equal(t, SummaryExpired, g.SummaryStatus(expired))

	trial := activeSub(model.BillingMonthly, testNow)
	trial.Status = model.SubscriptionTrial
	assert.Equal(t, SummaryTrial, g.SummaryStatus(trial))

	cancelled := activeSub(model.BillingMonthly, testNow)
	cancelled.Status = model.SubscriptionCancelled
	assert.Equal(t, SummaryCancelled, g.SummaryStatus(cancelled))

	suspended := activeSub(model.BillingMonthly, testNow)
	suspended.Status = model.SubscriptionSuspended
	assert.Equal(t, SummarySuspended, g.SummaryStatus(suspended))
}
