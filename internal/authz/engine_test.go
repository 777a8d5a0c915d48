package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/account-api/internal/model"
)

func TestCanAccessRole(t *testing.T) {
	e := NewEngine()

	owner := &model.Account{Username: "root", Role: model.RoleOwner}
	admin := &model.Account{Username: "ann", Role: model.RoleAdmin, BusinessID: "biz-1"}
	subUser := &model.Account{Username: "bob", Role: model.RoleUser, BusinessID: "biz-1", ManagedBy: "ann"}

	tests := []struct {
		name      string
		principal *model.Account
		required  string
		want      bool
	}{
		{"owner can access owner surfaces", owner, model.RoleOwner, true},
		{"owner can access admin surfaces", owner, model.RoleAdmin, true},
		{"owner can access user surfaces", owner, model.RoleUser, true},
		{"admin cannot access owner surfaces", admin, model.RoleOwner, false},
		{"admin can access admin surfaces", admin, model.RoleAdmin, true},
		{"admin can access user surfaces", admin, model.RoleUser, true},
		{"user cannot access owner surfaces", subUser, model.RoleOwner, false},
		{"user cannot access admin surfaces", subUser, model.RoleAdmin, false},
		{"user can access user surfaces", subUser, model.RoleUser, true},
		{"nil principal denied", nil, model.RoleUser, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.CanAccessRole(tt.principal, tt.required))
		})
	}
}

func TestHasBusinessAccess(t *testing.T) {
	e := NewEngine()

	owner := &model.Account{Username: "root", Role: model.RoleOwner}
	admin := &model.Account{Username: "ann", Role: model.RoleAdmin, BusinessID: "biz-1"}
	subUser := &model.Account{Username: "bob", Role: model.RoleUser, BusinessID: "biz-1", ManagedBy: "ann"}

	assert.True(t, e.HasBusinessAccess(owner, "biz-1"))
	assert.True(t, e.HasBusinessAccess(owner, "biz-2"))
	assert.True(t, e.HasBusinessAccess(admin, "biz-1"))
	assert.False(t, e.HasBusinessAccess(admin, "biz-2"))
	assert.True(t, e.HasBusinessAccess(subUser, "biz-1"))
	assert.False(t, e.HasBusinessAccess(subUser, "biz-2"))
	assert.False(t, e.HasBusinessAccess(admin, ""))
	assert.False(t, e.HasBusinessAccess(nil, "biz-1"))
}
