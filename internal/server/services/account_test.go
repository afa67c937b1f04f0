package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/logging"
	"github.com/dmitrijs2005/gophgate/internal/server/auth"
)

func newAccountFixture(t *testing.T) (*AccountService, *fakeUsersRepo) {
	t.Helper()
	db, _ := newSQLMockDB(t)
	fu := newFakeUsers()
	rm := &fakeRepoManager{users: fu, sessions: newFakeSessions(fu, nil), audit: &fakeAuditRepo{}}
	return NewAccountService(db, rm, logging.Nop()), fu
}

func TestAccountService_Create(t *testing.T) {
	svc, fu := newAccountFixture(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, NewAccount{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)

	assert.Equal(t, common.RoleUser, u.Role)
	assert.True(t, u.Active)
	assert.NotEqual(t, "secret1", u.PasswordHash)

	ok, err := auth.ComparePassword(fu.byName["alice"].PasswordHash, "secret1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.Create(ctx, NewAccount{Username: "alice", Email: "other@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestAccountService_CreateValidation(t *testing.T) {
	svc, fu := newAccountFixture(t)

	tests := []struct {
		name  string
		in    NewAccount
		field string
	}{
		{"short username", NewAccount{Username: "al", Email: "a@example.com", Password: "secret1"}, "Username"},
		{"bad email", NewAccount{Username: "alice", Email: "nope", Password: "secret1"}, "Email"},
		{"short password", NewAccount{Username: "alice", Email: "a@example.com", Password: "123"}, "Password"},
		{"unknown role", NewAccount{Username: "alice", Email: "a@example.com", Password: "secret1", Role: "root"}, "Role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.in)
			var ve *common.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Empty(t, fu.byName)
}

func TestAccountService_Seed(t *testing.T) {
	svc, fu := newAccountFixture(t)
	ctx := context.Background()

	n, err := svc.Seed(ctx, DemoAccounts...)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, common.RoleAdmin, fu.byName["admin"].Role)

	n, err = svc.Seed(ctx, DemoAccounts...)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
