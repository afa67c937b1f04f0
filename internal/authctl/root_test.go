package authctl

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/logging"
	"github.com/dmitrijs2005/gophgate/internal/server/config"
	"github.com/dmitrijs2005/gophgate/internal/server/models"
	"github.com/dmitrijs2005/gophgate/internal/server/services"
)

type fakeAccounts struct {
	created []services.NewAccount
	seeded  int
	err     error
}

func (f *fakeAccounts) Create(_ context.Context, a services.NewAccount) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, a)
	return &models.User{ID: "u-new", Username: a.Username, Role: a.Role}, nil
}

func (f *fakeAccounts) Seed(_ context.Context, accounts ...services.NewAccount) (int, error) {
	f.seeded += len(accounts)
	return len(accounts), f.err
}

type fakePurger struct{ n int64 }

func (f fakePurger) PurgeExpired(context.Context) (int64, error) { return f.n, nil }

type harness struct {
	accounts *fakeAccounts
	migrated bool
	closed   bool
	gotDSN   string
	openErr  error
}

func (h *harness) open(_ context.Context, cfg *config.Config, _ logging.Logger) (*Env, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	h.gotDSN = cfg.DatabaseDSN
	return &Env{
		Migrate:  func(context.Context) error { h.migrated = true; return nil },
		Accounts: h.accounts,
		Sessions: fakePurger{n: 4},
		Close:    func() error { h.closed = true; return nil },
	}, nil
}

func run(t *testing.T, h *harness, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(h.open)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newHarness() *harness { return &harness{accounts: &fakeAccounts{}} }

func TestMigrate(t *testing.T) {
	h := newHarness()
	out, err := run(t, h, "migrate", "--dsn", "postgres://override")
	require.NoError(t, err)

	assert.True(t, h.migrated)
	assert.True(t, h.closed)
	assert.Equal(t, "postgres://override", h.gotDSN)
	assert.Contains(t, out, "migrations applied")
}

func TestSeed(t *testing.T) {
	h := newHarness()
	out, err := run(t, h, "seed")
	require.NoError(t, err)
	assert.Equal(t, len(services.DemoAccounts), h.accounts.seeded)
	assert.Contains(t, out, "seeded 2 user(s)")
}

func TestSeed_RefusesProduction(t *testing.T) {
	t.Setenv("GOPHGATE_ENVIRONMENT", "production")
	t.Setenv("GOPHGATE_SECRET_KEY", "0123456789abcdef0123456789abcdef")

	h := newHarness()
	_, err := run(t, h, "seed")
	require.Error(t, err)
	assert.Zero(t, h.accounts.seeded)
	assert.True(t, h.closed)

	_, err = run(t, h, "seed", "--force")
	require.NoError(t, err)
	assert.Equal(t, 2, h.accounts.seeded)
}

func TestCreateUser(t *testing.T) {
	h := newHarness()
	out, err := run(t, h, "create-user", "alice", "--email", "alice@example.com", "--role", "admin", "--password", "secret1")
	require.NoError(t, err)

	require.Len(t, h.accounts.created, 1)
	got := h.accounts.created[0]
	assert.Equal(t, services.NewAccount{Username: "alice", Email: "alice@example.com", Password: "secret1", Role: "admin"}, got)
	assert.Contains(t, out, "created user alice (admin) id=u-new")
}

func TestCreateUser_PromptsForPassword(t *testing.T) {
	orig := readPassword
	readPassword = func(int) ([]byte, error) { return []byte("typed-pw\n"), nil }
	t.Cleanup(func() { readPassword = orig })

	h := newHarness()
	_, err := run(t, h, "create-user", "bob", "-e", "bob@example.com")
	require.NoError(t, err)
	require.Len(t, h.accounts.created, 1)
	assert.Equal(t, "typed-pw", h.accounts.created[0].Password)
	assert.Equal(t, common.RoleUser, h.accounts.created[0].Role)
}

func TestCreateUser_Errors(t *testing.T) {
	h := newHarness()
	h.accounts.err = common.ErrorAlreadyExists
	_, err := run(t, h, "create-user", "alice", "-e", "a@example.com", "-p", "secret1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = run(t, newHarness(), "create-user", "-e", "a@example.com")
	assert.Error(t, err, "username argument is required")

	_, err = run(t, newHarness(), "create-user", "alice", "-p", "secret1")
	assert.Error(t, err, "email flag is required")
}

func TestPurgeSessions(t *testing.T) {
	h := newHarness()
	out, err := run(t, h, "purge-sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "purged 4 session(s)")
}

func TestOpenFailure(t *testing.T) {
	h := newHarness()
	h.openErr = errors.New("connection refused")
	_, err := run(t, h, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open database")
}
