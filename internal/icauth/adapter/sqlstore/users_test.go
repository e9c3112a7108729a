package sqlstore_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"icauth/internal/domain"
	"icauth/internal/icauth/adapter/sqlstore"
	"icauth/internal/platform/database"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	_, err = sqlstore.Migrate(context.Background(), db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return db
}

func TestUsers_FindOrCreate(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	users := sqlstore.NewUsers(db, func() time.Time { return now })
	ctx := context.Background()

	first, created, err := users.FindOrCreate(ctx, "2vxsx-fae")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, domain.Principal("2vxsx-fae"), first.Principal)
	assert.False(t, first.IsStaff)
	assert.False(t, first.IsSuperuser)
	assert.WithinDuration(t, now, first.CreatedAt, time.Second)
	assert.Nil(t, first.LastLoginAt)

	again, created, err := users.FindOrCreate(ctx, "2vxsx-fae")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestUsers_FindOrCreateConcurrent(t *testing.T) {
	db := setupTestDB(t)
	users := sqlstore.NewUsers(db, nil)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]bool{}
		created int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, c, err := users.FindOrCreate(ctx, "rrkah-fqaaa-aaaaa-aaaaq-cai")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[u.ID] = true
			if c {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
}

func TestUsers_Lookups(t *testing.T) {
	db := setupTestDB(t)
	users := sqlstore.NewUsers(db, nil)
	ctx := context.Background()

	_, err := users.FindByPrincipal(ctx, "2vxsx-fae")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = users.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	u, _, err := users.FindOrCreate(ctx, "2vxsx-fae")
	require.NoError(t, err)

	byID, err := users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Principal, byID.Principal)

	byPrincipal, err := users.FindByPrincipal(ctx, "2vxsx-fae")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byPrincipal.ID)
}

func TestUsers_TouchLogin(t *testing.T) {
	db := setupTestDB(t)
	users := sqlstore.NewUsers(db, nil)
	ctx := context.Background()

	u, _, err := users.FindOrCreate(ctx, "2vxsx-fae")
	require.NoError(t, err)

	at := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, users.TouchLogin(ctx, u.ID, at))

	got, err := users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	assert.WithinDuration(t, at, *got.LastLoginAt, time.Second)

	assert.ErrorIs(t, users.TouchLogin(ctx, "missing", at), domain.ErrNotFound)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	group, err := sqlstore.Migrate(context.Background(), db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Zero(t, group)
}

func TestStatus_ListsAppliedMigrations(t *testing.T) {
	db := setupTestDB(t)

	ms, err := sqlstore.Status(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "20250601000000", ms[0].Name)
	assert.NotZero(t, ms[0].GroupID)
}

func TestRollback_DropsUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	group, err := sqlstore.Rollback(ctx, db, logger)
	require.NoError(t, err)
	assert.NotZero(t, group)

	ms, err := sqlstore.Status(ctx, db)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Zero(t, ms[0].GroupID)

	_, _, err = sqlstore.NewUsers(db, nil).FindOrCreate(ctx, "rrkah-fqaaa-aaaaa-aaaaq-cai")
	assert.Error(t, err)
}

func TestUsers_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, sqlstore.NewUsers(db, nil).Ping(context.Background()))
}
