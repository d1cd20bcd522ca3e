package identity

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCachedStore(t *testing.T) (*CachedStore, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewStore(db, time.Second, nil)
	cached, err := NewCachedStore(store, client, 16, time.Minute)
	require.NoError(t, err)
	return cached, mock, mr
}

func TestCachedStore_GetByExternalID(t *testing.T) {
	ctx := context.Background()

	t.Run("first read misses and fills both tiers", func(t *testing.T) {
		cached, mock, mr := newTestCachedStore(t)

		mock.ExpectQuery("SELECT (.+) FROM identities WHERE external_id").
			WithArgs("user_1").
			WillReturnRows(identityRow("user_1", "ana@example.com", "Ana Flores", "vendor"))

		rec, err := cached.GetByExternalID(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, "ana@example.com", rec.Email)

		assert.True(t, mr.Exists("identity:ext:user_1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second read is served from cache without hitting the store", func(t *testing.T) {
		cached, mock, _ := newTestCachedStore(t)

		mock.ExpectQuery("SELECT (.+) FROM identities WHERE external_id").
			WillReturnRows(identityRow("user_1", "ana@example.com", "Ana Flores", "vendor"))

		_, err := cached.GetByExternalID(ctx, "user_1")
		require.NoError(t, err)

		// No further query expectations: a second store hit would fail.
		rec, err := cached.GetByExternalID(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, "user_1", rec.ExternalID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis tier survives l1 eviction", func(t *testing.T) {
		cached, mock, _ := newTestCachedStore(t)

		mock.ExpectQuery("SELECT (.+) FROM identities WHERE external_id").
			WillReturnRows(identityRow("user_1", "ana@example.com", "Ana Flores", "standard"))

		_, err := cached.GetByExternalID(ctx, "user_1")
		require.NoError(t, err)

		cached.l1.Purge()

		rec, err := cached.GetByExternalID(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, "ana@example.com", rec.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found passes through", func(t *testing.T) {
		cached, mock, _ := newTestCachedStore(t)

		mock.ExpectQuery("SELECT (.+) FROM identities WHERE external_id").
			WillReturnRows(sqlmock.NewRows(identityTestColumns))

		_, err := cached.GetByExternalID(ctx, "user_missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCachedStore_MutationsInvalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("update refreshes the cached record", func(t *testing.T) {
		cached, mock, _ := newTestCachedStore(t)

		mock.ExpectQuery("SELECT (.+) FROM identities WHERE external_id").
			WillReturnRows(identityRow("user_1", "ana@example.com", "Ana Flores", "standard"))
		mock.ExpectQuery("UPDATE identities").
			WillReturnRows(identityRow("user_1", "ana@example.com", "Ana Flores", "vendor"))

		_, err := cached.GetByExternalID(ctx, "user_1")
		require.NoError(t, err)

		_, err = cached.UpdateFromNotification(ctx, &Notification{
			ExternalID: "user_1",
			Email:      "ana@example.com",
			Untrusted:  UntrustedMetadata{SignupIntent: "vendor"},
		})
		require.NoError(t, err)

		rec, err := cached.GetByExternalID(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, RoleVendor, rec.Role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete drops both tiers", func(t *testing.T) {
		cached, mock, mr := newTestCachedStore(t)

		mock.ExpectQuery("SELECT (.+) FROM identities WHERE external_id").
			WillReturnRows(identityRow("user_1", "ana@example.com", "Ana Flores", "standard"))
		mock.ExpectExec("DELETE FROM identities").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT (.+) FROM identities WHERE external_id").
			WillReturnRows(sqlmock.NewRows(identityTestColumns))

		_, err := cached.GetByExternalID(ctx, "user_1")
		require.NoError(t, err)

		require.NoError(t, cached.Delete(ctx, "user_1"))
		assert.False(t, mr.Exists("identity:ext:user_1"))

		_, err = cached.GetByExternalID(ctx, "user_1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCachedStore_WithoutRedis(t *testing.T) {
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, time.Second, nil)
	cached, err := NewCachedStore(store, nil, 16, time.Minute)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM identities WHERE external_id").
		WillReturnRows(identityRow("user_1", "ana@example.com", "Ana Flores", "standard"))

	_, err = cached.GetByExternalID(ctx, "user_1")
	require.NoError(t, err)

	// LRU alone serves the repeat read.
	rec, err := cached.GetByExternalID(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "user_1", rec.ExternalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
