package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerreads/pkg/apperrors"
	"peerreads/pkg/database"
	"peerreads/pkg/models"
)

var rita = models.User{
	ID:         7,
	Email:      "reader@example.com",
	Username:   "reader",
	FullName:   "Rita Reader",
	Role:       models.RoleUser,
	JoinedDate: models.Date{Year: 2025, Month: time.March, Day: 2},
}

func backends(t *testing.T) map[string]KV {
	t.Helper()
	db, err := database.Open(database.Config{Driver: database.DriverSQLite, Path: ":memory:"}, &Entry{})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	kvs := map[string]KV{
		"memory": NewMemoryKV(),
		"gorm":   NewGormKV(db),
	}
	if addr := os.Getenv("PEERREADS_TEST_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { client.Close() })
		kv := NewRedisKV(client)
		require.NoError(t, kv.Ping(context.Background()))
		require.NoError(t, kv.Delete(context.Background(), TokenKey, UserKey))
		kvs["redis"] = kv
	}
	return kvs
}

func TestStoreLifecycle(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewStore(kv, zerolog.Nop())

			loggedIn, err := store.LoggedIn(ctx)
			require.NoError(t, err)
			assert.False(t, loggedIn)

			_, ok, err := store.Get(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Set(ctx, models.Session{Token: "tok-1", User: rita}))

			got, ok, err := store.Get(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "tok-1", got.Token)
			assert.Equal(t, rita, got.User)

			updated := rita
			updated.FullName = "Rita R."
			require.NoError(t, store.SetUser(ctx, updated))
			got, _, err = store.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, "Rita R.", got.User.FullName)
			assert.Equal(t, "tok-1", got.Token)

			require.NoError(t, store.Set(ctx, models.Session{Token: "tok-2", User: rita}))
			got, _, err = store.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, "tok-2", got.Token)

			require.NoError(t, store.Clear(ctx))
			for _, key := range []string{TokenKey, UserKey} {
				_, present, err := kv.Get(ctx, key)
				require.NoError(t, err)
				assert.False(t, present, key)
			}
			loggedIn, err = store.LoggedIn(ctx)
			require.NoError(t, err)
			assert.False(t, loggedIn)
		})
	}
}

func TestSetUserRequiresSession(t *testing.T) {
	store := NewStore(NewMemoryKV(), zerolog.Nop())
	err := store.SetUser(context.Background(), rita)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
}

func TestSetRejectsEmptyToken(t *testing.T) {
	store := NewStore(NewMemoryKV(), zerolog.Nop())
	err := store.Set(context.Background(), models.Session{Token: "  ", User: rita})

	var validation *apperrors.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestCorruptUserSnapshotKeepsToken(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.SetMany(ctx, map[string]string{TokenKey: "tok", UserKey: "{not json"}))

	got, ok, err := NewStore(kv, zerolog.Nop()).Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", got.Token)
	assert.Zero(t, got.User.ID)
}

func TestGormKVUpsertsInPlace(t *testing.T) {
	db, err := database.Open(database.Config{Driver: database.DriverSQLite, Path: ":memory:"}, &Entry{})
	require.NoError(t, err)
	defer database.Close(db)
	ctx := context.Background()
	kv := NewGormKV(db)

	require.NoError(t, kv.SetMany(ctx, map[string]string{TokenKey: "a"}))
	require.NoError(t, kv.SetMany(ctx, map[string]string{TokenKey: "b"}))

	var count int64
	require.NoError(t, db.Model(&Entry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	v, ok, err := kv.Get(ctx, TokenKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestInspectToken(t *testing.T) {
	issued := time.Date(2025, time.November, 15, 12, 0, 0, 0, time.UTC)
	claims := jwt.RegisteredClaims{
		Subject:   "reader@example.com",
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("unknown-to-the-client"))
	require.NoError(t, err)

	info, err := InspectToken(token)
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", info.Subject)
	assert.True(t, info.IssuedAt.Equal(issued))
	assert.False(t, info.Expired(issued.Add(30*time.Minute)))
	assert.True(t, info.Expired(issued.Add(2*time.Hour)))

	_, err = InspectToken("opaque-session-token")
	assert.Error(t, err)

	assert.False(t, TokenInfo{}.Expired(issued), "tokens without exp never expire")
}
