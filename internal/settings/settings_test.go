package settings

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := OpenRedisStore(RedisConfig{Addr: mr.Addr(), Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

// Each backend must honour the same Store contract.
func TestStoreContract(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return openSQLite(t) },
		"redis": func(t *testing.T) Store {
			s, _ := openRedis(t)
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			_, err := s.GetString("missing")
			assert.ErrorIs(t, err, ErrConfigUnavailable)
			_, err = s.GetInt("missing")
			assert.ErrorIs(t, err, ErrConfigUnavailable)

			require.NoError(t, s.SetString("name", "lab-rig"))
			require.NoError(t, s.SetInt("width", 2160))
			require.NoError(t, s.SetFloat("ipd", 0.0645))

			v, err := s.GetString("name")
			require.NoError(t, err)
			assert.Equal(t, "lab-rig", v)

			n, err := s.GetInt("width")
			require.NoError(t, err)
			assert.Equal(t, int64(2160), n)

			f, err := s.GetFloat("ipd")
			require.NoError(t, err)
			assert.Equal(t, 0.0645, f)

			// Overwrite.
			require.NoError(t, s.SetInt("width", 1440))
			n, _ = s.GetInt("width")
			assert.Equal(t, int64(1440), n)

			// Type mismatch surfaces as unavailable.
			_, err = s.GetFloat("name")
			assert.ErrorIs(t, err, ErrConfigUnavailable)
		})
	}
}

func TestAdapter_LoadDefaultsForMissingKeys(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SetInt(KeyRenderWidth, 2160))
	require.NoError(t, store.SetFloat(KeyIPD, 0.07))

	got := NewAdapter(store).Load()
	want := Defaults()
	want.RenderWidth = 2160
	want.IPD = 0.07
	assert.Equal(t, want, got)
}

func TestAdapter_LoadWithoutStore(t *testing.T) {
	assert.Equal(t, Defaults(), NewAdapter(nil).Load())
	assert.ErrorIs(t, NewAdapter(nil).Save(Defaults()), ErrConfigUnavailable)
}

func TestAdapter_LoadReplacesInvalidValues(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SetInt(KeyRenderHeight, -5))
	require.NoError(t, store.SetFloat(KeyRefreshRate, 0))
	require.NoError(t, store.SetString(KeyPredictionTimeMs, "soon"))

	got := NewAdapter(store).Load()
	assert.Equal(t, Defaults(), got)
}

func TestAdapter_SaveLoadRoundTripSQLite(t *testing.T) {
	store := openSQLite(t)
	a := NewAdapter(store)

	want := DriverSettings{RenderWidth: 2448, RenderHeight: 2448, RefreshRate: 120, IPD: 0.061, PredictionTimeMs: 11.5}
	require.NoError(t, a.Save(want))
	assert.Equal(t, want, a.Load())

	want.RefreshRate = 144
	require.NoError(t, a.Save(want))
	hist, err := store.History(KeyRefreshRate)
	require.NoError(t, err)
	assert.Equal(t, []string{"120", "144"}, hist)
}

func TestSQLiteStore_Migrations(t *testing.T) {
	store := openSQLite(t)
	version, dirty, err := store.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	// Re-running is a no-op.
	require.NoError(t, store.MigrateUp())
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	s1, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.SetFloat(KeyIPD, 0.066))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, 0.066, NewAdapter(s2).Load().IPD)
}

func TestRedisStore_SharedHash(t *testing.T) {
	store, mr := openRedis(t)
	require.NoError(t, NewAdapter(store).Save(Defaults()))

	assert.Equal(t, "1832", mr.HGet(DefaultRedisKey, KeyRenderWidth))
	mr.HSet(DefaultRedisKey, KeyRefreshRate, "144")
	assert.Equal(t, 144.0, NewAdapter(store).Load().RefreshRate)
}

func TestRedisStore_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	store, err := OpenRedisStore(RedisConfig{Addr: mr.Addr(), Timeout: time.Second})
	require.NoError(t, err)
	defer store.Close()
	mr.Close()

	// Load still succeeds with defaults; Save reports but does not panic.
	assert.Equal(t, Defaults(), NewAdapter(store).Load())
	assert.Error(t, NewAdapter(store).Save(Defaults()))

	_, err = OpenRedisStore(RedisConfig{Addr: "127.0.0.1:1", Timeout: 100 * time.Millisecond})
	assert.Error(t, err)
}

type failingStore struct{ *MemoryStore }

func (failingStore) SetFloat(string, float64) error { return errors.New("disk full") }

func TestAdapter_SaveIsBestEffort(t *testing.T) {
	store := failingStore{NewMemoryStore()}
	err := NewAdapter(store).Save(Defaults())
	assert.Error(t, err)

	// Integer keys were still written.
	n, getErr := store.GetInt(KeyRenderWidth)
	require.NoError(t, getErr)
	assert.Equal(t, int64(1832), n)
}

func TestDriverSettings_FrameInterval(t *testing.T) {
	assert.InDelta(t, 1.0/90, Defaults().FrameInterval(), 1e-12)
}
