package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/supportbot/internal/store"
	"github.com/eldtechnologies/supportbot/internal/store/storetest"
)

func TestMemoryStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.DataStore {
		return store.NewMemoryStore()
	})
}

func TestSQLiteStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.DataStore {
		s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}

func TestSQLiteStore_InMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.DataStore {
		s, err := store.NewSQLiteStore(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}

func TestPostgresStore_Compliance(t *testing.T) {
	dsn := os.Getenv("SUPPORTBOT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SUPPORTBOT_TEST_DATABASE_URL not set; skipping postgres store integration test")
	}
	require.NoError(t, store.RunMigrations(dsn))

	storetest.Run(t, func(t *testing.T) store.DataStore {
		s, err := store.NewPostgresStore(context.Background(), dsn)
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}
