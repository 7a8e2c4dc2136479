package redisdb_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"duet/internal/domain"
	"duet/internal/storage/redisdb"
	"duet/internal/storage/storetest"
)

// open connects to DUET_TEST_REDIS_ADDR under a fresh key prefix.
func open(t *testing.T) *redisdb.Store {
	t.Helper()
	addr := os.Getenv("DUET_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DUET_TEST_REDIS_ADDR not set")
	}
	s, err := redisdb.Open(context.Background(), redisdb.Config{
		Addr:      addr,
		KeyPrefix: "duet-test-" + uuid.NewString(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGuardStore(t *testing.T) {
	storetest.RunGuardStore(t, func(t *testing.T) domain.GuardStore { return open(t) },
		storetest.Options{NativeExpiry: true})
}

func TestDirectory(t *testing.T) {
	storetest.RunDirectory(t, func(t *testing.T) domain.PreKeyDirectory { return open(t) })
}
