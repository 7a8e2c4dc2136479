package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"duet/internal/domain"
	"duet/internal/storage/postgres"
	"duet/internal/storage/storetest"
)

// open connects to DUET_TEST_POSTGRES_DSN. Tests use random party IDs, so
// they share the schema safely.
func open(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("DUET_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DUET_TEST_POSTGRES_DSN not set")
	}
	s, err := postgres.Open(context.Background(), postgres.Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestGuardStore(t *testing.T) {
	storetest.RunGuardStore(t, func(t *testing.T) domain.GuardStore { return open(t) }, storetest.Options{Shared: true})
}

func TestDirectory(t *testing.T) {
	storetest.RunDirectory(t, func(t *testing.T) domain.PreKeyDirectory { return open(t) })
}
