package boltdb_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet/internal/domain"
	"duet/internal/storage/boltdb"
	"duet/internal/storage/storetest"
)

func open(t *testing.T) *boltdb.DB {
	t.Helper()
	db, err := boltdb.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestGuardStore(t *testing.T) {
	storetest.RunGuardStore(t, func(t *testing.T) domain.GuardStore { return open(t) }, storetest.Options{})
}

func TestDirectory(t *testing.T) {
	storetest.RunDirectory(t, func(t *testing.T) domain.PreKeyDirectory { return open(t) })
}

func TestQueue(t *testing.T) {
	storetest.RunQueue(t, func(t *testing.T) domain.MessageQueue { return open(t) })
}

func TestState_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.db")

	db, err := boltdb.Open(path)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, db.Admit(ctx, storetest.Admission("a", "b", "m1", 4, now), func(domain.ConversationState) error { return nil }))
	keys := storetest.Party(t, 2)
	require.NoError(t, db.PublishIdentity(ctx, keys))
	require.NoError(t, db.Close())

	db, err = boltdb.Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Admit(ctx, storetest.Admission("a", "b", "m2", 5, now), func(st domain.ConversationState) error {
		assert.True(t, st.HasSequence)
		assert.Equal(t, uint64(4), st.LastSequence)
		return nil
	}))
	n, err := db.CountOneTimePreKeys(ctx, keys.PartyID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
