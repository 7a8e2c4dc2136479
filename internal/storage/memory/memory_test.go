package memory_test

import (
	"testing"

	"duet/internal/domain"
	"duet/internal/storage/memory"
	"duet/internal/storage/storetest"
)

func TestGuardStore(t *testing.T) {
	storetest.RunGuardStore(t, func(*testing.T) domain.GuardStore { return memory.New() }, storetest.Options{})
}

func TestDirectory(t *testing.T) {
	storetest.RunDirectory(t, func(*testing.T) domain.PreKeyDirectory { return memory.New() })
}

func TestQueue(t *testing.T) {
	storetest.RunQueue(t, func(*testing.T) domain.MessageQueue { return memory.New() })
}
