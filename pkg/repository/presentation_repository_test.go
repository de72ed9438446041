package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgirmay/slidegenie-realtime/pkg/config"
	"github.com/jgirmay/slidegenie-realtime/pkg/models"
)

func TestPresentationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPresentationRepository(setupTestDB(t))

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	p := &models.Presentation{ID: "pres-1", OwnerID: "alice", Title: "Deck"}
	require.NoError(t, repo.Create(ctx, p))

	got, err := repo.Get(ctx, "pres-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)
	assert.False(t, got.IsPublic)

	p.IsPublic = true
	require.NoError(t, repo.Update(ctx, p))
	got, err = repo.Get(ctx, "pres-1")
	require.NoError(t, err)
	assert.True(t, got.IsPublic)

	assert.ErrorIs(t, repo.Update(ctx, &models.Presentation{ID: "nope"}), ErrNotFound)
}

func TestRegistryInitialize(t *testing.T) {
	db := setupTestDB(t)

	reg := NewRegistry(db, nil)
	require.NoError(t, reg.Initialize(config.LockBackendMemory))
	assert.IsType(t, &MemoryLockStore{}, reg.SlideLocks)

	require.NoError(t, reg.Initialize(config.LockBackendDatabase))
	assert.IsType(t, &GormLockStore{}, reg.SlideLocks)
	assert.NotNil(t, reg.Presentations)

	assert.Error(t, reg.Initialize(config.LockBackendRedis))
	assert.Error(t, reg.Initialize("zookeeper"))
}
