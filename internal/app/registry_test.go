package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

func TestRegistryReusesAndReleasesSessions(t *testing.T) {
	registry := NewRegistry(testConfig(), store.NewMemoryStore(), nil)
	t.Cleanup(registry.Close)
	ctx := context.Background()

	first, err := registry.Acquire(ctx, Identity{ID: "u1"})
	require.NoError(t, err)
	second, err := registry.Acquire(ctx, Identity{ID: "u1"})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, registry.Len())

	registry.Release("u1")
	assert.Zero(t, registry.Len())
	status, _ := first.Status()
	assert.Equal(t, StatusStopped, status)
}

func TestRegistryForgetsFailedStarts(t *testing.T) {
	docs := store.NewMemoryStore()
	docs.FailNext(store.OpGet, store.CollectionUsers, 1, assert.AnError)
	registry := NewRegistry(testConfig(), docs, nil)
	t.Cleanup(registry.Close)

	_, err := registry.Acquire(context.Background(), Identity{ID: "u1"})
	require.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, registry.Len())

	_, err = registry.Acquire(context.Background(), Identity{ID: "u1"})
	require.NoError(t, err)
}
