package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/port"
)

type versionRepo struct {
	port.DefinitionRepository
	versionsFunc func(ctx context.Context) (map[int64]int64, error)
}

func (r *versionRepo) Versions(ctx context.Context) (map[int64]int64, error) {
	return r.versionsFunc(ctx)
}

type fakeCatalog struct {
	mu      sync.Mutex
	cached  map[int64]int64
	evicted []int64
}

func (c *fakeCatalog) Cached() map[int64]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]int64, len(c.cached))
	for k, v := range c.cached {
		out[k] = v
	}
	return out
}

func (c *fakeCatalog) Invalidate(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cached, id)
	c.evicted = append(c.evicted, id)
}

func (c *fakeCatalog) Evicted() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]int64(nil), c.evicted...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestCatalogRefresher_Refresh(t *testing.T) {
	catalog := &fakeCatalog{cached: map[int64]int64{1: 1, 2: 3, 3: 1}}
	repo := &versionRepo{versionsFunc: func(context.Context) (map[int64]int64, error) {
		// 1 unchanged, 2 bumped, 3 gone
		return map[int64]int64{1: 1, 2: 4}, nil
	}}

	r := NewCatalogRefresher(repo, catalog, time.Minute, zap.NewNop())
	n, err := r.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{2, 3}, catalog.Evicted())
	assert.Equal(t, map[int64]int64{1: 1}, catalog.Cached())
}

func TestCatalogRefresher_EmptyCacheSkipsStore(t *testing.T) {
	called := false
	repo := &versionRepo{versionsFunc: func(context.Context) (map[int64]int64, error) {
		called = true
		return nil, nil
	}}

	n, err := NewCatalogRefresher(repo, &fakeCatalog{}, time.Minute, zap.NewNop()).Refresh(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, called)
}

func TestCatalogRefresher_StoreError(t *testing.T) {
	catalog := &fakeCatalog{cached: map[int64]int64{1: 1}}
	repo := &versionRepo{versionsFunc: func(context.Context) (map[int64]int64, error) {
		return nil, errors.New("database is closed")
	}}

	_, err := NewCatalogRefresher(repo, catalog, time.Minute, zap.NewNop()).Refresh(context.Background())
	assert.Error(t, err)
	assert.Empty(t, catalog.Evicted())
}

func TestCatalogRefresher_PollsUntilStopped(t *testing.T) {
	catalog := &fakeCatalog{cached: map[int64]int64{5: 1}}
	repo := &versionRepo{versionsFunc: func(context.Context) (map[int64]int64, error) {
		return map[int64]int64{5: 2}, nil
	}}

	r := NewCatalogRefresher(repo, catalog, 10*time.Millisecond, zap.NewNop())
	require.NoError(t, r.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return len(catalog.Evicted()) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
}
