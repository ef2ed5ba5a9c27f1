package treecache_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverrun-ai/orchestrator/domain"
	"github.com/riverrun-ai/orchestrator/llm/mockllm"
	"github.com/riverrun-ai/orchestrator/repository"
	"github.com/riverrun-ai/orchestrator/treecache"
)

func seedTree(t *testing.T) *repository.InMemoryRepository {
	t.Helper()
	repo := repository.NewInMemoryRepository()
	repo.SeedAgent(domain.Agent{ID: "root", SessionID: "s1", Role: "coordinator"}, "")
	repo.SeedAgent(domain.Agent{ID: "child1", SessionID: "s1", Role: "billing"}, "root")
	repo.SeedAgent(domain.Agent{ID: "child2", SessionID: "s1", Role: "support"}, "root")
	return repo
}

func TestGetOrBuildFallsBackToRoleWithoutAPIKey(t *testing.T) {
	repo := seedTree(t)
	cache := treecache.New(repo, mockllm.New(false), nil)

	snap, err := cache.GetOrBuild(context.Background(), "s1", "root", "")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.AgentCount)
	assert.Equal(t, []string{"coordinator"}, snap.Nodes["root"].Capability.Keywords)
	assert.Equal(t, 1, snap.MaxDepth)
}

func TestGetOrBuildCachesUntilInvalidated(t *testing.T) {
	repo := seedTree(t)
	cache := treecache.New(repo, mockllm.New(false), nil)
	ctx := context.Background()

	first, err := cache.GetOrBuild(ctx, "s1", "root", "")
	require.NoError(t, err)

	second, err := cache.GetOrBuild(ctx, "s1", "root", "")
	require.NoError(t, err)
	assert.Same(t, first, second)

	cache.Invalidate("s1", nil)
	third, err := cache.GetOrBuild(ctx, "s1", "root", "")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestInvalidatingRepositorySetParentInvalidatesCache(t *testing.T) {
	repo := seedTree(t)
	repo.SeedAgent(domain.Agent{ID: "child3", SessionID: "s1", Role: "other"}, "")
	cache := treecache.New(repo, mockllm.New(false), nil)
	invalidating := treecache.NewInvalidatingRepository(repo, cache)
	ctx := context.Background()

	first, err := cache.GetOrBuild(ctx, "s1", "root", "")
	require.NoError(t, err)

	require.NoError(t, invalidating.SetParent(ctx, "s1", "child3", "root"))

	second, err := cache.GetOrBuild(ctx, "s1", "root", "")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 4, second.AgentCount)
}

func TestGetOrBuildCoalescesConcurrentBuilds(t *testing.T) {
	repo := seedTree(t)
	cache := treecache.New(repo, mockllm.New(false), nil)

	var wg sync.WaitGroup
	results := make([]*domain.AgentTreeSnapshot, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := cache.GetOrBuild(context.Background(), "s1", "root", "key")
			require.NoError(t, err)
			results[i] = snap
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}
