package treecache

import (
	"context"

	"github.com/riverrun-ai/orchestrator/repository"
)

// InvalidatingRepository wraps a repository.Repository so that SetParent,
// the only agent-tree mutation in the Repository interface, also
// invalidates every cached snapshot for the session. Agents added or
// changed outside that interface (InMemoryRepository.SeedAgent,
// sqliterepo's CreateAgent) do not invalidate the cache. It lives here rather than in
// repository to avoid an import cycle (repository must not depend on
// treecache).
type InvalidatingRepository struct {
	repository.Repository
	cache *Cache
}

// NewInvalidatingRepository wraps repo so SetParent invalidates cache.
func NewInvalidatingRepository(repo repository.Repository, cache *Cache) *InvalidatingRepository {
	return &InvalidatingRepository{Repository: repo, cache: cache}
}

// SetParent re-parents childID within sessionID, then invalidates every
// cached snapshot for that session: re-parenting can change the shape of
// any snapshot rooted above or below the affected agent, not just the one
// rooted at its old or new parent.
func (r *InvalidatingRepository) SetParent(ctx context.Context, sessionID, childID, parentID string) error {
	if err := r.Repository.SetParent(ctx, sessionID, childID, parentID); err != nil {
		return err
	}
	r.cache.Invalidate(sessionID, nil)
	return nil
}
