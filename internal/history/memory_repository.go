package history

import (
	"context"
	"errors"
	"time"

	"github.com/bluele/gcache"
	"github.com/google/uuid"

	"github.com/wayforge/wayforge/internal/optimizer"
)

// MemoryRepository keeps the most recent results in an LRU cache.
type MemoryRepository struct {
	cache gcache.Cache
}

// NewMemoryRepository creates a repository holding up to size results for
// at most ttl each.
func NewMemoryRepository(size int, ttl time.Duration) *MemoryRepository {
	if size <= 0 {
		size = 10000
	}
	b := gcache.New(size).LRU()
	if ttl > 0 {
		b = b.Expiration(ttl)
	}
	return &MemoryRepository{cache: b.Build()}
}

// Save implements Repository.
func (r *MemoryRepository) Save(_ context.Context, result *optimizer.Result) error {
	return r.cache.Set(result.ID, result)
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*optimizer.Result, error) {
	v, err := r.cache.Get(id)
	if errors.Is(err, gcache.KeyNotFoundError) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v.(*optimizer.Result), nil
}

// Ensure MemoryRepository implements Repository interface.
var _ Repository = (*MemoryRepository)(nil)
