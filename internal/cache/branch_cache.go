// Package cache holds the in-process branch cache. Branch rows are small,
// read on every build and accept, and change rarely, so they are loaded once
// at startup and refreshed explicitly.
package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tungvs/charity-delivery/internal/metrics"
	"github.com/tungvs/charity-delivery/internal/repository"
)

type BranchRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.Branch, error)
	List(ctx context.Context) ([]*repository.Branch, error)
}

// BranchCache is a read-through copy of the branches table. It satisfies the
// same interface as the underlying repository.
type BranchCache struct {
	mu     sync.RWMutex
	cache  map[uuid.UUID]*repository.Branch
	repo   BranchRepository
	logger *zap.Logger
}

func NewBranchCache(repo BranchRepository, logger *zap.Logger) *BranchCache {
	return &BranchCache{
		cache:  make(map[uuid.UUID]*repository.Branch),
		repo:   repo,
		logger: logger,
	}
}

func (c *BranchCache) LoadInitialData(ctx context.Context) error {
	branches, err := c.repo.List(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range branches {
		cp := *b
		c.cache[b.ID] = &cp
	}
	metrics.BranchCacheItems.Set(float64(len(c.cache)))
	c.logger.Info("branch cache loaded", zap.Int("branches", len(c.cache)))
	return nil
}

func (c *BranchCache) GetByID(ctx context.Context, id uuid.UUID) (*repository.Branch, error) {
	c.mu.RLock()
	b, found := c.cache[id]
	c.mu.RUnlock()
	if found {
		cp := *b
		return &cp, nil
	}

	// Miss: a branch created after startup. Fall through and remember it.
	b, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Set(b)
	return b, nil
}

func (c *BranchCache) List(ctx context.Context) ([]*repository.Branch, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.cache) == 0 {
		return c.repo.List(ctx)
	}
	out := make([]*repository.Branch, 0, len(c.cache))
	for _, b := range c.cache {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (c *BranchCache) Set(b *repository.Branch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *b
	c.cache[b.ID] = &cp
	metrics.BranchCacheItems.Set(float64(len(c.cache)))
}
