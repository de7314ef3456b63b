package cache

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tungvs/charity-delivery/internal/repository"
)

type countingBranchRepo struct {
	branches  map[uuid.UUID]*repository.Branch
	getCalls  int
	listCalls int
}

func (r *countingBranchRepo) GetByID(_ context.Context, id uuid.UUID) (*repository.Branch, error) {
	r.getCalls++
	b, ok := r.branches[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return b, nil
}

func (r *countingBranchRepo) List(_ context.Context) ([]*repository.Branch, error) {
	r.listCalls++
	out := make([]*repository.Branch, 0, len(r.branches))
	for _, b := range r.branches {
		out = append(out, b)
	}
	return out, nil
}

func newBranch(name string) *repository.Branch {
	return &repository.Branch{ID: uuid.New(), Name: name, Lat: 10.76, Lon: 106.66}
}

func TestBranchCacheServesLoadedData(t *testing.T) {
	ctx := context.Background()
	a, b := newBranch("district 1"), newBranch("district 7")
	repo := &countingBranchRepo{branches: map[uuid.UUID]*repository.Branch{a.ID: a, b.ID: b}}
	c := NewBranchCache(repo, zap.NewNop())
	require.NoError(t, c.LoadInitialData(ctx))

	got, err := c.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Name, got.Name)
	assert.Zero(t, repo.getCalls, "loaded branches never hit the repository")

	all, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, repo.listCalls, "only the initial load lists the table")
}

func TestBranchCacheReadThroughOnMiss(t *testing.T) {
	ctx := context.Background()
	repo := &countingBranchRepo{branches: map[uuid.UUID]*repository.Branch{}}
	c := NewBranchCache(repo, zap.NewNop())
	require.NoError(t, c.LoadInitialData(ctx))

	late := newBranch("new branch")
	repo.branches[late.ID] = late

	got, err := c.GetByID(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, late.ID, got.ID)
	assert.Equal(t, 1, repo.getCalls)

	_, err = c.GetByID(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.getCalls, "a miss is remembered")
}

func TestBranchCacheUnknownBranch(t *testing.T) {
	repo := &countingBranchRepo{branches: map[uuid.UUID]*repository.Branch{}}
	c := NewBranchCache(repo, zap.NewNop())

	_, err := c.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrObjectNotFound)
}

func TestBranchCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	a := newBranch("original")
	repo := &countingBranchRepo{branches: map[uuid.UUID]*repository.Branch{a.ID: a}}
	c := NewBranchCache(repo, zap.NewNop())
	require.NoError(t, c.LoadInitialData(ctx))

	got, err := c.GetByID(ctx, a.ID)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := c.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Name)
}
