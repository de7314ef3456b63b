package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/tungvs/charity-delivery/internal/db"
	"github.com/tungvs/charity-delivery/internal/repository"
)

// BranchRepo is read-only: branch management happens outside this core, the
// orchestration engine only needs names and coordinates.
type BranchRepo struct {
	db db.DB
}

func NewBranchRepo(db db.DB) *BranchRepo {
	return &BranchRepo{db: db}
}

func (r *BranchRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Branch, error) {
	var branch repository.Branch
	err := r.db.Get(ctx, &branch, "SELECT * FROM branches WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &branch, nil
}

func (r *BranchRepo) List(ctx context.Context) ([]*repository.Branch, error) {
	var branches []*repository.Branch
	err := r.db.Select(ctx, &branches, "SELECT * FROM branches ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return branches, nil
}
