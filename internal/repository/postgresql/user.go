package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/tungvs/charity-delivery/internal/db"
	"github.com/tungvs/charity-delivery/internal/repository"
)

// UserRepo reads courier profiles. Authentication lives upstream; the only
// thing the core needs here is the last known location for range checks when
// Accept is called without explicit coordinates.
type UserRepo struct {
	db db.DB
}

func NewUserRepo(db db.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.User, error) {
	var user repository.User
	err := r.db.Get(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateLocation stores the courier's latest reported position.
func (r *UserRepo) UpdateLocation(ctx context.Context, id uuid.UUID, lat, lon float64) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE users SET last_lat = $2, last_lon = $3, updated_at = $4 WHERE id = $1
    `, id, lat, lon, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update user location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}
