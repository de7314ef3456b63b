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

type ScheduledRouteRepo struct {
	db db.DB
}

func NewScheduledRouteRepo(db db.DB) *ScheduledRouteRepo {
	return &ScheduledRouteRepo{db: db}
}

func (r *ScheduledRouteRepo) CreateTx(ctx context.Context, tx db.Tx, route *repository.ScheduledRoute, stops []repository.RouteStop) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO scheduled_routes (
            id, route_type, status, branch_id, scheduled_day, window_start, window_end,
            total_distance_meters, total_time_seconds, bulky_level,
            accepted_user_id, accepted_at, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    `, route.ID, route.Type, route.Status, route.BranchID,
		route.ScheduledDay, route.WindowStart, route.WindowEnd,
		route.TotalDistanceMeters, route.TotalTimeSeconds, route.BulkyLevel,
		route.AcceptedUserID, route.AcceptedAt, route.CreatedAt, route.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert scheduled route: %w", err)
	}

	for i := range stops {
		stop := &stops[i]
		if stop.ID == uuid.Nil {
			stop.ID = uuid.New()
		}
		stop.RouteID = route.ID
		_, err := tx.Exec(ctx, `
            INSERT INTO route_stops (
                id, route_id, seq, kind, request_id, address, lat, lon,
                leg_distance_meters, leg_duration_seconds
            ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        `, stop.ID, stop.RouteID, stop.Seq, stop.Kind, stop.RequestID,
			stop.Address, stop.Lat, stop.Lon, stop.LegDistanceMeters, stop.LegDurationSeconds)
		if err != nil {
			return fmt.Errorf("insert route stop: %w", err)
		}
	}
	return nil
}

func (r *ScheduledRouteRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.ScheduledRoute, error) {
	var route repository.ScheduledRoute
	err := r.db.Get(ctx, &route, "SELECT * FROM scheduled_routes WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &route, nil
}

func (r *ScheduledRouteRepo) GetByIDTx(ctx context.Context, tx db.Tx, id uuid.UUID) (*repository.ScheduledRoute, error) {
	var route repository.ScheduledRoute
	err := tx.Get(ctx, &route, "SELECT * FROM scheduled_routes WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &route, nil
}

func (r *ScheduledRouteRepo) GetStops(ctx context.Context, routeID uuid.UUID) ([]repository.RouteStop, error) {
	var stops []repository.RouteStop
	err := r.db.Select(ctx, &stops,
		"SELECT * FROM route_stops WHERE route_id = $1 ORDER BY seq ASC", routeID)
	return stops, err
}

// TryAcceptTx is the compare-and-set behind route acceptance: the guard on
// status and accepted_user_id makes exactly one of any number of concurrent
// callers win. Returns false when the row was already taken (or is past
// PENDING). Runs inside the caller's transaction so the accepted event is
// enqueued atomically with the claim.
func (r *ScheduledRouteRepo) TryAcceptTx(ctx context.Context, tx db.Tx, id, courierID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
        UPDATE scheduled_routes
        SET status = $2, accepted_user_id = $3, accepted_at = $4, updated_at = $4
        WHERE id = $1 AND status = $5 AND accepted_user_id IS NULL
    `, id, repository.RouteAccepted, courierID, now, repository.RoutePending)
	if err != nil {
		return false, fmt.Errorf("accept route: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ScheduledRouteRepo) UpdateStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.RouteStatus) error {
	tag, err := tx.Exec(ctx, `
        UPDATE scheduled_routes SET status = $2, updated_at = $3 WHERE id = $1
    `, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update route status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

// ListStalePending returns PENDING routes nobody accepted before the cutoff.
// The deadline sweep cancels them and releases their members.
func (r *ScheduledRouteRepo) ListStalePending(ctx context.Context, cutoff time.Time) ([]*repository.ScheduledRoute, error) {
	var routes []*repository.ScheduledRoute
	err := r.db.Select(ctx, &routes, `
        SELECT * FROM scheduled_routes
        WHERE status = $1 AND created_at < $2
        ORDER BY created_at ASC
    `, repository.RoutePending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale pending routes: %w", err)
	}
	return routes, nil
}
