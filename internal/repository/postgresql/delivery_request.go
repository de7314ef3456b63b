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

type DeliveryRequestRepo struct {
	db db.DB
}

func NewDeliveryRequestRepo(db db.DB) *DeliveryRequestRepo {
	return &DeliveryRequestRepo{db: db}
}

func (r *DeliveryRequestRepo) Create(ctx context.Context, req *repository.DeliveryRequest, items []repository.DeliveryItem) error {
	return db.InTx(ctx, r.db, func(tx db.Tx) error {
		return r.CreateTx(ctx, tx, req, items)
	})
}

func (r *DeliveryRequestRepo) CreateTx(ctx context.Context, tx db.Tx, req *repository.DeliveryRequest, items []repository.DeliveryItem) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO delivery_requests (
            id, delivery_type, status, branch_id, route_id,
            from_address, from_lat, from_lon, to_address, to_lat, to_lon,
            scheduled_day, window_start, window_end, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
    `, req.ID, req.Type, req.Status, req.BranchID, req.RouteID,
		req.FromAddress, req.FromLat, req.FromLon, req.ToAddress, req.ToLat, req.ToLon,
		req.ScheduledDay, req.WindowStart, req.WindowEnd, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert delivery request: %w", err)
	}

	for i := range items {
		item := &items[i]
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.RequestID = req.ID
		_, err := tx.Exec(ctx, `
            INSERT INTO delivery_items (
                id, request_id, item_id, quantity, received_quantity, unit_volume, expires_at
            ) VALUES ($1, $2, $3, $4, $5, $6, $7)
        `, item.ID, item.RequestID, item.ItemID, item.Quantity, item.ReceivedQuantity, item.UnitVolume, item.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert delivery item: %w", err)
		}
	}
	return nil
}

func (r *DeliveryRequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.DeliveryRequest, error) {
	var req repository.DeliveryRequest
	err := r.db.Get(ctx, &req, "SELECT * FROM delivery_requests WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &req, nil
}

// GetByIDTx locks the request row for the rest of the transaction.
func (r *DeliveryRequestRepo) GetByIDTx(ctx context.Context, tx db.Tx, id uuid.UUID) (*repository.DeliveryRequest, error) {
	var req repository.DeliveryRequest
	err := tx.Get(ctx, &req, "SELECT * FROM delivery_requests WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *DeliveryRequestRepo) GetItems(ctx context.Context, requestID uuid.UUID) ([]repository.DeliveryItem, error) {
	var items []repository.DeliveryItem
	err := r.db.Select(ctx, &items,
		"SELECT * FROM delivery_items WHERE request_id = $1 ORDER BY item_id", requestID)
	return items, err
}

func (r *DeliveryRequestRepo) GetItemsTx(ctx context.Context, tx db.Tx, requestID uuid.UUID) ([]repository.DeliveryItem, error) {
	var items []repository.DeliveryItem
	err := tx.Select(ctx, &items,
		"SELECT * FROM delivery_items WHERE request_id = $1 ORDER BY item_id", requestID)
	return items, err
}

// ListPendingUnattached returns PENDING requests of one type at one branch
// that no active route claims. This is the builder's candidate pool;
// requests already attached are skipped so re-running the builder never
// double-schedules.
func (r *DeliveryRequestRepo) ListPendingUnattached(ctx context.Context, deliveryType repository.DeliveryType, branchID uuid.UUID) ([]*repository.DeliveryRequest, error) {
	var reqs []*repository.DeliveryRequest
	err := r.db.Select(ctx, &reqs, `
        SELECT * FROM delivery_requests
        WHERE status = $1 AND delivery_type = $2 AND branch_id = $3 AND route_id IS NULL
        ORDER BY window_start ASC, created_at ASC
    `, repository.DeliveryPending, deliveryType, branchID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return reqs, nil
}

// ListByRouteTx locks every member request of a route in a stable order.
func (r *DeliveryRequestRepo) ListByRouteTx(ctx context.Context, tx db.Tx, routeID uuid.UUID) ([]*repository.DeliveryRequest, error) {
	var reqs []*repository.DeliveryRequest
	err := tx.Select(ctx, &reqs, `
        SELECT * FROM delivery_requests
        WHERE route_id = $1
        ORDER BY id
        FOR UPDATE
    `, routeID)
	if err != nil {
		return nil, fmt.Errorf("list route requests: %w", err)
	}
	return reqs, nil
}

func (r *DeliveryRequestRepo) UpdateStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.DeliveryStatus) error {
	tag, err := tx.Exec(ctx, `
        UPDATE delivery_requests SET status = $2, updated_at = $3 WHERE id = $1
    `, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

// AttachToRouteTx claims the request for a route. The status guard keeps a
// concurrently canceled request out of a freshly built route.
func (r *DeliveryRequestRepo) AttachToRouteTx(ctx context.Context, tx db.Tx, id, routeID uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
        UPDATE delivery_requests SET route_id = $2, updated_at = $3
        WHERE id = $1 AND status = $4 AND route_id IS NULL
    `, id, routeID, time.Now().UTC(), repository.DeliveryPending)
	if err != nil {
		return fmt.Errorf("attach request to route: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

// DetachFromRouteTx releases a member back to the builder's pool.
func (r *DeliveryRequestRepo) DetachFromRouteTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.DeliveryStatus) error {
	tag, err := tx.Exec(ctx, `
        UPDATE delivery_requests SET route_id = NULL, status = $2, updated_at = $3 WHERE id = $1
    `, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("detach request from route: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *DeliveryRequestRepo) SetCanceledTx(ctx context.Context, tx db.Tx, id uuid.UUID, reason string) error {
	tag, err := tx.Exec(ctx, `
        UPDATE delivery_requests
        SET status = $2, canceled_reason = $3, updated_at = $4
        WHERE id = $1
    `, id, repository.DeliveryCanceled, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *DeliveryRequestRepo) SetReportedTx(ctx context.Context, tx db.Tx, id uuid.UUID, reason string) error {
	tag, err := tx.Exec(ctx, `
        UPDATE delivery_requests
        SET status = $2, report_reason = $3, updated_at = $4
        WHERE id = $1
    `, id, repository.DeliveryReported, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("report request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *DeliveryRequestRepo) SetProofImageTx(ctx context.Context, tx db.Tx, id uuid.UUID, url string) error {
	tag, err := tx.Exec(ctx, `
        UPDATE delivery_requests SET proof_image_url = $2, updated_at = $3 WHERE id = $1
    `, id, url, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set proof image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *DeliveryRequestRepo) UpdateItemReceivedTx(ctx context.Context, tx db.Tx, requestID, itemID uuid.UUID, received int) error {
	tag, err := tx.Exec(ctx, `
        UPDATE delivery_items SET received_quantity = $3
        WHERE request_id = $1 AND item_id = $2
    `, requestID, itemID, received)
	if err != nil {
		return fmt.Errorf("update received quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

// ExpireStale moves PENDING, unattached requests older than cutoff to
// EXPIRED and returns how many were swept.
func (r *DeliveryRequestRepo) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE delivery_requests
        SET status = $1, updated_at = $2
        WHERE status = $3 AND route_id IS NULL AND created_at < $4
    `, repository.DeliveryExpired, time.Now().UTC(), repository.DeliveryPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale requests: %w", err)
	}
	return tag.RowsAffected(), nil
}
