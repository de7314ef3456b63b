package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tungvs/charity-delivery/internal/db"
	"github.com/tungvs/charity-delivery/internal/repository"
)

type StockRepo struct {
	db db.DB
}

func NewStockRepo(db db.DB) *StockRepo {
	return &StockRepo{db: db}
}

// ListBatchesForUpdateTx locks every batch of one (branch, item) in FIFO
// order, soonest expiration first. The lock serializes concurrent exports so
// two callers can never allocate the same batch twice.
func (r *StockRepo) ListBatchesForUpdateTx(ctx context.Context, tx db.Tx, branchID, itemID uuid.UUID) ([]*repository.Stock, error) {
	var batches []*repository.Stock
	err := tx.Select(ctx, &batches, `
        SELECT * FROM stocks
        WHERE branch_id = $1 AND item_id = $2 AND quantity > 0
        ORDER BY expires_at ASC, created_at ASC
        FOR UPDATE
    `, branchID, itemID)
	if err != nil {
		return nil, fmt.Errorf("lock stock batches: %w", err)
	}
	return batches, nil
}

func (r *StockRepo) GetBatchForUpdateTx(ctx context.Context, tx db.Tx, id uuid.UUID) (*repository.Stock, error) {
	var batch repository.Stock
	err := tx.Get(ctx, &batch, "SELECT * FROM stocks WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, repository.ErrObjectNotFound
	}
	return &batch, nil
}

func (r *StockRepo) InsertBatchTx(ctx context.Context, tx db.Tx, batch *repository.Stock) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO stocks (id, branch_id, item_id, quantity, expires_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, batch.ID, batch.BranchID, batch.ItemID, batch.Quantity, batch.ExpiresAt, batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert stock batch: %w", err)
	}
	return nil
}

// DecrementBatchTx subtracts qty from one locked batch. The quantity guard
// is a second line of defense behind the FOR UPDATE lock.
func (r *StockRepo) DecrementBatchTx(ctx context.Context, tx db.Tx, id uuid.UUID, qty int) error {
	tag, err := tx.Exec(ctx, `
        UPDATE stocks SET quantity = quantity - $2
        WHERE id = $1 AND quantity >= $2
    `, id, qty)
	if err != nil {
		return fmt.Errorf("decrement stock batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *StockRepo) InsertMovementTx(ctx context.Context, tx db.Tx, m *repository.StockMovement, details []repository.StockMovementDetail) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO stock_movements (id, movement_type, branch_id, route_id, request_id, actor_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, m.ID, m.Type, m.BranchID, m.RouteID, m.RequestID, m.ActorID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}

	for i := range details {
		d := &details[i]
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		d.MovementID = m.ID
		_, err := tx.Exec(ctx, `
            INSERT INTO stock_movement_details (id, movement_id, item_id, stock_id, quantity)
            VALUES ($1, $2, $3, $4, $5)
        `, d.ID, d.MovementID, d.ItemID, d.StockID, d.Quantity)
		if err != nil {
			return fmt.Errorf("insert stock movement detail: %w", err)
		}
	}
	return nil
}

// Available sums the remaining quantity across batches for one (branch,
// item). By construction this equals imports minus exports.
func (r *StockRepo) Available(ctx context.Context, branchID, itemID uuid.UUID) (int, error) {
	var total int
	err := r.db.ExecQueryRow(ctx, `
        SELECT COALESCE(SUM(quantity), 0) FROM stocks
        WHERE branch_id = $1 AND item_id = $2
    `, branchID, itemID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query available stock: %w", err)
	}
	return total, nil
}

// ListMovements pages through the ledger for the read-only history surface.
func (r *StockRepo) ListMovements(ctx context.Context, branchID uuid.UUID, from, to time.Time, page, limit int) ([]*repository.StockMovement, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var movements []*repository.StockMovement
	err := r.db.Select(ctx, &movements, `
        SELECT * FROM stock_movements
        WHERE branch_id = $1 AND created_at >= $2 AND created_at < $3
        ORDER BY created_at DESC
        LIMIT $4 OFFSET $5
    `, branchID, from, to, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	return movements, nil
}

func (r *StockRepo) ListMovementDetails(ctx context.Context, movementID uuid.UUID) ([]repository.StockMovementDetail, error) {
	var details []repository.StockMovementDetail
	err := r.db.Select(ctx, &details,
		"SELECT * FROM stock_movement_details WHERE movement_id = $1 ORDER BY item_id", movementID)
	return details, err
}
