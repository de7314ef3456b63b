// Package stock is the append-only ledger of inventory movements and the
// materialized per-batch quantities behind it. Imports create batches,
// exports consume them FIFO by soonest expiration; the ledger entry and the
// batch change always commit in one transaction.
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tungvs/charity-delivery/internal/apperr"
	"github.com/tungvs/charity-delivery/internal/auth"
	"github.com/tungvs/charity-delivery/internal/db"
	"github.com/tungvs/charity-delivery/internal/metrics"
	"github.com/tungvs/charity-delivery/internal/repository"
)

// defaultShelfLife stamps imports that arrive without a donor-declared
// expiration.
const defaultShelfLife = 90 * 24 * time.Hour

type Repo interface {
	ListBatchesForUpdateTx(ctx context.Context, tx db.Tx, branchID, itemID uuid.UUID) ([]*repository.Stock, error)
	GetBatchForUpdateTx(ctx context.Context, tx db.Tx, id uuid.UUID) (*repository.Stock, error)
	InsertBatchTx(ctx context.Context, tx db.Tx, batch *repository.Stock) error
	DecrementBatchTx(ctx context.Context, tx db.Tx, id uuid.UUID, qty int) error
	InsertMovementTx(ctx context.Context, tx db.Tx, m *repository.StockMovement, details []repository.StockMovementDetail) error
	Available(ctx context.Context, branchID, itemID uuid.UUID) (int, error)
	ListMovements(ctx context.Context, branchID uuid.UUID, from, to time.Time, page, limit int) ([]*repository.StockMovement, error)
	ListMovementDetails(ctx context.Context, movementID uuid.UUID) ([]repository.StockMovementDetail, error)
}

type Service struct {
	db     db.DB
	repo   Repo
	logger *zap.Logger
}

func NewService(database db.DB, repo Repo, logger *zap.Logger) *Service {
	return &Service{db: database, repo: repo, logger: logger}
}

// ImportLine is one item of an incoming movement.
type ImportLine struct {
	ItemID    uuid.UUID
	Quantity  int
	ExpiresAt *time.Time
}

// ExportLine is one item of an outgoing movement allocated FIFO.
type ExportLine struct {
	ItemID   uuid.UUID
	Quantity int
}

// BatchLine exports a specific batch directly (expired-stock write-off).
type BatchLine struct {
	StockID  uuid.UUID
	Quantity int
}

// RecordImport appends an import movement and creates one batch per line.
func (s *Service) RecordImport(ctx context.Context, caller auth.Caller, branchID uuid.UUID, routeID, requestID *uuid.UUID, movementType repository.StockMovementType, lines []ImportLine) (*repository.StockMovement, error) {
	if !movementType.Import() {
		return nil, apperr.Validation("type", "not an import movement type")
	}
	if err := s.authorize(caller, branchID); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, apperr.Validation("items", "import requires at least one item")
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, apperr.Validation("quantity", "must be positive")
		}
	}

	var movement *repository.StockMovement
	err := db.InTx(ctx, s.db, func(tx db.Tx) error {
		var err error
		movement, err = s.ImportTx(ctx, tx, caller.UserID, branchID, routeID, requestID, movementType, lines)
		return err
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// ImportTx is the transactional core of RecordImport; the route lifecycle
// calls it inside the finishing transaction so a failed ledger write rolls
// back the route transition with it.
func (s *Service) ImportTx(ctx context.Context, tx db.Tx, actorID, branchID uuid.UUID, routeID, requestID *uuid.UUID, movementType repository.StockMovementType, lines []ImportLine) (*repository.StockMovement, error) {
	now := time.Now().UTC()
	movement := &repository.StockMovement{
		ID:        uuid.New(),
		Type:      movementType,
		BranchID:  branchID,
		RouteID:   routeID,
		RequestID: requestID,
		ActorID:   actorID,
		CreatedAt: now,
	}

	details := make([]repository.StockMovementDetail, 0, len(lines))
	for _, l := range lines {
		expires := now.Add(defaultShelfLife)
		if l.ExpiresAt != nil {
			expires = l.ExpiresAt.UTC()
		}
		batch := &repository.Stock{
			ID:        uuid.New(),
			BranchID:  branchID,
			ItemID:    l.ItemID,
			Quantity:  l.Quantity,
			ExpiresAt: expires,
			CreatedAt: now,
		}
		if err := s.repo.InsertBatchTx(ctx, tx, batch); err != nil {
			return nil, err
		}
		batchID := batch.ID
		details = append(details, repository.StockMovementDetail{
			ItemID:   l.ItemID,
			StockID:  &batchID,
			Quantity: l.Quantity,
		})
	}

	if err := s.repo.InsertMovementTx(ctx, tx, movement, details); err != nil {
		return nil, err
	}
	return movement, nil
}

// RecordExportByItems allocates the requested quantities FIFO by soonest
// expiration. The call is atomic: any shortfall raises InsufficientStock and
// nothing is applied.
func (s *Service) RecordExportByItems(ctx context.Context, caller auth.Caller, branchID uuid.UUID, routeID *uuid.UUID, lines []ExportLine) (*repository.StockMovement, error) {
	if err := s.authorize(caller, branchID); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, apperr.Validation("items", "export requires at least one item")
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, apperr.Validation("quantity", "must be positive")
		}
	}

	var movement *repository.StockMovement
	err := db.InTx(ctx, s.db, func(tx db.Tx) error {
		var err error
		movement, err = s.ExportByItemsTx(ctx, tx, caller.UserID, branchID, routeID, nil, lines)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.StockExportsTotal.Inc()
	return movement, nil
}

// ExportByItemsTx allocates within an existing transaction. Batches are
// locked FOR UPDATE in expiration order, which serializes concurrent exports
// on the same (branch, item).
func (s *Service) ExportByItemsTx(ctx context.Context, tx db.Tx, actorID, branchID uuid.UUID, routeID, requestID *uuid.UUID, lines []ExportLine) (*repository.StockMovement, error) {
	now := time.Now().UTC()
	movement := &repository.StockMovement{
		ID:        uuid.New(),
		Type:      repository.MovementExportByItems,
		BranchID:  branchID,
		RouteID:   routeID,
		RequestID: requestID,
		ActorID:   actorID,
		CreatedAt: now,
	}

	var details []repository.StockMovementDetail
	for _, l := range lines {
		batches, err := s.repo.ListBatchesForUpdateTx(ctx, tx, branchID, l.ItemID)
		if err != nil {
			return nil, err
		}

		available := 0
		for _, b := range batches {
			available += b.Quantity
		}
		if available < l.Quantity {
			metrics.InsufficientStockTotal.Inc()
			return nil, &apperr.InsufficientStockError{
				ItemID:    l.ItemID,
				Requested: l.Quantity,
				Available: available,
			}
		}

		remaining := l.Quantity
		for _, b := range batches {
			if remaining == 0 {
				break
			}
			take := b.Quantity
			if take > remaining {
				take = remaining
			}
			if err := s.repo.DecrementBatchTx(ctx, tx, b.ID, take); err != nil {
				return nil, err
			}
			batchID := b.ID
			details = append(details, repository.StockMovementDetail{
				ItemID:   l.ItemID,
				StockID:  &batchID,
				Quantity: take,
			})
			remaining -= take
		}
	}

	if err := s.repo.InsertMovementTx(ctx, tx, movement, details); err != nil {
		return nil, err
	}
	return movement, nil
}

// RecordExportByStocks exports specific batches directly, bypassing FIFO
// selection. Used for expired-stock write-offs.
func (s *Service) RecordExportByStocks(ctx context.Context, caller auth.Caller, branchID uuid.UUID, lines []BatchLine) (*repository.StockMovement, error) {
	if err := s.authorize(caller, branchID); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, apperr.Validation("stocks", "export requires at least one batch")
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, apperr.Validation("quantity", "must be positive")
		}
	}

	now := time.Now().UTC()
	movement := &repository.StockMovement{
		ID:        uuid.New(),
		Type:      repository.MovementExportByStocks,
		BranchID:  branchID,
		ActorID:   caller.UserID,
		CreatedAt: now,
	}

	err := db.InTx(ctx, s.db, func(tx db.Tx) error {
		details := make([]repository.StockMovementDetail, 0, len(lines))
		for _, l := range lines {
			batch, err := s.repo.GetBatchForUpdateTx(ctx, tx, l.StockID)
			if err != nil {
				return err
			}
			if batch.BranchID != branchID {
				return apperr.ErrForbidden
			}
			if batch.Quantity < l.Quantity {
				return &apperr.InsufficientStockError{
					ItemID:    batch.ItemID,
					Requested: l.Quantity,
					Available: batch.Quantity,
				}
			}
			if err := s.repo.DecrementBatchTx(ctx, tx, batch.ID, l.Quantity); err != nil {
				return err
			}
			batchID := batch.ID
			details = append(details, repository.StockMovementDetail{
				ItemID:   batch.ItemID,
				StockID:  &batchID,
				Quantity: l.Quantity,
			})
		}
		return s.repo.InsertMovementTx(ctx, tx, movement, details)
	})
	if err != nil {
		return nil, err
	}
	metrics.StockExportsTotal.Inc()
	return movement, nil
}

func (s *Service) Available(ctx context.Context, branchID, itemID uuid.UUID) (int, error) {
	return s.repo.Available(ctx, branchID, itemID)
}

// History pages through ledger entries for the reporting surface.
func (s *Service) History(ctx context.Context, caller auth.Caller, branchID uuid.UUID, from, to time.Time, page, limit int) ([]*repository.StockMovement, error) {
	if err := s.authorize(caller, branchID); err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	return s.repo.ListMovements(ctx, branchID, from, to, page, limit)
}

func (s *Service) Details(ctx context.Context, movementID uuid.UUID) ([]repository.StockMovementDetail, error) {
	return s.repo.ListMovementDetails(ctx, movementID)
}

func (s *Service) authorize(caller auth.Caller, branchID uuid.UUID) error {
	if !caller.CanManageBranch(branchID) {
		return fmt.Errorf("%w: ledger writes require branch admin of the target branch", apperr.ErrForbidden)
	}
	return nil
}
