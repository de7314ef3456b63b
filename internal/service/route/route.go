// Package route builds scheduled routes out of pending delivery requests and
// drives them through their lifecycle: accept, start, lockstep advancement,
// finish with the stock ledger write, cancel.
package route

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tungvs/charity-delivery/internal/config"
	"github.com/tungvs/charity-delivery/internal/db"
	"github.com/tungvs/charity-delivery/internal/events"
	"github.com/tungvs/charity-delivery/internal/repository"
	"github.com/tungvs/charity-delivery/internal/routing"
	"github.com/tungvs/charity-delivery/internal/service/stock"
)

type RequestRepo interface {
	ListPendingUnattached(ctx context.Context, deliveryType repository.DeliveryType, branchID uuid.UUID) ([]*repository.DeliveryRequest, error)
	GetItems(ctx context.Context, requestID uuid.UUID) ([]repository.DeliveryItem, error)
	GetItemsTx(ctx context.Context, tx db.Tx, requestID uuid.UUID) ([]repository.DeliveryItem, error)
	ListByRouteTx(ctx context.Context, tx db.Tx, routeID uuid.UUID) ([]*repository.DeliveryRequest, error)
	AttachToRouteTx(ctx context.Context, tx db.Tx, id, routeID uuid.UUID) error
	DetachFromRouteTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.DeliveryStatus) error
	UpdateStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.DeliveryStatus) error
	UpdateItemReceivedTx(ctx context.Context, tx db.Tx, requestID, itemID uuid.UUID, received int) error
}

type RouteRepo interface {
	CreateTx(ctx context.Context, tx db.Tx, route *repository.ScheduledRoute, stops []repository.RouteStop) error
	GetByID(ctx context.Context, id uuid.UUID) (*repository.ScheduledRoute, error)
	GetByIDTx(ctx context.Context, tx db.Tx, id uuid.UUID) (*repository.ScheduledRoute, error)
	GetStops(ctx context.Context, routeID uuid.UUID) ([]repository.RouteStop, error)
	TryAcceptTx(ctx context.Context, tx db.Tx, id, courierID uuid.UUID) (bool, error)
	UpdateStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.RouteStatus) error
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*repository.ScheduledRoute, error)
}

type BranchRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.Branch, error)
	List(ctx context.Context) ([]*repository.Branch, error)
}

type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.User, error)
	UpdateLocation(ctx context.Context, id uuid.UUID, lat, lon float64) error
}

// Ledger is the slice of the stock service route finishing needs. Both calls
// run inside the route's own transaction so a failed ledger write rolls the
// terminal transition back.
type Ledger interface {
	ImportTx(ctx context.Context, tx db.Tx, actorID, branchID uuid.UUID, routeID, requestID *uuid.UUID, movementType repository.StockMovementType, lines []stock.ImportLine) (*repository.StockMovement, error)
	ExportByItemsTx(ctx context.Context, tx db.Tx, actorID, branchID uuid.UUID, routeID, requestID *uuid.UUID, lines []stock.ExportLine) (*repository.StockMovement, error)
}

type Service struct {
	db       db.DB
	requests RequestRepo
	routes   RouteRepo
	branches BranchRepo
	users    UserRepo
	ledger   Ledger
	provider routing.Provider
	emitter  *events.Emitter
	cfg      config.Config
	logger   *zap.Logger
}

func NewService(
	database db.DB,
	requests RequestRepo,
	routes RouteRepo,
	branches BranchRepo,
	users UserRepo,
	ledger Ledger,
	provider routing.Provider,
	emitter *events.Emitter,
	cfg config.Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:       database,
		requests: requests,
		routes:   routes,
		branches: branches,
		users:    users,
		ledger:   ledger,
		provider: provider,
		emitter:  emitter,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*repository.ScheduledRoute, []repository.RouteStop, error) {
	route, err := s.routes.GetByID(ctx, id)
	if err != nil {
		return nil, nil, mapNotFound(err)
	}
	stops, err := s.routes.GetStops(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return route, stops, nil
}
