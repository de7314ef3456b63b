// Package delivery owns the lifecycle of a single delivery request. Happy
// path transitions (ACCEPTED through FINISHED) are driven exclusively by the
// owning scheduled route; this service covers everything a request does on
// its own: creation, received-quantity confirmation, proof images, cancels,
// reports and expiry.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tungvs/charity-delivery/internal/apperr"
	"github.com/tungvs/charity-delivery/internal/auth"
	"github.com/tungvs/charity-delivery/internal/config"
	"github.com/tungvs/charity-delivery/internal/db"
	"github.com/tungvs/charity-delivery/internal/events"
	"github.com/tungvs/charity-delivery/internal/metrics"
	"github.com/tungvs/charity-delivery/internal/repository"
)

type RequestRepo interface {
	Create(ctx context.Context, req *repository.DeliveryRequest, items []repository.DeliveryItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*repository.DeliveryRequest, error)
	GetByIDTx(ctx context.Context, tx db.Tx, id uuid.UUID) (*repository.DeliveryRequest, error)
	GetItems(ctx context.Context, requestID uuid.UUID) ([]repository.DeliveryItem, error)
	GetItemsTx(ctx context.Context, tx db.Tx, requestID uuid.UUID) ([]repository.DeliveryItem, error)
	UpdateStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.DeliveryStatus) error
	DetachFromRouteTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.DeliveryStatus) error
	SetCanceledTx(ctx context.Context, tx db.Tx, id uuid.UUID, reason string) error
	SetReportedTx(ctx context.Context, tx db.Tx, id uuid.UUID, reason string) error
	SetProofImageTx(ctx context.Context, tx db.Tx, id uuid.UUID, url string) error
	UpdateItemReceivedTx(ctx context.Context, tx db.Tx, requestID, itemID uuid.UUID, received int) error
	ExpireStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type RouteRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.ScheduledRoute, error)
}

type Service struct {
	db      db.DB
	repo    RequestRepo
	routes  RouteRepo
	emitter *events.Emitter
	cfg     config.Expiry
	logger  *zap.Logger
}

func NewService(database db.DB, repo RequestRepo, routes RouteRepo, emitter *events.Emitter, cfg config.Expiry, logger *zap.Logger) *Service {
	return &Service{db: database, repo: repo, routes: routes, emitter: emitter, cfg: cfg, logger: logger}
}

// CreateParams is the input of the request-creation workflows (aid request
// and donated request confirmation).
type CreateParams struct {
	Type         repository.DeliveryType
	BranchID     uuid.UUID
	FromAddress  string
	FromLat      float64
	FromLon      float64
	ToAddress    string
	ToLat        float64
	ToLon        float64
	ScheduledDay time.Time
	WindowStart  time.Time
	WindowEnd    time.Time
	Items        []ItemParams
}

type ItemParams struct {
	ItemID     uuid.UUID
	Quantity   int
	UnitVolume float64
	ExpiresAt  *time.Time
}

func (s *Service) Create(ctx context.Context, caller auth.Caller, p CreateParams) (*repository.DeliveryRequest, error) {
	if !p.Type.Valid() {
		return nil, apperr.Validation("deliveryType", "unknown delivery type")
	}
	if !p.WindowStart.Before(p.WindowEnd) {
		return nil, apperr.Validation("scheduledTime", "window start must precede end")
	}
	if !repository.SameDay(p.ScheduledDay, p.WindowStart) || !repository.SameDay(p.ScheduledDay, p.WindowEnd) {
		return nil, apperr.Validation("scheduledTime", "window must fall on the scheduled day")
	}
	if len(p.Items) == 0 {
		return nil, apperr.Validation("items", "request requires at least one item")
	}
	for _, it := range p.Items {
		if it.Quantity <= 0 {
			return nil, apperr.Validation("quantity", "must be positive")
		}
		if it.UnitVolume <= 0 {
			return nil, apperr.Validation("unitVolume", "must be positive")
		}
	}

	now := time.Now().UTC()
	req := &repository.DeliveryRequest{
		ID:           uuid.New(),
		Type:         p.Type,
		Status:       repository.DeliveryPending,
		BranchID:     p.BranchID,
		FromAddress:  p.FromAddress,
		FromLat:      p.FromLat,
		FromLon:      p.FromLon,
		ToAddress:    p.ToAddress,
		ToLat:        p.ToLat,
		ToLon:        p.ToLon,
		ScheduledDay: p.ScheduledDay,
		WindowStart:  p.WindowStart,
		WindowEnd:    p.WindowEnd,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	items := make([]repository.DeliveryItem, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, repository.DeliveryItem{
			ItemID:     it.ItemID,
			Quantity:   it.Quantity,
			UnitVolume: it.UnitVolume,
			ExpiresAt:  it.ExpiresAt,
		})
	}

	if err := s.repo.Create(ctx, req, items); err != nil {
		return nil, fmt.Errorf("create delivery request: %w", err)
	}
	s.logger.Info("delivery request created",
		zap.String("request_id", req.ID.String()),
		zap.String("type", string(req.Type)))
	return req, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*repository.DeliveryRequest, []repository.DeliveryItem, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, s.mapNotFound(err)
	}
	items, err := s.repo.GetItems(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return req, items, nil
}

// ReceivedLine confirms how much of one item was actually collected.
type ReceivedLine struct {
	ItemID   uuid.UUID
	Received int
}

// UpdateReceivedQuantity records partial fulfillment right after pickup,
// while the request sits in COLLECTED. Items missing from lines are treated
// as received quantity zero.
func (s *Service) UpdateReceivedQuantity(ctx context.Context, caller auth.Caller, requestID uuid.UUID, lines []ReceivedLine) error {
	return db.InTx(ctx, s.db, func(tx db.Tx) error {
		req, err := s.repo.GetByIDTx(ctx, tx, requestID)
		if err != nil {
			return s.mapNotFound(err)
		}
		if err := s.requireCourier(ctx, caller, req); err != nil {
			return err
		}
		if req.Status != repository.DeliveryCollected {
			return apperr.InvalidTransition("delivery request", string(req.Status), "update received quantity")
		}

		items, err := s.repo.GetItemsTx(ctx, tx, requestID)
		if err != nil {
			return err
		}
		received := make(map[uuid.UUID]int, len(lines))
		for _, l := range lines {
			if l.Received < 0 {
				return apperr.Validation("received", "must not be negative")
			}
			received[l.ItemID] = l.Received
		}
		for _, item := range items {
			got, ok := received[item.ItemID]
			if !ok {
				got = 0
			}
			if got > item.Quantity {
				return apperr.Validation("received", "exceeds requested quantity")
			}
			if err := s.repo.UpdateItemReceivedTx(ctx, tx, requestID, item.ItemID, got); err != nil {
				return err
			}
			delete(received, item.ItemID)
		}
		if len(received) > 0 {
			return apperr.Validation("items", "unknown item in received quantities")
		}
		return nil
	})
}

// AttachProofImage records photographic evidence of the hand-off. Only the
// accepting courier may attach it, only at ARRIVED_DELIVERY, and only for
// flows that end away from the branch.
func (s *Service) AttachProofImage(ctx context.Context, caller auth.Caller, requestID uuid.UUID, url string) error {
	if url == "" {
		return apperr.Validation("url", "proof image url is required")
	}
	return db.InTx(ctx, s.db, func(tx db.Tx) error {
		req, err := s.repo.GetByIDTx(ctx, tx, requestID)
		if err != nil {
			return s.mapNotFound(err)
		}
		if req.Type != repository.DeliveryBranchToAid && req.Type != repository.DeliveryBranchToBranch {
			return apperr.Validation("deliveryType", "proof images apply to outbound deliveries only")
		}
		if err := s.requireCourier(ctx, caller, req); err != nil {
			return err
		}
		if req.Status != repository.DeliveryArrivedDelivery {
			return apperr.InvalidTransition("delivery request", string(req.Status), "attach proof image")
		}
		return s.repo.SetProofImageTx(ctx, tx, requestID, url)
	})
}

// Cancel aborts a request. Which statuses allow it depends on the delivery
// type; the reason is mandatory free text.
func (s *Service) Cancel(ctx context.Context, caller auth.Caller, requestID uuid.UUID, reason string) error {
	if reason == "" {
		return apperr.Validation("reason", "cancellation reason is required")
	}
	err := db.InTx(ctx, s.db, func(tx db.Tx) error {
		req, err := s.repo.GetByIDTx(ctx, tx, requestID)
		if err != nil {
			return s.mapNotFound(err)
		}
		if !caller.CanManageBranch(req.BranchID) {
			return apperr.ErrForbidden
		}
		if !req.Status.CancelableFor(req.Type) {
			return apperr.InvalidTransition("delivery request", string(req.Status), "cancel")
		}
		return s.repo.SetCanceledTx(ctx, tx, requestID, reason)
	})
	if err != nil {
		return err
	}
	metrics.RequestsCanceledTotal.Inc()
	return nil
}

// Report flags a problem with an in-flight or finished request. Couriers and
// charity units raise it; a branch admin resolves it via HandleReport.
func (s *Service) Report(ctx context.Context, caller auth.Caller, requestID uuid.UUID, reason string) error {
	if reason == "" {
		return apperr.Validation("reason", "report reason is required")
	}
	if caller.Role != auth.RoleCharity && caller.Role != auth.RoleContributor {
		return apperr.ErrForbidden
	}
	return db.InTx(ctx, s.db, func(tx db.Tx) error {
		req, err := s.repo.GetByIDTx(ctx, tx, requestID)
		if err != nil {
			return s.mapNotFound(err)
		}
		if !req.Status.Reportable() {
			return apperr.InvalidTransition("delivery request", string(req.Status), "report")
		}
		if err := s.repo.SetReportedTx(ctx, tx, requestID, reason); err != nil {
			return err
		}
		reqID := req.ID
		actorID := caller.UserID
		return s.emitter.EmitTx(ctx, tx, events.Event{
			Kind:      events.RequestReported,
			RequestID: &reqID,
			BranchID:  req.BranchID,
			ActorID:   &actorID,
		})
	})
}

// HandleReport resolves a REPORTED request: back to PENDING (re-enters the
// builder pool) or to EXPIRED.
func (s *Service) HandleReport(ctx context.Context, caller auth.Caller, requestID uuid.UUID, next repository.DeliveryStatus) error {
	if next != repository.DeliveryPending && next != repository.DeliveryExpired {
		return apperr.Validation("nextStatus", "report resolves to PENDING or EXPIRED only")
	}
	return db.InTx(ctx, s.db, func(tx db.Tx) error {
		req, err := s.repo.GetByIDTx(ctx, tx, requestID)
		if err != nil {
			return s.mapNotFound(err)
		}
		if !caller.CanManageBranch(req.BranchID) {
			return apperr.ErrForbidden
		}
		if req.Status != repository.DeliveryReported {
			return apperr.InvalidTransition("delivery request", string(req.Status), "handle report")
		}
		// Re-entering the pool also leaves the old route.
		return s.repo.DetachFromRouteTx(ctx, tx, requestID, next)
	})
}

// ExpireStale sweeps PENDING requests past the configured age. A no-op when
// the sweep is disabled; then EXPIRED is reachable via HandleReport only.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	if !s.cfg.SweepEnabled {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.MaxAgeDays)
	n, err := s.repo.ExpireStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired stale delivery requests", zap.Int64("count", n))
	}
	return n, nil
}

// requireCourier checks that the caller is the courier who accepted the
// route this request belongs to.
func (s *Service) requireCourier(ctx context.Context, caller auth.Caller, req *repository.DeliveryRequest) error {
	if req.RouteID == nil {
		return apperr.ErrForbidden
	}
	route, err := s.routes.GetByID(ctx, *req.RouteID)
	if err != nil {
		return s.mapNotFound(err)
	}
	if route.AcceptedUserID == nil || *route.AcceptedUserID != caller.UserID {
		return apperr.ErrForbidden
	}
	return nil
}

func (s *Service) mapNotFound(err error) error {
	if err == repository.ErrObjectNotFound {
		return apperr.ErrNotFound
	}
	return err
}
