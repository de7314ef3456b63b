package route

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tungvs/charity-delivery/internal/apperr"
	"github.com/tungvs/charity-delivery/internal/auth"
	"github.com/tungvs/charity-delivery/internal/db"
	"github.com/tungvs/charity-delivery/internal/events"
	"github.com/tungvs/charity-delivery/internal/metrics"
	"github.com/tungvs/charity-delivery/internal/repository"
	"github.com/tungvs/charity-delivery/internal/routing"
	"github.com/tungvs/charity-delivery/internal/service/stock"
)

// Accept claims a PENDING route for the calling courier. The underlying
// update is a compare-and-set, so of any number of concurrent callers exactly
// one wins; the rest get ErrAlreadyAccepted without ever blocking.
//
// When lat/lon are nil the courier's last known profile location is used for
// the serviceable-range check against the route's first stop.
func (s *Service) Accept(ctx context.Context, caller auth.Caller, routeID uuid.UUID, lat, lon *float64) error {
	if caller.Role != auth.RoleContributor {
		return apperr.ErrForbidden
	}
	route, err := s.routes.GetByID(ctx, routeID)
	if err != nil {
		return mapNotFound(err)
	}
	if route.Status != repository.RoutePending {
		return apperr.ErrAlreadyAccepted
	}

	courier, err := s.courierPoint(ctx, caller.UserID, lat, lon)
	if err != nil {
		return err
	}
	first, err := s.firstStop(ctx, routeID)
	if err != nil {
		return err
	}
	distKm := routing.HaversineMeters(courier, routing.Point{Lat: first.Lat, Lon: first.Lon}) / 1000
	if distKm > s.cfg.Routing.ServiceableRangeKm {
		return apperr.Validation("location", "courier is outside the serviceable range of the first stop")
	}

	// The CAS and its event share a transaction: either the route is claimed
	// with an accepted event enqueued, or neither happened.
	won := false
	actorID := caller.UserID
	err = db.InTx(ctx, s.db, func(tx db.Tx) error {
		var err error
		won, err = s.routes.TryAcceptTx(ctx, tx, routeID, caller.UserID)
		if err != nil || !won {
			return err
		}
		return s.emitter.EmitTx(ctx, tx, events.Event{
			Kind:     events.RouteAccepted,
			RouteID:  &routeID,
			BranchID: route.BranchID,
			ActorID:  &actorID,
		})
	})
	if err != nil {
		return err
	}
	if !won {
		metrics.RouteAcceptConflictsTotal.Inc()
		return apperr.ErrAlreadyAccepted
	}
	metrics.RoutesAcceptedTotal.Inc()
	s.logger.Info("route accepted",
		zap.String("route_id", routeID.String()),
		zap.String("courier_id", caller.UserID.String()))
	return nil
}

// Start moves an ACCEPTED route to PROCESSING and its members from PENDING to
// ACCEPTED. Only the accepting courier may start.
func (s *Service) Start(ctx context.Context, caller auth.Caller, routeID uuid.UUID) error {
	return db.InTx(ctx, s.db, func(tx db.Tx) error {
		route, err := s.lockOwnedRoute(ctx, tx, caller, routeID)
		if err != nil {
			return err
		}
		if route.Status != repository.RouteAccepted {
			return apperr.InvalidTransition("route", string(route.Status), "start")
		}
		members, err := s.requests.ListByRouteTx(ctx, tx, routeID)
		if err != nil {
			return err
		}
		for _, m := range members {
			if m.Status != repository.DeliveryPending {
				continue
			}
			if err := s.requests.UpdateStatusTx(ctx, tx, m.ID, repository.DeliveryAccepted); err != nil {
				return err
			}
		}
		return s.routes.UpdateStatusTx(ctx, tx, routeID, repository.RouteProcessing)
	})
}

// AdvanceNext moves every in-flight member of a PROCESSING route one step
// along the happy path. Members parked in REPORTED or a terminal status are
// not moved, and an unresolved REPORTED member holds the route in PROCESSING.
// Once every remaining member is terminal the route finishes: the stock
// ledger is written and the route flips to FINISHED, all in one transaction.
// That includes the advance after a report resolution settled the last
// member; with members still open but nothing to move the call is a no-op.
func (s *Service) AdvanceNext(ctx context.Context, caller auth.Caller, routeID uuid.UUID) (*repository.ScheduledRoute, error) {
	var result *repository.ScheduledRoute
	err := db.InTx(ctx, s.db, func(tx db.Tx) error {
		route, err := s.lockOwnedRoute(ctx, tx, caller, routeID)
		if err != nil {
			return err
		}
		if route.Status != repository.RouteProcessing {
			return apperr.InvalidTransition("route", string(route.Status), "advance")
		}
		members, err := s.requests.ListByRouteTx(ctx, tx, routeID)
		if err != nil {
			return err
		}

		for _, m := range members {
			next, ok := m.Status.NextStatus()
			if !ok {
				continue
			}
			if err := s.requests.UpdateStatusTx(ctx, tx, m.ID, next); err != nil {
				return err
			}
			m.Status = next
		}
		allSettled := true
		for _, m := range members {
			if !m.Status.Terminal() {
				allSettled = false
				break
			}
		}
		if allSettled {
			if err := s.finishTx(ctx, tx, caller, route, members); err != nil {
				return err
			}
			route.Status = repository.RouteFinished
		}
		result = route
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// finishTx writes the route's stock movements and flips it to FINISHED. Any
// ledger failure (insufficient stock included) rolls the whole advance back.
func (s *Service) finishTx(ctx context.Context, tx db.Tx, caller auth.Caller, route *repository.ScheduledRoute, members []*repository.DeliveryRequest) error {
	routeID := route.ID
	for _, m := range members {
		if m.Status != repository.DeliveryFinished {
			continue
		}
		items, err := s.requests.GetItemsTx(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		reqID := m.ID
		switch route.Type {
		case repository.RouteImport:
			lines := make([]stock.ImportLine, 0, len(items))
			for _, it := range items {
				q := settledQuantity(it)
				if q == 0 {
					continue
				}
				lines = append(lines, stock.ImportLine{
					ItemID:    it.ItemID,
					Quantity:  q,
					ExpiresAt: it.ExpiresAt,
				})
			}
			if len(lines) == 0 {
				continue
			}
			if _, err := s.ledger.ImportTx(ctx, tx, caller.UserID, route.BranchID, &routeID, &reqID,
				repository.MovementScheduledImport, lines); err != nil {
				return err
			}
		case repository.RouteExport:
			lines := make([]stock.ExportLine, 0, len(items))
			for _, it := range items {
				q := settledQuantity(it)
				if q == 0 {
					continue
				}
				lines = append(lines, stock.ExportLine{
					ItemID:   it.ItemID,
					Quantity: q,
				})
			}
			if len(lines) == 0 {
				continue
			}
			if _, err := s.ledger.ExportByItemsTx(ctx, tx, caller.UserID, route.BranchID, &routeID, &reqID, lines); err != nil {
				return err
			}
		}
	}

	if err := s.routes.UpdateStatusTx(ctx, tx, routeID, repository.RouteFinished); err != nil {
		return err
	}
	metrics.RoutesFinishedTotal.Inc()
	actorID := caller.UserID
	return s.emitter.EmitTx(ctx, tx, events.Event{
		Kind:     events.RouteFinished,
		RouteID:  &routeID,
		BranchID: route.BranchID,
		ActorID:  &actorID,
	})
}

// QuantityLine is one confirmed item quantity at the branch leg.
type QuantityLine struct {
	ItemID   uuid.UUID
	Quantity int
}

// GiveItems lets the branch admin confirm the quantities actually loaded onto
// an EXPORT route while the member sits in COLLECTED.
func (s *Service) GiveItems(ctx context.Context, caller auth.Caller, routeID, requestID uuid.UUID, lines []QuantityLine) error {
	return s.confirmAtBranch(ctx, caller, routeID, requestID, lines,
		repository.RouteExport, repository.DeliveryCollected)
}

// ReceiveItems lets the branch admin confirm the quantities delivered to the
// branch by an IMPORT route at ARRIVED_DELIVERY.
func (s *Service) ReceiveItems(ctx context.Context, caller auth.Caller, routeID, requestID uuid.UUID, lines []QuantityLine) error {
	return s.confirmAtBranch(ctx, caller, routeID, requestID, lines,
		repository.RouteImport, repository.DeliveryArrivedDelivery)
}

func (s *Service) confirmAtBranch(ctx context.Context, caller auth.Caller, routeID, requestID uuid.UUID, lines []QuantityLine, wantType repository.RouteType, wantStatus repository.DeliveryStatus) error {
	return db.InTx(ctx, s.db, func(tx db.Tx) error {
		route, err := s.routes.GetByIDTx(ctx, tx, routeID)
		if err != nil {
			return mapNotFound(err)
		}
		if !caller.CanManageBranch(route.BranchID) {
			return apperr.ErrForbidden
		}
		if route.Type != wantType {
			return apperr.Validation("routeType", "confirmation does not apply to this route direction")
		}
		if route.Status != repository.RouteProcessing {
			return apperr.InvalidTransition("route", string(route.Status), "confirm quantities")
		}

		members, err := s.requests.ListByRouteTx(ctx, tx, routeID)
		if err != nil {
			return err
		}
		var member *repository.DeliveryRequest
		for _, m := range members {
			if m.ID == requestID {
				member = m
				break
			}
		}
		if member == nil {
			return apperr.ErrNotFound
		}
		if member.Status != wantStatus {
			return apperr.InvalidTransition("delivery request", string(member.Status), "confirm quantities")
		}

		items, err := s.requests.GetItemsTx(ctx, tx, requestID)
		if err != nil {
			return err
		}
		confirmed := make(map[uuid.UUID]int, len(lines))
		for _, l := range lines {
			if l.Quantity < 0 {
				return apperr.Validation("quantity", "must not be negative")
			}
			confirmed[l.ItemID] = l.Quantity
		}
		for _, it := range items {
			got := confirmed[it.ItemID]
			if got > it.Quantity {
				return apperr.Validation("quantity", "exceeds requested quantity")
			}
			if err := s.requests.UpdateItemReceivedTx(ctx, tx, requestID, it.ItemID, got); err != nil {
				return err
			}
			delete(confirmed, it.ItemID)
		}
		if len(confirmed) > 0 {
			return apperr.Validation("items", "unknown item in confirmation")
		}
		return nil
	})
}

// Cancel aborts an ACCEPTED or PROCESSING route. Only the accepting courier
// may cancel, no member may be past ARRIVED_PICKUP, and members return to
// PENDING so the next builder run can pick them up again.
func (s *Service) Cancel(ctx context.Context, caller auth.Caller, routeID uuid.UUID) error {
	return db.InTx(ctx, s.db, func(tx db.Tx) error {
		route, err := s.lockOwnedRoute(ctx, tx, caller, routeID)
		if err != nil {
			return err
		}
		if route.Status != repository.RouteAccepted && route.Status != repository.RouteProcessing {
			return apperr.InvalidTransition("route", string(route.Status), "cancel")
		}
		members, err := s.requests.ListByRouteTx(ctx, tx, routeID)
		if err != nil {
			return err
		}
		for _, m := range members {
			switch m.Status {
			case repository.DeliveryPending, repository.DeliveryAccepted, repository.DeliveryShipping, repository.DeliveryArrivedPickup:
			default:
				return apperr.InvalidTransition("route", string(route.Status), "cancel with collected goods")
			}
		}
		for _, m := range members {
			if err := s.requests.DetachFromRouteTx(ctx, tx, m.ID, repository.DeliveryPending); err != nil {
				return err
			}
		}
		if err := s.routes.UpdateStatusTx(ctx, tx, routeID, repository.RouteCanceled); err != nil {
			return err
		}
		actorID := caller.UserID
		return s.emitter.EmitTx(ctx, tx, events.Event{
			Kind:     events.RouteCanceled,
			RouteID:  &routeID,
			BranchID: route.BranchID,
			ActorID:  &actorID,
		})
	})
}

// CancelStale cancels PENDING routes nobody accepted before the configured
// deadline and releases their members. Meant to run periodically.
func (s *Service) CancelStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(s.cfg.Builder.AcceptDeadlineHours) * time.Hour)
	stale, err := s.routes.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	canceled := 0
	for _, route := range stale {
		routeID := route.ID
		err := db.InTx(ctx, s.db, func(tx db.Tx) error {
			locked, err := s.routes.GetByIDTx(ctx, tx, routeID)
			if err != nil {
				return mapNotFound(err)
			}
			if locked.Status != repository.RoutePending {
				return nil
			}
			members, err := s.requests.ListByRouteTx(ctx, tx, routeID)
			if err != nil {
				return err
			}
			for _, m := range members {
				if err := s.requests.DetachFromRouteTx(ctx, tx, m.ID, repository.DeliveryPending); err != nil {
					return err
				}
			}
			if err := s.routes.UpdateStatusTx(ctx, tx, routeID, repository.RouteCanceled); err != nil {
				return err
			}
			canceled++
			return s.emitter.EmitTx(ctx, tx, events.Event{
				Kind:     events.RouteCanceled,
				RouteID:  &routeID,
				BranchID: locked.BranchID,
			})
		})
		if err != nil {
			s.logger.Error("stale route cancellation failed",
				zap.String("route_id", routeID.String()), zap.Error(err))
		}
	}
	if canceled > 0 {
		s.logger.Info("canceled stale routes", zap.Int("count", canceled))
	}
	return canceled, nil
}

func (s *Service) lockOwnedRoute(ctx context.Context, tx db.Tx, caller auth.Caller, routeID uuid.UUID) (*repository.ScheduledRoute, error) {
	route, err := s.routes.GetByIDTx(ctx, tx, routeID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if route.AcceptedUserID == nil || *route.AcceptedUserID != caller.UserID {
		return nil, apperr.ErrForbidden
	}
	return route, nil
}

// ReportLocation stores the courier's current position. It feeds the
// serviceable-range check when Accept is later called without coordinates.
func (s *Service) ReportLocation(ctx context.Context, caller auth.Caller, lat, lon float64) error {
	if caller.Role != auth.RoleContributor {
		return apperr.ErrForbidden
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return apperr.Validation("location", "coordinates out of range")
	}
	if err := s.users.UpdateLocation(ctx, caller.UserID, lat, lon); err != nil {
		return mapNotFound(err)
	}
	return nil
}

func (s *Service) courierPoint(ctx context.Context, userID uuid.UUID, lat, lon *float64) (routing.Point, error) {
	if lat != nil && lon != nil {
		return routing.Point{Lat: *lat, Lon: *lon}, nil
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return routing.Point{}, mapNotFound(err)
	}
	if user.LastLat == nil || user.LastLon == nil {
		return routing.Point{}, apperr.Validation("location", "no coordinates given and no known courier location")
	}
	return routing.Point{Lat: *user.LastLat, Lon: *user.LastLon}, nil
}

func (s *Service) firstStop(ctx context.Context, routeID uuid.UUID) (*repository.RouteStop, error) {
	stops, err := s.routes.GetStops(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if len(stops) == 0 {
		return nil, apperr.ErrNotFound
	}
	return &stops[0], nil
}

// settledQuantity is the confirmed received amount, falling back to the
// requested quantity when nothing was confirmed.
func settledQuantity(it repository.DeliveryItem) int {
	if it.ReceivedQuantity != nil {
		return *it.ReceivedQuantity
	}
	return it.Quantity
}

func mapNotFound(err error) error {
	if err == repository.ErrObjectNotFound {
		return apperr.ErrNotFound
	}
	return err
}
