package route

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tungvs/charity-delivery/internal/db"
	"github.com/tungvs/charity-delivery/internal/events"
	"github.com/tungvs/charity-delivery/internal/metrics"
	"github.com/tungvs/charity-delivery/internal/repository"
	"github.com/tungvs/charity-delivery/internal/routing"
)

// candidate is one PENDING request the builder may place on a route. point is
// the request's off-branch end: the pickup for imports, the drop-off for
// exports.
type candidate struct {
	req   *repository.DeliveryRequest
	score float64
	point routing.Point
}

// plannedRoute is one assembled but not yet persisted route of a builder run.
type plannedRoute struct {
	route *repository.ScheduledRoute
	stops []repository.RouteStop
	group []candidate
}

// Build groups the branch's unattached PENDING requests of one direction into
// scheduled routes for the given day. Re-running it is harmless: attached
// requests never show up as candidates again.
//
// The run is all-or-nothing: every provider call happens before anything is
// persisted, and the produced routes are committed in a single transaction
// together with their member attachments and creation events. A routing
// outage mid-run leaves the pool untouched.
func (s *Service) Build(ctx context.Context, branchID uuid.UUID, day time.Time, routeType repository.RouteType) ([]*repository.ScheduledRoute, error) {
	branch, err := s.branches.GetByID(ctx, branchID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	anchor := routing.Point{Lat: branch.Lat, Lon: branch.Lon}

	candidates, err := s.collectCandidates(ctx, branchID, day, routeType)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	groups, err := s.group(ctx, anchor, candidates)
	if err != nil {
		return nil, err
	}

	planned := make([]plannedRoute, 0, len(groups))
	for _, g := range groups {
		route, stops, err := s.assemble(ctx, branch, anchor, day, routeType, g)
		if err != nil {
			return nil, err
		}
		planned = append(planned, plannedRoute{route: route, stops: stops, group: g})
	}

	if err := s.persist(ctx, planned); err != nil {
		return nil, err
	}

	built := make([]*repository.ScheduledRoute, 0, len(planned))
	for _, p := range planned {
		metrics.RoutesPlannedTotal.Inc()
		s.logger.Info("scheduled route built",
			zap.String("route_id", p.route.ID.String()),
			zap.String("type", string(routeType)),
			zap.Int("stops", len(p.stops)))
		built = append(built, p.route)
	}
	return built, nil
}

// BuildAll runs Build for every branch and both directions, bounded by the
// configured concurrency. A failure on one branch does not stop the others.
func (s *Service) BuildAll(ctx context.Context, day time.Time) ([]*repository.ScheduledRoute, error) {
	branches, err := s.branches.List(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		all []*repository.ScheduledRoute
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Builder.BuildConcurrency)
	for _, branch := range branches {
		for _, rt := range []repository.RouteType{repository.RouteImport, repository.RouteExport} {
			branchID, routeType := branch.ID, rt
			g.Go(func() error {
				routes, err := s.Build(gctx, branchID, day, routeType)
				if err != nil {
					s.logger.Error("route build failed",
						zap.String("branch_id", branchID.String()),
						zap.String("type", string(routeType)),
						zap.Error(err))
					metrics.OperationErrorsTotal.WithLabelValues("build").Inc()
					return nil
				}
				mu.Lock()
				all = append(all, routes...)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return all, err
	}
	return all, nil
}

func (s *Service) collectCandidates(ctx context.Context, branchID uuid.UUID, day time.Time, routeType repository.RouteType) ([]candidate, error) {
	types := []repository.DeliveryType{
		repository.DeliveryDonatedToBranch,
		repository.DeliveryBranchToAid,
		repository.DeliveryBranchToBranch,
	}

	var out []candidate
	for _, t := range types {
		if t.RouteTypeFor() != routeType {
			continue
		}
		reqs, err := s.requests.ListPendingUnattached(ctx, t, branchID)
		if err != nil {
			return nil, err
		}
		for _, req := range reqs {
			if !repository.SameDay(req.ScheduledDay, day) {
				continue
			}
			items, err := s.requests.GetItems(ctx, req.ID)
			if err != nil {
				return nil, err
			}
			score := volumeScore(items)
			if score > s.cfg.Builder.MaxRouteScore {
				s.logger.Warn("request exceeds maximum route score, skipped",
					zap.String("request_id", req.ID.String()),
					zap.Float64("score", score))
				continue
			}
			c := candidate{req: req, score: score}
			if routeType == repository.RouteImport {
				c.point = routing.Point{Lat: req.FromLat, Lon: req.FromLon}
			} else {
				c.point = routing.Point{Lat: req.ToLat, Lon: req.ToLon}
			}
			out = append(out, c)
		}
	}
	// Rank keeps ties in input order, so pre-sorting by window start makes
	// the earlier window win distance ties deterministically.
	sortCandidates(out)
	return out, nil
}

// group walks candidates nearest-to-branch first and packs each route
// greedily: a candidate joins the open group when its window overlaps the
// group's narrowed window and the volume score still fits.
func (s *Service) group(ctx context.Context, anchor routing.Point, candidates []candidate) ([][]candidate, error) {
	points := make([]routing.Point, len(candidates))
	for i, c := range candidates {
		points[i] = c.point
	}
	ranked, err := routing.Rank(ctx, s.provider, anchor, points)
	if err != nil {
		return nil, err
	}

	assigned := make([]bool, len(candidates))
	var groups [][]candidate
	for _, seedR := range ranked {
		if assigned[seedR.Index] {
			continue
		}
		seed := candidates[seedR.Index]
		assigned[seedR.Index] = true

		group := []candidate{seed}
		score := seed.score
		winStart, winEnd := seed.req.WindowStart, seed.req.WindowEnd

		for _, r := range ranked {
			if assigned[r.Index] {
				continue
			}
			c := candidates[r.Index]
			if score+c.score > s.cfg.Builder.MaxRouteScore {
				continue
			}
			ns, ne, ok := repository.IntersectWindows(winStart, winEnd, c.req.WindowStart, c.req.WindowEnd)
			if !ok {
				continue
			}
			assigned[r.Index] = true
			group = append(group, c)
			score += c.score
			winStart, winEnd = ns, ne
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// assemble orders the group's stops and fetches the final leg metrics.
// Exports leave the branch and visit drop-offs nearest first; imports run the
// same greedy order in reverse so the last pickup is the one closest to the
// branch, where the route ends.
func (s *Service) assemble(ctx context.Context, branch *repository.Branch, anchor routing.Point, day time.Time, routeType repository.RouteType, group []candidate) (*repository.ScheduledRoute, []repository.RouteStop, error) {
	ordered, err := s.nearestNeighborOrder(ctx, anchor, group)
	if err != nil {
		return nil, nil, err
	}

	branchStop := repository.RouteStop{
		Kind:    repository.StopKindBranch,
		Address: branch.Address,
		Lat:     branch.Lat,
		Lon:     branch.Lon,
	}

	var stops []repository.RouteStop
	var totalDist, totalTime int
	switch routeType {
	case repository.RouteExport:
		waypoints := make([]routing.Point, len(ordered))
		for i, c := range ordered {
			waypoints[i] = c.point
		}
		legs, err := s.provider.Route(ctx, anchor, waypoints)
		if err != nil {
			return nil, nil, err
		}
		stops = append(stops, branchStop)
		for i, c := range ordered {
			stops = append(stops, requestStop(c, legs[i]))
			totalDist += legs[i].DistanceMeters
			totalTime += legs[i].DurationSeconds
		}

	case repository.RouteImport:
		reverse(ordered)
		waypoints := make([]routing.Point, 0, len(ordered))
		for _, c := range ordered[1:] {
			waypoints = append(waypoints, c.point)
		}
		waypoints = append(waypoints, anchor)
		legs, err := s.provider.Route(ctx, ordered[0].point, waypoints)
		if err != nil {
			return nil, nil, err
		}
		stops = append(stops, requestStop(ordered[0], routing.Leg{}))
		for i, c := range ordered[1:] {
			stops = append(stops, requestStop(c, legs[i]))
		}
		branchStop.LegDistanceMeters = legs[len(legs)-1].DistanceMeters
		branchStop.LegDurationSeconds = legs[len(legs)-1].DurationSeconds
		stops = append(stops, branchStop)
		for _, leg := range legs {
			totalDist += leg.DistanceMeters
			totalTime += leg.DurationSeconds
		}
	}
	for i := range stops {
		stops[i].Seq = i
	}

	score := 0.0
	winStart, winEnd := group[0].req.WindowStart, group[0].req.WindowEnd
	for _, c := range group {
		score += c.score
		winStart, winEnd, _ = repository.IntersectWindows(winStart, winEnd, c.req.WindowStart, c.req.WindowEnd)
	}

	now := time.Now().UTC()
	route := &repository.ScheduledRoute{
		ID:                  uuid.New(),
		Type:                routeType,
		Status:              repository.RoutePending,
		BranchID:            branch.ID,
		ScheduledDay:        day,
		WindowStart:         winStart,
		WindowEnd:           winEnd,
		TotalDistanceMeters: totalDist,
		TotalTimeSeconds:    totalTime,
		BulkyLevel:          s.bulkyLevel(score),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	return route, stops, nil
}

// nearestNeighborOrder visits the group's points greedily starting from the
// branch, one matrix call per hop.
func (s *Service) nearestNeighborOrder(ctx context.Context, anchor routing.Point, group []candidate) ([]candidate, error) {
	remaining := make([]candidate, len(group))
	copy(remaining, group)

	ordered := make([]candidate, 0, len(group))
	cur := anchor
	for len(remaining) > 0 {
		if len(remaining) == 1 {
			ordered = append(ordered, remaining[0])
			break
		}
		points := make([]routing.Point, len(remaining))
		for i, c := range remaining {
			points[i] = c.point
		}
		legs, err := s.provider.Matrix(ctx, cur, points)
		if err != nil {
			return nil, err
		}
		best := 0
		for i := 1; i < len(legs); i++ {
			if legs[i].DistanceMeters < legs[best].DistanceMeters {
				best = i
			}
		}
		ordered = append(ordered, remaining[best])
		cur = remaining[best].point
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return ordered, nil
}

func (s *Service) persist(ctx context.Context, planned []plannedRoute) error {
	return db.InTx(ctx, s.db, func(tx db.Tx) error {
		for _, p := range planned {
			if err := s.routes.CreateTx(ctx, tx, p.route, p.stops); err != nil {
				return err
			}
			for _, c := range p.group {
				if err := s.requests.AttachToRouteTx(ctx, tx, c.req.ID, p.route.ID); err != nil {
					return fmt.Errorf("attach request %s: %w", c.req.ID, err)
				}
			}
			routeID := p.route.ID
			err := s.emitter.EmitTx(ctx, tx, events.Event{
				Kind:     events.RouteCreated,
				RouteID:  &routeID,
				BranchID: p.route.BranchID,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) bulkyLevel(score float64) repository.BulkyLevel {
	switch {
	case score <= s.cfg.Builder.NormalThreshold:
		return repository.BulkyNormal
	case score <= s.cfg.Builder.BulkyThreshold:
		return repository.BulkyBulky
	default:
		return repository.BulkyVery
	}
}

func volumeScore(items []repository.DeliveryItem) float64 {
	var score float64
	for _, it := range items {
		score += float64(it.Quantity) * it.UnitVolume
	}
	return score
}

func requestStop(c candidate, leg routing.Leg) repository.RouteStop {
	reqID := c.req.ID
	return repository.RouteStop{
		Kind:               repository.StopKindRequest,
		RequestID:          &reqID,
		Address:            stopAddress(c.req),
		Lat:                c.point.Lat,
		Lon:                c.point.Lon,
		LegDistanceMeters:  leg.DistanceMeters,
		LegDurationSeconds: leg.DurationSeconds,
	}
}

// stopAddress is the request's off-branch end, matching candidate.point.
func stopAddress(req *repository.DeliveryRequest) string {
	if req.Type.RouteTypeFor() == repository.RouteImport {
		return req.FromAddress
	}
	return req.ToAddress
}

func sortCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].req, cands[j].req
		if !a.WindowStart.Equal(b.WindowStart) {
			return a.WindowStart.Before(b.WindowStart)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func reverse(cands []candidate) {
	for i, j := 0, len(cands)-1; i < j; i, j = i+1, j-1 {
		cands[i], cands[j] = cands[j], cands[i]
	}
}
