package route

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"go.uber.org/zap"

	"github.com/tungvs/charity-delivery/internal/config"
	"github.com/tungvs/charity-delivery/internal/db"
	"github.com/tungvs/charity-delivery/internal/events"
	"github.com/tungvs/charity-delivery/internal/repository"
	"github.com/tungvs/charity-delivery/internal/routing"
	"github.com/tungvs/charity-delivery/internal/service/stock"
)

type fakeTx struct{}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }
func (fakeTx) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return nil, nil
}
func (fakeTx) Get(context.Context, interface{}, string, ...interface{}) error    { return nil }
func (fakeTx) Select(context.Context, interface{}, string, ...interface{}) error { return nil }

type fakeDB struct{}

func (fakeDB) Get(context.Context, interface{}, string, ...interface{}) error    { return nil }
func (fakeDB) Select(context.Context, interface{}, string, ...interface{}) error { return nil }
func (fakeDB) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return nil, nil
}
func (fakeDB) ExecQueryRow(context.Context, string, ...interface{}) pgx.Row { return nil }
func (fakeDB) BeginTx(context.Context) (db.Tx, error)                       { return fakeTx{}, nil }

type memRequests struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*repository.DeliveryRequest
	items    map[uuid.UUID][]repository.DeliveryItem
}

func newMemRequests() *memRequests {
	return &memRequests{
		requests: make(map[uuid.UUID]*repository.DeliveryRequest),
		items:    make(map[uuid.UUID][]repository.DeliveryItem),
	}
}

func (m *memRequests) add(req *repository.DeliveryRequest, items []repository.DeliveryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = req
	m.items[req.ID] = items
}

func (m *memRequests) ListPendingUnattached(_ context.Context, t repository.DeliveryType, branchID uuid.UUID) ([]*repository.DeliveryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.DeliveryRequest
	for _, req := range m.requests {
		if req.Type == t && req.BranchID == branchID && req.Status == repository.DeliveryPending && req.RouteID == nil {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *memRequests) GetItems(_ context.Context, requestID uuid.UUID) ([]repository.DeliveryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[requestID], nil
}

func (m *memRequests) GetItemsTx(ctx context.Context, _ db.Tx, requestID uuid.UUID) ([]repository.DeliveryItem, error) {
	return m.GetItems(ctx, requestID)
}

func (m *memRequests) ListByRouteTx(_ context.Context, _ db.Tx, routeID uuid.UUID) ([]*repository.DeliveryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.DeliveryRequest
	for _, req := range m.requests {
		if req.RouteID != nil && *req.RouteID == routeID {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *memRequests) AttachToRouteTx(_ context.Context, _ db.Tx, id, routeID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return repository.ErrObjectNotFound
	}
	rid := routeID
	req.RouteID = &rid
	return nil
}

func (m *memRequests) DetachFromRouteTx(_ context.Context, _ db.Tx, id uuid.UUID, status repository.DeliveryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return repository.ErrObjectNotFound
	}
	req.RouteID = nil
	req.Status = status
	return nil
}

func (m *memRequests) UpdateStatusTx(_ context.Context, _ db.Tx, id uuid.UUID, status repository.DeliveryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return repository.ErrObjectNotFound
	}
	req.Status = status
	return nil
}

func (m *memRequests) UpdateItemReceivedTx(_ context.Context, _ db.Tx, requestID, itemID uuid.UUID, received int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items[requestID]
	for i := range items {
		if items[i].ItemID == itemID {
			r := received
			items[i].ReceivedQuantity = &r
			return nil
		}
	}
	return repository.ErrObjectNotFound
}

type memRoutes struct {
	mu     sync.Mutex
	routes map[uuid.UUID]*repository.ScheduledRoute
	stops  map[uuid.UUID][]repository.RouteStop
}

func newMemRoutes() *memRoutes {
	return &memRoutes{
		routes: make(map[uuid.UUID]*repository.ScheduledRoute),
		stops:  make(map[uuid.UUID][]repository.RouteStop),
	}
}

func (m *memRoutes) CreateTx(_ context.Context, _ db.Tx, route *repository.ScheduledRoute, stops []repository.RouteStop) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *route
	m.routes[route.ID] = &cp
	m.stops[route.ID] = append([]repository.RouteStop(nil), stops...)
	return nil
}

func (m *memRoutes) GetByID(_ context.Context, id uuid.UUID) (*repository.ScheduledRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRoutes) GetByIDTx(ctx context.Context, _ db.Tx, id uuid.UUID) (*repository.ScheduledRoute, error) {
	return m.GetByID(ctx, id)
}

func (m *memRoutes) GetStops(_ context.Context, routeID uuid.UUID) ([]repository.RouteStop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops[routeID], nil
}

// TryAcceptTx mirrors the SQL compare-and-set: exactly one concurrent caller
// moves the route out of PENDING.
func (m *memRoutes) TryAcceptTx(_ context.Context, _ db.Tx, id, courierID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return false, nil
	}
	if r.Status != repository.RoutePending || r.AcceptedUserID != nil {
		return false, nil
	}
	now := time.Now().UTC()
	cid := courierID
	r.Status = repository.RouteAccepted
	r.AcceptedUserID = &cid
	r.AcceptedAt = &now
	return true, nil
}

func (m *memRoutes) UpdateStatusTx(_ context.Context, _ db.Tx, id uuid.UUID, status repository.RouteStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return repository.ErrObjectNotFound
	}
	r.Status = status
	return nil
}

func (m *memRoutes) ListStalePending(_ context.Context, cutoff time.Time) ([]*repository.ScheduledRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.ScheduledRoute
	for _, r := range m.routes {
		if r.Status == repository.RoutePending && r.CreatedAt.Before(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memBranches struct {
	branches map[uuid.UUID]*repository.Branch
}

func (m *memBranches) GetByID(_ context.Context, id uuid.UUID) (*repository.Branch, error) {
	b, ok := m.branches[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return b, nil
}

func (m *memBranches) List(_ context.Context) ([]*repository.Branch, error) {
	out := make([]*repository.Branch, 0, len(m.branches))
	for _, b := range m.branches {
		out = append(out, b)
	}
	return out, nil
}

type memUsers struct {
	users map[uuid.UUID]*repository.User
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*repository.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return u, nil
}

func (m *memUsers) UpdateLocation(_ context.Context, id uuid.UUID, lat, lon float64) error {
	u, ok := m.users[id]
	if !ok {
		return repository.ErrObjectNotFound
	}
	la, lo := lat, lon
	u.LastLat, u.LastLon = &la, &lo
	u.UpdatedAt = time.Now().UTC()
	return nil
}

type ledgerCall struct {
	movementType repository.StockMovementType
	branchID     uuid.UUID
	requestID    uuid.UUID
	imports      []stock.ImportLine
	exports      []stock.ExportLine
}

type fakeLedger struct {
	mu    sync.Mutex
	calls []ledgerCall
	err   error
}

func (f *fakeLedger) ImportTx(_ context.Context, _ db.Tx, _, branchID uuid.UUID, _, requestID *uuid.UUID, movementType repository.StockMovementType, lines []stock.ImportLine) (*repository.StockMovement, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ledgerCall{movementType: movementType, branchID: branchID, requestID: *requestID, imports: lines})
	return &repository.StockMovement{ID: uuid.New()}, nil
}

func (f *fakeLedger) ExportByItemsTx(_ context.Context, _ db.Tx, _, branchID uuid.UUID, _, requestID *uuid.UUID, lines []stock.ExportLine) (*repository.StockMovement, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ledgerCall{movementType: repository.MovementExportByItems, branchID: branchID, requestID: *requestID, exports: lines})
	return &repository.StockMovement{ID: uuid.New()}, nil
}

type memOutbox struct {
	mu    sync.Mutex
	tasks []*repository.OutboxTask
}

func (m *memOutbox) CreateTx(_ context.Context, _ db.Tx, task *repository.OutboxTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	return nil
}

func (m *memOutbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

type env struct {
	requests *memRequests
	routes   *memRoutes
	branches *memBranches
	users    *memUsers
	ledger   *fakeLedger
	outbox   *memOutbox
	cfg      config.Config
	svc      *Service
}

func newEnv(t *testing.T, provider routing.Provider) *env {
	t.Helper()
	e := &env{
		requests: newMemRequests(),
		routes:   newMemRoutes(),
		branches: &memBranches{branches: make(map[uuid.UUID]*repository.Branch)},
		users:    &memUsers{users: make(map[uuid.UUID]*repository.User)},
		ledger:   &fakeLedger{},
		outbox:   &memOutbox{},
		cfg:      config.Default(),
	}
	e.svc = NewService(fakeDB{}, e.requests, e.routes, e.branches, e.users, e.ledger,
		provider, events.NewEmitter(e.outbox), e.cfg, zap.NewNop())
	return e
}

// rebuild swaps the service for one with the current e.cfg.
func (e *env) rebuild(provider routing.Provider) {
	e.svc = NewService(fakeDB{}, e.requests, e.routes, e.branches, e.users, e.ledger,
		provider, events.NewEmitter(e.outbox), e.cfg, zap.NewNop())
}

func (e *env) addBranch(lat, lon float64) *repository.Branch {
	b := &repository.Branch{
		ID:      uuid.New(),
		Name:    "branch",
		Address: "12 Warehouse Rd",
		Lat:     lat,
		Lon:     lon,
	}
	e.branches.branches[b.ID] = b
	return b
}

type reqSpec struct {
	typ         repository.DeliveryType
	lat, lon    float64
	winStart    time.Time
	winEnd      time.Time
	quantity    int
	unitVolume  float64
	createdOffs time.Duration
}

func (e *env) addRequest(branch *repository.Branch, day time.Time, spec reqSpec) *repository.DeliveryRequest {
	req := &repository.DeliveryRequest{
		ID:           uuid.New(),
		Type:         spec.typ,
		Status:       repository.DeliveryPending,
		BranchID:     branch.ID,
		FromAddress:  "origin",
		FromLat:      branch.Lat,
		FromLon:      branch.Lon,
		ToAddress:    "destination",
		ToLat:        branch.Lat,
		ToLon:        branch.Lon,
		ScheduledDay: day,
		WindowStart:  spec.winStart,
		WindowEnd:    spec.winEnd,
		CreatedAt:    day.Add(spec.createdOffs),
		UpdatedAt:    day.Add(spec.createdOffs),
	}
	if spec.typ.RouteTypeFor() == repository.RouteImport {
		req.FromLat, req.FromLon = spec.lat, spec.lon
	} else {
		req.ToLat, req.ToLon = spec.lat, spec.lon
	}
	items := []repository.DeliveryItem{
		{ID: uuid.New(), RequestID: req.ID, ItemID: uuid.New(), Quantity: spec.quantity, UnitVolume: spec.unitVolume},
	}
	e.requests.add(req, items)
	return req
}

func testDay() time.Time {
	return time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
}
