package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tungvs/charity-delivery/internal/apperr"
	"github.com/tungvs/charity-delivery/internal/auth"
	"github.com/tungvs/charity-delivery/internal/repository"
	"github.com/tungvs/charity-delivery/internal/service/delivery"
	"github.com/tungvs/charity-delivery/internal/service/route"
	"github.com/tungvs/charity-delivery/internal/service/stock"
)

type fakeDeliveries struct {
	createFn func(ctx context.Context, caller auth.Caller, p delivery.CreateParams) (*repository.DeliveryRequest, error)
	getFn    func(ctx context.Context, id uuid.UUID) (*repository.DeliveryRequest, []repository.DeliveryItem, error)
	cancelFn func(ctx context.Context, caller auth.Caller, requestID uuid.UUID, reason string) error
}

func (f *fakeDeliveries) Create(ctx context.Context, caller auth.Caller, p delivery.CreateParams) (*repository.DeliveryRequest, error) {
	return f.createFn(ctx, caller, p)
}

func (f *fakeDeliveries) Get(ctx context.Context, id uuid.UUID) (*repository.DeliveryRequest, []repository.DeliveryItem, error) {
	return f.getFn(ctx, id)
}

func (f *fakeDeliveries) UpdateReceivedQuantity(context.Context, auth.Caller, uuid.UUID, []delivery.ReceivedLine) error {
	return nil
}

func (f *fakeDeliveries) AttachProofImage(context.Context, auth.Caller, uuid.UUID, string) error {
	return nil
}

func (f *fakeDeliveries) Cancel(ctx context.Context, caller auth.Caller, requestID uuid.UUID, reason string) error {
	return f.cancelFn(ctx, caller, requestID, reason)
}

func (f *fakeDeliveries) Report(context.Context, auth.Caller, uuid.UUID, string) error { return nil }

func (f *fakeDeliveries) HandleReport(context.Context, auth.Caller, uuid.UUID, repository.DeliveryStatus) error {
	return nil
}

type fakeRoutes struct {
	buildFn    func(ctx context.Context, branchID uuid.UUID, day time.Time, routeType repository.RouteType) ([]*repository.ScheduledRoute, error)
	acceptFn   func(ctx context.Context, caller auth.Caller, routeID uuid.UUID, lat, lon *float64) error
	getFn      func(ctx context.Context, id uuid.UUID) (*repository.ScheduledRoute, []repository.RouteStop, error)
	locationFn func(ctx context.Context, caller auth.Caller, lat, lon float64) error
}

func (f *fakeRoutes) Build(ctx context.Context, branchID uuid.UUID, day time.Time, routeType repository.RouteType) ([]*repository.ScheduledRoute, error) {
	return f.buildFn(ctx, branchID, day, routeType)
}

func (f *fakeRoutes) BuildAll(context.Context, time.Time) ([]*repository.ScheduledRoute, error) {
	return nil, nil
}

func (f *fakeRoutes) Get(ctx context.Context, id uuid.UUID) (*repository.ScheduledRoute, []repository.RouteStop, error) {
	return f.getFn(ctx, id)
}

func (f *fakeRoutes) Accept(ctx context.Context, caller auth.Caller, routeID uuid.UUID, lat, lon *float64) error {
	return f.acceptFn(ctx, caller, routeID, lat, lon)
}

func (f *fakeRoutes) ReportLocation(ctx context.Context, caller auth.Caller, lat, lon float64) error {
	if f.locationFn == nil {
		return nil
	}
	return f.locationFn(ctx, caller, lat, lon)
}

func (f *fakeRoutes) Start(context.Context, auth.Caller, uuid.UUID) error { return nil }

func (f *fakeRoutes) AdvanceNext(context.Context, auth.Caller, uuid.UUID) (*repository.ScheduledRoute, error) {
	return &repository.ScheduledRoute{}, nil
}

func (f *fakeRoutes) GiveItems(context.Context, auth.Caller, uuid.UUID, uuid.UUID, []route.QuantityLine) error {
	return nil
}

func (f *fakeRoutes) ReceiveItems(context.Context, auth.Caller, uuid.UUID, uuid.UUID, []route.QuantityLine) error {
	return nil
}

func (f *fakeRoutes) Cancel(context.Context, auth.Caller, uuid.UUID) error { return nil }

type fakeStocks struct {
	exportFn    func(ctx context.Context, caller auth.Caller, branchID uuid.UUID, routeID *uuid.UUID, lines []stock.ExportLine) (*repository.StockMovement, error)
	availableFn func(ctx context.Context, branchID, itemID uuid.UUID) (int, error)
}

func (f *fakeStocks) RecordImport(context.Context, auth.Caller, uuid.UUID, *uuid.UUID, *uuid.UUID, repository.StockMovementType, []stock.ImportLine) (*repository.StockMovement, error) {
	return &repository.StockMovement{ID: uuid.New()}, nil
}

func (f *fakeStocks) RecordExportByItems(ctx context.Context, caller auth.Caller, branchID uuid.UUID, routeID *uuid.UUID, lines []stock.ExportLine) (*repository.StockMovement, error) {
	return f.exportFn(ctx, caller, branchID, routeID, lines)
}

func (f *fakeStocks) RecordExportByStocks(context.Context, auth.Caller, uuid.UUID, []stock.BatchLine) (*repository.StockMovement, error) {
	return &repository.StockMovement{ID: uuid.New()}, nil
}

func (f *fakeStocks) Available(ctx context.Context, branchID, itemID uuid.UUID) (int, error) {
	return f.availableFn(ctx, branchID, itemID)
}

func (f *fakeStocks) History(context.Context, auth.Caller, uuid.UUID, time.Time, time.Time, int, int) ([]*repository.StockMovement, error) {
	return nil, nil
}

func (f *fakeStocks) Details(context.Context, uuid.UUID) ([]repository.StockMovementDetail, error) {
	return nil, nil
}

func testServer(deliveries *fakeDeliveries, routes *fakeRoutes, stocks *fakeStocks) http.Handler {
	if deliveries == nil {
		deliveries = &fakeDeliveries{}
	}
	if routes == nil {
		routes = &fakeRoutes{}
	}
	if stocks == nil {
		stocks = &fakeStocks{}
	}
	return New(deliveries, routes, stocks, zap.NewNop()).Routes()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, caller *auth.Caller, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set("X-User-Id", caller.UserID.String())
		req.Header.Set("X-User-Role", string(caller.Role))
		if caller.BranchID != nil {
			req.Header.Set("X-Branch-Id", caller.BranchID.String())
		}
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestCallerMiddleware(t *testing.T) {
	handler := testServer(nil, nil, &fakeStocks{
		availableFn: func(context.Context, uuid.UUID, uuid.UUID) (int, error) { return 0, nil },
	})
	path := fmt.Sprintf("/branches/%s/items/%s/available", uuid.New(), uuid.New())

	t.Run("missing identity", func(t *testing.T) {
		rr := doJSON(t, handler, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("bad role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-User-Id", uuid.NewString())
		req.Header.Set("X-User-Role", "WIZARD")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("valid identity passes", func(t *testing.T) {
		c := auth.Caller{UserID: uuid.New(), Role: auth.RoleContributor}
		rr := doJSON(t, handler, http.MethodGet, path, &c, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"available":0}`, rr.Body.String())
	})

	t.Run("health needs no identity", func(t *testing.T) {
		rr := doJSON(t, handler, http.MethodGet, "/health", nil, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestCreateRequestHandler(t *testing.T) {
	branchID := uuid.New()
	caller := auth.Caller{UserID: uuid.New(), Role: auth.RoleContributor}
	created := &repository.DeliveryRequest{ID: uuid.New(), Status: repository.DeliveryPending}

	deliveries := &fakeDeliveries{
		createFn: func(_ context.Context, got auth.Caller, p delivery.CreateParams) (*repository.DeliveryRequest, error) {
			assert.Equal(t, caller.UserID, got.UserID)
			assert.Equal(t, repository.DeliveryBranchToAid, p.Type)
			assert.Equal(t, branchID, p.BranchID)
			require.Len(t, p.Items, 1)
			assert.Equal(t, 3, p.Items[0].Quantity)
			return created, nil
		},
	}
	handler := testServer(deliveries, nil, nil)

	body := map[string]interface{}{
		"type":          string(repository.DeliveryBranchToAid),
		"branch_id":     branchID.String(),
		"from_address":  "warehouse",
		"from_lat":      10.76,
		"from_lon":      106.66,
		"to_address":    "aid center",
		"to_lat":        10.78,
		"to_lon":        106.68,
		"scheduled_day": "2025-06-02",
		"window_start":  "2025-06-02T09:00:00Z",
		"window_end":    "2025-06-02T12:00:00Z",
		"items": []map[string]interface{}{
			{"item_id": uuid.NewString(), "quantity": 3, "unit_volume": 1.5},
		},
	}

	rr := doJSON(t, handler, http.MethodPost, "/requests", &caller, body)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), created.ID.String())

	t.Run("bad day format", func(t *testing.T) {
		bad := map[string]interface{}{}
		for k, v := range body {
			bad[k] = v
		}
		bad["scheduled_day"] = "June 2nd"
		rr := doJSON(t, handler, http.MethodPost, "/requests", &caller, bad)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestErrorMapping(t *testing.T) {
	routeID := uuid.New()
	caller := auth.Caller{UserID: uuid.New(), Role: auth.RoleContributor}

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", apperr.ErrNotFound, http.StatusNotFound},
		{"forbidden", apperr.ErrForbidden, http.StatusForbidden},
		{"already accepted", apperr.ErrAlreadyAccepted, http.StatusConflict},
		{"routing down", apperr.ErrRoutingUnavailable, http.StatusServiceUnavailable},
		{"validation", apperr.Validation("location", "out of range"), http.StatusBadRequest},
		{"bad transition", apperr.InvalidTransition("route", "FINISHED", "accept"), http.StatusConflict},
		{"unknown", fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			routes := &fakeRoutes{
				acceptFn: func(context.Context, auth.Caller, uuid.UUID, *float64, *float64) error {
					return tc.err
				},
			}
			handler := testServer(nil, routes, nil)
			rr := doJSON(t, handler, http.MethodPost, "/routes/"+routeID.String()+"/accept", &caller, nil)
			assert.Equal(t, tc.status, rr.Code)
		})
	}

	t.Run("internal errors stay opaque", func(t *testing.T) {
		routes := &fakeRoutes{
			acceptFn: func(context.Context, auth.Caller, uuid.UUID, *float64, *float64) error {
				return fmt.Errorf("pq: relation does not exist")
			},
		}
		handler := testServer(nil, routes, nil)
		rr := doJSON(t, handler, http.MethodPost, "/routes/"+routeID.String()+"/accept", &caller, nil)
		assert.JSONEq(t, `{"error":"internal error"}`, rr.Body.String())
	})
}

func TestAcceptRouteBody(t *testing.T) {
	routeID := uuid.New()
	caller := auth.Caller{UserID: uuid.New(), Role: auth.RoleContributor}

	var gotLat, gotLon *float64
	routes := &fakeRoutes{
		acceptFn: func(_ context.Context, _ auth.Caller, _ uuid.UUID, lat, lon *float64) error {
			gotLat, gotLon = lat, lon
			return nil
		},
	}
	handler := testServer(nil, routes, nil)

	t.Run("with coordinates", func(t *testing.T) {
		rr := doJSON(t, handler, http.MethodPost, "/routes/"+routeID.String()+"/accept", &caller,
			map[string]float64{"lat": 10.76, "lon": 106.66})
		assert.Equal(t, http.StatusOK, rr.Code)
		require.NotNil(t, gotLat)
		assert.Equal(t, 10.76, *gotLat)
		assert.Equal(t, 106.66, *gotLon)
	})

	t.Run("empty body falls back to profile", func(t *testing.T) {
		rr := doJSON(t, handler, http.MethodPost, "/routes/"+routeID.String()+"/accept", &caller, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Nil(t, gotLat)
		assert.Nil(t, gotLon)
	})
}

func TestBuildRoutesAuthorization(t *testing.T) {
	branchID := uuid.New()
	built := []*repository.ScheduledRoute{{ID: uuid.New(), Type: repository.RouteExport}}
	routes := &fakeRoutes{
		buildFn: func(_ context.Context, gotBranch uuid.UUID, _ time.Time, _ repository.RouteType) ([]*repository.ScheduledRoute, error) {
			assert.Equal(t, branchID, gotBranch)
			return built, nil
		},
	}
	handler := testServer(nil, routes, nil)
	body := map[string]string{
		"branch_id":  branchID.String(),
		"day":        "2025-06-02",
		"route_type": "EXPORT",
	}

	t.Run("own branch admin", func(t *testing.T) {
		admin := auth.Caller{UserID: uuid.New(), Role: auth.RoleBranchAdmin, BranchID: &branchID}
		rr := doJSON(t, handler, http.MethodPost, "/routes/build", &admin, body)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), built[0].ID.String())
	})

	t.Run("foreign branch admin", func(t *testing.T) {
		other := uuid.New()
		admin := auth.Caller{UserID: uuid.New(), Role: auth.RoleBranchAdmin, BranchID: &other}
		rr := doJSON(t, handler, http.MethodPost, "/routes/build", &admin, body)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("bad route type", func(t *testing.T) {
		admin := auth.Caller{UserID: uuid.New(), Role: auth.RoleBranchAdmin, BranchID: &branchID}
		bad := map[string]string{"branch_id": branchID.String(), "day": "2025-06-02", "route_type": "SIDEWAYS"}
		rr := doJSON(t, handler, http.MethodPost, "/routes/build", &admin, bad)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("build-all needs system admin", func(t *testing.T) {
		admin := auth.Caller{UserID: uuid.New(), Role: auth.RoleBranchAdmin, BranchID: &branchID}
		rr := doJSON(t, handler, http.MethodPost, "/routes/build-all", &admin, map[string]string{"day": "2025-06-02"})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestStockExportConflict(t *testing.T) {
	branchID := uuid.New()
	admin := auth.Caller{UserID: uuid.New(), Role: auth.RoleBranchAdmin, BranchID: &branchID}
	stocks := &fakeStocks{
		exportFn: func(context.Context, auth.Caller, uuid.UUID, *uuid.UUID, []stock.ExportLine) (*repository.StockMovement, error) {
			return nil, &apperr.InsufficientStockError{ItemID: uuid.New(), Requested: 10, Available: 4}
		},
	}
	handler := testServer(nil, nil, stocks)

	body := map[string]interface{}{
		"branch_id": branchID.String(),
		"items":     []map[string]interface{}{{"item_id": uuid.NewString(), "quantity": 10}},
	}
	rr := doJSON(t, handler, http.MethodPost, "/stocks/export-by-items", &admin, body)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "insufficient stock")
}

func TestReportLocationHandler(t *testing.T) {
	caller := auth.Caller{UserID: uuid.New(), Role: auth.RoleContributor}

	var gotLat, gotLon float64
	routes := &fakeRoutes{
		locationFn: func(_ context.Context, got auth.Caller, lat, lon float64) error {
			assert.Equal(t, caller.UserID, got.UserID)
			gotLat, gotLon = lat, lon
			return nil
		},
	}
	handler := testServer(nil, routes, nil)

	rr := doJSON(t, handler, http.MethodPost, "/couriers/location", &caller,
		map[string]float64{"lat": 10.76, "lon": 106.66})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 10.76, gotLat)
	assert.Equal(t, 106.66, gotLon)

	t.Run("missing coordinates", func(t *testing.T) {
		rr := doJSON(t, handler, http.MethodPost, "/couriers/location", &caller,
			map[string]float64{"lat": 10.76})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetRouteNotFound(t *testing.T) {
	routes := &fakeRoutes{
		getFn: func(context.Context, uuid.UUID) (*repository.ScheduledRoute, []repository.RouteStop, error) {
			return nil, nil, apperr.ErrNotFound
		},
	}
	handler := testServer(nil, routes, nil)
	caller := auth.Caller{UserID: uuid.New(), Role: auth.RoleContributor}

	rr := doJSON(t, handler, http.MethodGet, "/routes/"+uuid.NewString(), &caller, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	t.Run("malformed id", func(t *testing.T) {
		rr := doJSON(t, handler, http.MethodGet, "/routes/not-a-uuid", &caller, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
