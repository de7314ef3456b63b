// Package server exposes the orchestration core over HTTP. Authentication
// happens upstream; the gateway forwards the resolved identity in X-User-Id,
// X-User-Role and X-Branch-Id headers.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tungvs/charity-delivery/internal/auth"
	"github.com/tungvs/charity-delivery/internal/repository"
	"github.com/tungvs/charity-delivery/internal/service/delivery"
	"github.com/tungvs/charity-delivery/internal/service/route"
	"github.com/tungvs/charity-delivery/internal/service/stock"
)

type DeliveryService interface {
	Create(ctx context.Context, caller auth.Caller, p delivery.CreateParams) (*repository.DeliveryRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*repository.DeliveryRequest, []repository.DeliveryItem, error)
	UpdateReceivedQuantity(ctx context.Context, caller auth.Caller, requestID uuid.UUID, lines []delivery.ReceivedLine) error
	AttachProofImage(ctx context.Context, caller auth.Caller, requestID uuid.UUID, url string) error
	Cancel(ctx context.Context, caller auth.Caller, requestID uuid.UUID, reason string) error
	Report(ctx context.Context, caller auth.Caller, requestID uuid.UUID, reason string) error
	HandleReport(ctx context.Context, caller auth.Caller, requestID uuid.UUID, next repository.DeliveryStatus) error
}

type RouteService interface {
	Build(ctx context.Context, branchID uuid.UUID, day time.Time, routeType repository.RouteType) ([]*repository.ScheduledRoute, error)
	BuildAll(ctx context.Context, day time.Time) ([]*repository.ScheduledRoute, error)
	Get(ctx context.Context, id uuid.UUID) (*repository.ScheduledRoute, []repository.RouteStop, error)
	Accept(ctx context.Context, caller auth.Caller, routeID uuid.UUID, lat, lon *float64) error
	ReportLocation(ctx context.Context, caller auth.Caller, lat, lon float64) error
	Start(ctx context.Context, caller auth.Caller, routeID uuid.UUID) error
	AdvanceNext(ctx context.Context, caller auth.Caller, routeID uuid.UUID) (*repository.ScheduledRoute, error)
	GiveItems(ctx context.Context, caller auth.Caller, routeID, requestID uuid.UUID, lines []route.QuantityLine) error
	ReceiveItems(ctx context.Context, caller auth.Caller, routeID, requestID uuid.UUID, lines []route.QuantityLine) error
	Cancel(ctx context.Context, caller auth.Caller, routeID uuid.UUID) error
}

type StockService interface {
	RecordImport(ctx context.Context, caller auth.Caller, branchID uuid.UUID, routeID, requestID *uuid.UUID, movementType repository.StockMovementType, lines []stock.ImportLine) (*repository.StockMovement, error)
	RecordExportByItems(ctx context.Context, caller auth.Caller, branchID uuid.UUID, routeID *uuid.UUID, lines []stock.ExportLine) (*repository.StockMovement, error)
	RecordExportByStocks(ctx context.Context, caller auth.Caller, branchID uuid.UUID, lines []stock.BatchLine) (*repository.StockMovement, error)
	Available(ctx context.Context, branchID, itemID uuid.UUID) (int, error)
	History(ctx context.Context, caller auth.Caller, branchID uuid.UUID, from, to time.Time, page, limit int) ([]*repository.StockMovement, error)
	Details(ctx context.Context, movementID uuid.UUID) ([]repository.StockMovementDetail, error)
}

type Server struct {
	deliveries   DeliveryService
	routes       RouteService
	stocks       StockService
	logger       *zap.Logger
	server       *http.Server
	AuditManager *AuditManager
}

func New(deliveries DeliveryService, routes RouteService, stocks StockService, logger *zap.Logger) *Server {
	return &Server{
		deliveries:   deliveries,
		routes:       routes,
		stocks:       stocks,
		logger:       logger,
		AuditManager: NewAuditManager(2, 5, 500*time.Millisecond, logger),
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port string) error {
	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.AuditManager.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", zap.String("port", port))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.AuditManager.Shutdown(ctx)
	return nil
}

// Routes builds the full handler chain. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/").Subrouter()
	api.Use(s.loggingMiddleware, s.callerMiddleware, s.auditMiddleware)

	api.HandleFunc("/requests", s.handleCreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/received", s.handleUpdateReceived).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/proof", s.handleAttachProof).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/cancel", s.handleCancelRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/report", s.handleReportRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/report/resolve", s.handleResolveReport).Methods(http.MethodPost)

	api.HandleFunc("/routes/build", s.handleBuildRoutes).Methods(http.MethodPost)
	api.HandleFunc("/routes/build-all", s.handleBuildAllRoutes).Methods(http.MethodPost)
	api.HandleFunc("/routes/{id}", s.handleGetRoute).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}/accept", s.handleAcceptRoute).Methods(http.MethodPost)
	api.HandleFunc("/routes/{id}/start", s.handleStartRoute).Methods(http.MethodPost)
	api.HandleFunc("/routes/{id}/advance", s.handleAdvanceRoute).Methods(http.MethodPost)
	api.HandleFunc("/routes/{id}/requests/{requestID}/give", s.handleGiveItems).Methods(http.MethodPost)
	api.HandleFunc("/routes/{id}/requests/{requestID}/receive", s.handleReceiveItems).Methods(http.MethodPost)
	api.HandleFunc("/routes/{id}/cancel", s.handleCancelRoute).Methods(http.MethodPost)

	api.HandleFunc("/couriers/location", s.handleReportLocation).Methods(http.MethodPost)

	api.HandleFunc("/stocks/import", s.handleStockImport).Methods(http.MethodPost)
	api.HandleFunc("/stocks/export-by-items", s.handleStockExportByItems).Methods(http.MethodPost)
	api.HandleFunc("/stocks/export-by-stocks", s.handleStockExportByStocks).Methods(http.MethodPost)
	api.HandleFunc("/branches/{id}/items/{itemID}/available", s.handleStockAvailable).Methods(http.MethodGet)
	api.HandleFunc("/branches/{id}/movements", s.handleMovementHistory).Methods(http.MethodGet)
	api.HandleFunc("/movements/{id}/details", s.handleMovementDetails).Methods(http.MethodGet)

	return r
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
