package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tungvs/charity-delivery/internal/auth"
	"github.com/tungvs/charity-delivery/internal/repository"
	"github.com/tungvs/charity-delivery/internal/service/delivery"
	"github.com/tungvs/charity-delivery/internal/service/route"
	"github.com/tungvs/charity-delivery/internal/service/stock"
)

const dayFormat = "2006-01-02"

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)[name])
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}

	var body struct {
		Type         string  `json:"type"`
		BranchID     string  `json:"branch_id"`
		FromAddress  string  `json:"from_address"`
		FromLat      float64 `json:"from_lat"`
		FromLon      float64 `json:"from_lon"`
		ToAddress    string  `json:"to_address"`
		ToLat        float64 `json:"to_lat"`
		ToLon        float64 `json:"to_lon"`
		ScheduledDay string  `json:"scheduled_day"`
		WindowStart  string  `json:"window_start"`
		WindowEnd    string  `json:"window_end"`
		Items        []struct {
			ItemID     string  `json:"item_id"`
			Quantity   int     `json:"quantity"`
			UnitVolume float64 `json:"unit_volume"`
			ExpiresAt  *string `json:"expires_at,omitempty"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	branchID, err := uuid.Parse(body.BranchID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid branch_id")
		return
	}
	day, err := time.Parse(dayFormat, body.ScheduledDay)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid scheduled_day, use YYYY-MM-DD")
		return
	}
	winStart, err := time.Parse(time.RFC3339, body.WindowStart)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid window_start, use RFC3339")
		return
	}
	winEnd, err := time.Parse(time.RFC3339, body.WindowEnd)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid window_end, use RFC3339")
		return
	}

	params := delivery.CreateParams{
		Type:         repository.DeliveryType(body.Type),
		BranchID:     branchID,
		FromAddress:  body.FromAddress,
		FromLat:      body.FromLat,
		FromLon:      body.FromLon,
		ToAddress:    body.ToAddress,
		ToLat:        body.ToLat,
		ToLon:        body.ToLon,
		ScheduledDay: day,
		WindowStart:  winStart,
		WindowEnd:    winEnd,
	}
	for _, it := range body.Items {
		itemID, err := uuid.Parse(it.ItemID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid item_id")
			return
		}
		item := delivery.ItemParams{ItemID: itemID, Quantity: it.Quantity, UnitVolume: it.UnitVolume}
		if it.ExpiresAt != nil {
			exp, err := time.Parse(time.RFC3339, *it.ExpiresAt)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid expires_at, use RFC3339")
				return
			}
			item.ExpiresAt = &exp
		}
		params.Items = append(params.Items, item)
	}

	req, err := s.deliveries.Create(r.Context(), caller, params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, req)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	req, items, err := s.deliveries.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"request": req,
		"items":   items,
	})
}

func (s *Server) handleUpdateReceived(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var body struct {
		Items []struct {
			ItemID   string `json:"item_id"`
			Received int    `json:"received"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	lines := make([]delivery.ReceivedLine, 0, len(body.Items))
	for _, it := range body.Items {
		itemID, err := uuid.Parse(it.ItemID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid item_id")
			return
		}
		lines = append(lines, delivery.ReceivedLine{ItemID: itemID, Received: it.Received})
	}

	if err := s.deliveries.UpdateReceivedQuantity(r.Context(), caller, id, lines); err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "received quantities updated"})
}

func (s *Server) handleAttachProof(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.deliveries.AttachProofImage(r.Context(), caller, id, body.URL); err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "proof image attached"})
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.deliveries.Cancel(r.Context(), caller, id, body.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "request canceled"})
}

func (s *Server) handleReportRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.deliveries.Report(r.Context(), caller, id, body.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "request reported"})
}

func (s *Server) handleResolveReport(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	var body struct {
		NextStatus string `json:"next_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.deliveries.HandleReport(r.Context(), caller, id, repository.DeliveryStatus(body.NextStatus)); err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "report resolved"})
}

func (s *Server) handleBuildRoutes(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	var body struct {
		BranchID  string `json:"branch_id"`
		Day       string `json:"day"`
		RouteType string `json:"route_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	branchID, err := uuid.Parse(body.BranchID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid branch_id")
		return
	}
	if !caller.CanManageBranch(branchID) {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	day, err := time.Parse(dayFormat, body.Day)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid day, use YYYY-MM-DD")
		return
	}
	routeType := repository.RouteType(body.RouteType)
	if routeType != repository.RouteImport && routeType != repository.RouteExport {
		respondError(w, http.StatusBadRequest, "route_type must be IMPORT or EXPORT")
		return
	}

	routes, err := s.routes.Build(r.Context(), branchID, day, routeType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"routes": routes})
}

func (s *Server) handleBuildAllRoutes(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	if caller.Role != auth.RoleSystemAdmin {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	var body struct {
		Day string `json:"day"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	day, err := time.Parse(dayFormat, body.Day)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid day, use YYYY-MM-DD")
		return
	}
	routes, err := s.routes.BuildAll(r.Context(), day)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"routes": routes})
}

func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid route id")
		return
	}
	rt, stops, err := s.routes.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"route": rt,
		"stops": stops,
	})
}

func (s *Server) handleAcceptRoute(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid route id")
		return
	}
	var body struct {
		Lat *float64 `json:"lat,omitempty"`
		Lon *float64 `json:"lon,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := s.routes.Accept(r.Context(), caller, id, body.Lat, body.Lon); err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "route accepted"})
}

func (s *Server) handleStartRoute(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid route id")
		return
	}
	if err := s.routes.Start(r.Context(), caller, id); err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "route started"})
}

func (s *Server) handleAdvanceRoute(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid route id")
		return
	}
	rt, err := s.routes.AdvanceNext(r.Context(), caller, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"route": rt})
}

func (s *Server) handleGiveItems(w http.ResponseWriter, r *http.Request) {
	s.handleQuantityConfirmation(w, r, s.routes.GiveItems)
}

func (s *Server) handleReceiveItems(w http.ResponseWriter, r *http.Request) {
	s.handleQuantityConfirmation(w, r, s.routes.ReceiveItems)
}

func (s *Server) handleQuantityConfirmation(w http.ResponseWriter, r *http.Request, confirm func(ctx context.Context, caller auth.Caller, routeID, requestID uuid.UUID, lines []route.QuantityLine) error) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	routeID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid route id")
		return
	}
	requestID, err := pathID(r, "requestID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	var body struct {
		Items []struct {
			ItemID   string `json:"item_id"`
			Quantity int    `json:"quantity"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	lines := make([]route.QuantityLine, 0, len(body.Items))
	for _, it := range body.Items {
		itemID, err := uuid.Parse(it.ItemID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid item_id")
			return
		}
		lines = append(lines, route.QuantityLine{ItemID: itemID, Quantity: it.Quantity})
	}
	if err := confirm(r.Context(), caller, routeID, requestID, lines); err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "quantities confirmed"})
}

func (s *Server) handleReportLocation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	var body struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Lat == nil || body.Lon == nil {
		respondError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	if err := s.routes.ReportLocation(r.Context(), caller, *body.Lat, *body.Lon); err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "location updated"})
}

func (s *Server) handleCancelRoute(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid route id")
		return
	}
	if err := s.routes.Cancel(r.Context(), caller, id); err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "route canceled"})
}

func (s *Server) handleStockImport(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	var body struct {
		BranchID     string `json:"branch_id"`
		MovementType string `json:"movement_type"`
		Items        []struct {
			ItemID    string  `json:"item_id"`
			Quantity  int     `json:"quantity"`
			ExpiresAt *string `json:"expires_at,omitempty"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	branchID, err := uuid.Parse(body.BranchID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid branch_id")
		return
	}
	lines := make([]stock.ImportLine, 0, len(body.Items))
	for _, it := range body.Items {
		itemID, err := uuid.Parse(it.ItemID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid item_id")
			return
		}
		line := stock.ImportLine{ItemID: itemID, Quantity: it.Quantity}
		if it.ExpiresAt != nil {
			exp, err := time.Parse(time.RFC3339, *it.ExpiresAt)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid expires_at, use RFC3339")
				return
			}
			line.ExpiresAt = &exp
		}
		lines = append(lines, line)
	}

	movement, err := s.stocks.RecordImport(r.Context(), caller, branchID, nil, nil,
		repository.StockMovementType(body.MovementType), lines)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, movement)
}

func (s *Server) handleStockExportByItems(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	var body struct {
		BranchID string `json:"branch_id"`
		Items    []struct {
			ItemID   string `json:"item_id"`
			Quantity int    `json:"quantity"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	branchID, err := uuid.Parse(body.BranchID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid branch_id")
		return
	}
	lines := make([]stock.ExportLine, 0, len(body.Items))
	for _, it := range body.Items {
		itemID, err := uuid.Parse(it.ItemID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid item_id")
			return
		}
		lines = append(lines, stock.ExportLine{ItemID: itemID, Quantity: it.Quantity})
	}

	movement, err := s.stocks.RecordExportByItems(r.Context(), caller, branchID, nil, lines)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, movement)
}

func (s *Server) handleStockExportByStocks(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	var body struct {
		BranchID string `json:"branch_id"`
		Batches  []struct {
			StockID  string `json:"stock_id"`
			Quantity int    `json:"quantity"`
		} `json:"batches"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	branchID, err := uuid.Parse(body.BranchID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid branch_id")
		return
	}
	lines := make([]stock.BatchLine, 0, len(body.Batches))
	for _, b := range body.Batches {
		stockID, err := uuid.Parse(b.StockID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid stock_id")
			return
		}
		lines = append(lines, stock.BatchLine{StockID: stockID, Quantity: b.Quantity})
	}

	movement, err := s.stocks.RecordExportByStocks(r.Context(), caller, branchID, lines)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, movement)
}

func (s *Server) handleStockAvailable(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid branch id")
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	qty, err := s.stocks.Available(r.Context(), branchID, itemID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"available": qty})
}

func (s *Server) handleMovementHistory(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrAbort(w, r)
	if !ok {
		return
	}
	branchID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid branch id")
		return
	}

	page, limit := 1, 20
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page <= 0 {
			respondError(w, http.StatusBadRequest, "invalid 'page' parameter")
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
	}
	from := time.Time{}
	to := time.Now().UTC()
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err = time.Parse(dayFormat, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid 'from' parameter, use YYYY-MM-DD")
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err = time.Parse(dayFormat, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid 'to' parameter, use YYYY-MM-DD")
			return
		}
	}

	movements, err := s.stocks.History(r.Context(), caller, branchID, from, to, page, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"movements": movements})
}

func (s *Server) handleMovementDetails(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid movement id")
		return
	}
	details, err := s.stocks.Details(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"details": details})
}
