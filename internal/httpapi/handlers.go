package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"omc/internal/core"
	apperrors "omc/pkg/errors"
)

type createOrderRequest struct {
	InvestorID int64               `json:"investorId"`
	AssetID    int64               `json:"assetId"`
	OrderType  string              `json:"orderType"`
	Quantity   decimal.Decimal     `json:"quantity"`
	Price      decimal.NullDecimal `json:"price"`
}

type createOrderResponse struct {
	OrderID string           `json:"orderId"`
	Status  core.OrderStatus `json:"status"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "Submission rate limit exceeded")
		return
	}

	var body createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}

	order, err := s.engine.CreateOrder(r.Context(), &core.CreateOrderRequest{
		InvestorID:     body.InvestorID,
		AssetID:        body.AssetID,
		Side:           core.OrderSide(body.OrderType),
		Quantity:       body.Quantity,
		Price:          body.Price,
		IdempotencyKey: canonicalKey(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, createOrderResponse{OrderID: order.OrderID, Status: order.Status})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.GetOrder(r.Context(), mux.Vars(r)["orderId"])
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleOrderLogs(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	logs, err := s.engine.ListStateLogs(r.Context(), orderID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	// Every order carries at least its creation record, so an empty result
	// means the id is unknown.
	if len(logs) == 0 {
		if _, err := s.engine.GetOrder(r.Context(), orderID); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleListInvestorOrders(w http.ResponseWriter, r *http.Request) {
	investorID, err := strconv.ParseInt(mux.Vars(r)["investorId"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Path parameter investorId must be a positive integer")
		return
	}

	var from *time.Time
	if raw := r.URL.Query().Get("fromDate"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Query parameter fromDate must be RFC 3339 or YYYY-MM-DD")
			return
		}
		from = &t
	}

	orders, err := s.engine.ListOrdersForInvestor(r.Context(), investorID, from)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*core.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var body cancelOrderRequest
	// The reason is optional; an empty or absent body cancels with the default.
	_ = json.NewDecoder(r.Body).Decode(&body)

	if _, err := s.engine.CancelOrder(r.Context(), mux.Vars(r)["orderId"], body.Reason); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Order cancelled"})
}

func (s *Server) handleInvestorHoldings(w http.ResponseWriter, r *http.Request) {
	investorID, err := strconv.ParseInt(mux.Vars(r)["investorId"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Path parameter investorId must be a positive integer")
		return
	}

	summary, err := s.valuer.ValueHoldings(r.Context(), investorID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	holdings := summary.Holdings
	if holdings == nil {
		holdings = []*core.HoldingValuation{}
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.assets.ListAssets(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if assets == nil {
		assets = []*core.Asset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	assetID, err := strconv.ParseInt(mux.Vars(r)["assetId"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Path parameter assetId must be a positive integer")
		return
	}

	asset, err := s.assets.GetAsset(r.Context(), assetID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	}

	status := http.StatusOK
	if s.health != nil {
		health["components"] = s.health.GetStatus()
		if !s.health.IsHealthy() {
			health["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, health)
}

// writeEngineError maps sentinel errors onto HTTP statuses. Unrecognized
// errors are logged and masked as a plain 500.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrInvalidState),
		errors.Is(err, apperrors.ErrInvalidParameter),
		errors.Is(err, apperrors.ErrValidationFailed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// canonicalKey collapses a parseable Idempotency-Key to the canonical
// lower-case UUID form so case variants reserve the same key. Anything else
// passes through verbatim.
func canonicalKey(raw string) string {
	if raw == "" {
		return ""
	}
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	return raw
}

// parseDate accepts RFC 3339 timestamps and bare dates.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
