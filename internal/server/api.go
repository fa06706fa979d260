package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"

	"riskengine/internal/observability"
	"riskengine/internal/query"
)

// api maps HTTP routes onto the query service.
type api struct {
	qs      *query.Service
	metrics *observability.Metrics
	log     zerolog.Logger
}

func newAPI(qs *query.Service, metrics *observability.Metrics, log zerolog.Logger) *api {
	return &api{qs: qs, metrics: metrics, log: log.With().Str("component", "api").Logger()}
}

func (a *api) register(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		name    string
		handler runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/risk/{symbol}", "risk_summary", a.riskSummary},
		{http.MethodGet, "/v1/montecarlo/{symbol}", "montecarlo", a.monteCarlo},
		{http.MethodGet, "/v1/volatility/{symbol}", "volatility", a.volatility},
		{http.MethodGet, "/v1/leverage/{symbol}", "leverage", a.leverageDistribution},
		{http.MethodGet, "/v1/positions", "list_positions", a.listPositions},
		{http.MethodPost, "/v1/positions", "register_position", a.registerPosition},
		{http.MethodDelete, "/v1/positions/{symbol}", "unregister_position", a.unregisterPosition},
		{http.MethodGet, "/v1/liquidations/{symbol}", "liquidation_history", a.liquidationHistory},
		{http.MethodGet, "/v1/reports/{symbol}", "report_history", a.reportHistory},
	}

	for _, r := range routes {
		handler := a.instrument(r.name, r.handler)
		if err := mux.HandlePath(r.method, r.pattern, handler); err != nil {
			return err
		}
	}
	return nil
}

func (a *api) instrument(name string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r, pathParams)
		a.metrics.QueryRequests.WithLabelValues(name, strconv.Itoa(sw.status)).Inc()
		a.metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (a *api) riskSummary(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	resp, err := a.qs.RiskSummary(pathParams["symbol"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, resp)
}

func (a *api) monteCarlo(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	refresh := r.URL.Query().Get("refresh") == "true"
	report, err := a.qs.MonteCarlo(pathParams["symbol"], refresh)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, report)
}

func (a *api) volatility(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	writeJSON(w, a.qs.Volatility(pathParams["symbol"]))
}

func (a *api) leverageDistribution(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	writeJSON(w, a.qs.LeverageDistribution(pathParams["symbol"]))
}

func (a *api) listPositions(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	writeJSON(w, map[string]interface{}{"positions": a.qs.Positions()})
}

type registerPositionRequest struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	EntryPrice       float64 `json:"entryPrice"`
	Quantity         float64 `json:"quantity"`
	Leverage         float64 `json:"leverage"`
	LiquidationPrice float64 `json:"liquidationPrice"`
}

func (a *api) registerPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var req registerPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.qs.RegisterPosition(req.Symbol, req.Side, req.EntryPrice, req.Quantity, req.Leverage, req.LiquidationPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeBody(w, resp)
}

func (a *api) unregisterPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	a.qs.UnregisterPosition(pathParams["symbol"])
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) liquidationHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := a.qs.LiquidationHistory(r.Context(), pathParams["symbol"], limit)
	if err != nil {
		writeError(w, historyStatus(err), err)
		return
	}
	writeJSON(w, map[string]interface{}{"liquidations": entries})
}

func (a *api) reportHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	kind := r.URL.Query().Get("kind")
	entries, err := a.qs.ReportHistory(r.Context(), pathParams["symbol"], kind, limit)
	if err != nil {
		writeError(w, historyStatus(err), err)
		return
	}
	writeJSON(w, map[string]interface{}{"reports": entries})
}

func historyStatus(err error) int {
	if err == query.ErrHistoryUnavailable {
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	writeBody(w, v)
}

func writeBody(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
