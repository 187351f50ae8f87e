package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/haul-dispatch/internal/dispatch"
	"github.com/example/haul-dispatch/internal/geo"
	"github.com/example/haul-dispatch/internal/models"
	"github.com/example/haul-dispatch/internal/storage"
)

const (
	serviceName       = "haul-dispatch"
	defaultNearbySize = 10
	maxNearbySize     = 100
)

// StatsSource reports live coordinator counters for the status endpoint.
type StatsSource interface {
	Stats() dispatch.Stats
}

type Deps struct {
	Stats       StatsSource
	Orders      storage.OrderStore
	Locations   geo.Tracker
	WS          http.Handler
	CORSOrigins []string
	Logger      *slog.Logger
}

type Server struct {
	stats     StatsSource
	orders    storage.OrderStore
	locations geo.Tracker
	ws        http.Handler
	logger    *slog.Logger
	mux       *mux.Router
	handler   http.Handler
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		stats:     d.Stats,
		orders:    d.Orders,
		locations: d.Locations,
		ws:        d.WS,
		logger:    d.Logger.With("component", "http"),
		mux:       mux.NewRouter(),
	}
	s.routes()
	s.registerMiddleware()
	s.handler = newCORSHandler(d.CORSOrigins)(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleStatus).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.ws != nil {
		s.mux.Handle("/ws", s.ws)
	}

	api := s.mux.PathPrefix("/api").Subrouter()
	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/drivers/nearby", s.handleNearby).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"service": serviceName, "status": "running"}
	if s.stats != nil {
		st := s.stats.Stats()
		resp["onlineDrivers"] = st.OnlineDrivers
		resp["activeBookings"] = st.ActiveBookings
		resp["activeTrips"] = st.ActiveTrips
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var in storage.NewOrder
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	o, err := s.orders.CreateRecord(r.Context(), in)
	if err != nil {
		var verr *storage.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Reason)
			return
		}
		s.logger.Error("create order failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "order": o})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := models.OrderPending
	if v := strings.TrimSpace(r.URL.Query().Get("status")); v != "" {
		status = models.OrderStatus(strings.ToLower(v))
	}
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status: "+string(status))
		return
	}
	orders, err := s.orders.ListByStatus(r.Context(), status)
	if err != nil {
		s.logger.Error("list orders failed", "status", status, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(orders), "orders": orders})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	o, err := s.orders.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		s.logger.Error("get order failed", "order_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch order")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": o})
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		writeError(w, http.StatusBadRequest, "lat and lon must be valid coordinates")
		return
	}
	limit := defaultNearbySize
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxNearbySize)
	}
	positions, err := s.locations.Nearby(r.Context(), lat, lon, limit)
	if err != nil {
		s.logger.Error("nearby lookup failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "location index unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(positions), "drivers": positions})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
