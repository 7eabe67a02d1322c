package ops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-broker/internal/feed"
	"github.com/example/ride-broker/internal/geo"
)

// Server exposes the operational surface of the broker: metrics, health,
// the support position lookup and the websocket lifecycle feed.
type Server struct {
	Positions *geo.RedisPositions         // optional, support lookups
	Feed      *feed.Registry              // optional, ws observers
	Ready     func(context.Context) error // optional readiness probe

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(positions *geo.RedisPositions, feedReg *feed.Registry, ready func(context.Context) error, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Positions: positions, Feed: feedReg, Ready: ready, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/v1/bikers/{biker_id}/position", s.handleBikerPosition).Methods("GET")
	s.mux.HandleFunc("/ws/feed", s.handleFeed)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

// handleBikerPosition serves the last known position of a biker from the
// redis tracker, for support tooling.
func (s *Server) handleBikerPosition(w http.ResponseWriter, r *http.Request) {
	if s.Positions == nil {
		http.Error(w, "position tracking not configured", http.StatusServiceUnavailable)
		return
	}
	vars := mux.Vars(r)
	bikerID, err := strconv.ParseInt(vars["biker_id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid biker id", http.StatusBadRequest)
		return
	}
	pos, ok, err := s.Positions.LastKnown(r.Context(), bikerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "no position recorded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pos)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.Feed == nil {
		http.Error(w, "feed not configured", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.Feed.Add(conn)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
