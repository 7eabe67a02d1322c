package feed

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-broker/internal/models"
)

// Event is one request-lifecycle notification pushed to connected
// observers.
type Event struct {
	Kind        string        `json:"kind"`
	RequestID   string        `json:"request_id,omitempty"`
	RiderID     int64         `json:"rider_id,omitempty"`
	BikerID     int64         `json:"biker_id,omitempty"`
	AmountMinor int64         `json:"amount_minor,omitempty"`
	Loc         *models.Coord `json:"loc,omitempty"`
	At          time.Time     `json:"at"`
}

const (
	KindOpened      = "request_opened"
	KindBroadcast   = "request_broadcast"
	KindMatched     = "request_matched"
	KindInvoice     = "invoice_issued"
	KindPaid        = "request_paid"
	KindCompleted   = "request_completed"
	KindClosed      = "request_closed"
	KindExpired     = "request_expired"
	KindRelayUpdate = "relay_update"
)

// subscriber wraps one observer connection
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// Registry holds observer sessions and fans lifecycle events out to them.
type Registry struct {
	mu   sync.RWMutex
	subs map[*websocket.Conn]*subscriber
	log  *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{subs: make(map[*websocket.Conn]*subscriber), log: log}
}

func (r *Registry) Add(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[conn] = &subscriber{conn: conn}
}

// Publish sends the event to every subscriber, dropping dead connections.
func (r *Registry) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	r.mu.RLock()
	subs := make([]*subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	for _, s := range subs {
		if err := s.send(ev); err != nil {
			r.log.Debug("feed subscriber dropped", "error", err)
			r.mu.Lock()
			delete(r.subs, s.conn)
			r.mu.Unlock()
			_ = s.conn.Close()
		}
	}
}
