package broker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-broker/internal/broadcast"
	"github.com/example/ride-broker/internal/directory"
	"github.com/example/ride-broker/internal/feed"
	"github.com/example/ride-broker/internal/ingest"
	"github.com/example/ride-broker/internal/match"
	"github.com/example/ride-broker/internal/models"
	"github.com/example/ride-broker/internal/observability"
	"github.com/example/ride-broker/internal/payment"
	"github.com/example/ride-broker/internal/relay"
	"github.com/example/ride-broker/internal/session"
	"github.com/example/ride-broker/internal/storage"
	"github.com/example/ride-broker/internal/transport"
)

// Service drives the ride-request lifecycle: it consumes typed transport
// events, advances per-participant sessions and executes the resulting
// side effects against the broadcaster, match registry, payment gate and
// live location relay.
type Service struct {
	Sessions    *session.Manager
	Registry    *match.Registry
	Broadcaster *broadcast.Broadcaster
	Gate        *payment.Gate
	Relay       *relay.Relay
	Directory   directory.Directory
	Store       storage.RideStore
	Messenger   transport.Messenger
	Positions   *ingest.Producer // optional position pipeline
	Feed        *feed.Registry   // optional ops event feed

	RequestExpiry time.Duration
	Log           *slog.Logger

	// serializes session mutation between the transport loop and the
	// expiry sweeper goroutine
	mu sync.Mutex
}

// HandleEvent processes one inbound chat event. Errors bubble to the
// transport loop, which logs them and drops the event.
func (s *Service) HandleEvent(ctx context.Context, ev transport.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case transport.EventCommand:
		return s.handleCommand(ctx, ev)
	case transport.EventLocation:
		return s.handleLocation(ctx, ev, session.EventLocation)
	case transport.EventEditedLocation:
		return s.handleLocation(ctx, ev, session.EventEditedLocation)
	case transport.EventText:
		return s.handleText(ctx, ev)
	case transport.EventCallback:
		return s.handleCallback(ctx, ev)
	case transport.EventPreCheckout:
		return s.handlePreCheckout(ctx, ev)
	case transport.EventPayment:
		return s.handlePayment(ctx, ev)
	}
	return nil
}

// RunExpirySweeper periodically expires unmatched OPEN requests and
// informs their riders. Blocks until the context is done.
func (s *Service) RunExpirySweeper(ctx context.Context) {
	interval := s.RequestExpiry / 4
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireStale(ctx)
			s.Relay.SweepExpired()
		}
	}
}

func (s *Service) expireStale(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.Registry.ExpireStale(s.RequestExpiry) {
		observability.RequestsExpired.Inc()
		s.log().Info("request expired unmatched", "request_id", req.ID, "rider_id", req.RiderID)
		s.persist(req.ID)
		s.publish(feed.Event{Kind: feed.KindExpired, RequestID: req.ID, RiderID: req.RiderID})
		s.Relay.StopRequest(req.ID)
		for _, sess := range s.Sessions.ByRequest(req.ID) {
			session.Reset(sess)
		}
		if _, err := s.Messenger.SendMessage(ctx, req.RiderID, "No biker took your request in time, so it has expired. Send /start to try again."); err != nil {
			s.log().Warn("expiry notice failed", "rider_id", req.RiderID, "error", err)
		}
	}
}

// persist mirrors the registry's current view of a request into the store.
func (s *Service) persist(requestID string) {
	if s.Store == nil {
		return
	}
	req, ok := s.Registry.Get(requestID)
	if !ok {
		return
	}
	if err := s.Store.UpdateRequest(&req); err != nil {
		s.log().Warn("ride store update failed", "request_id", requestID, "error", err)
	}
}

func (s *Service) publish(ev feed.Event) {
	if s.Feed != nil {
		s.Feed.Publish(ev)
	}
}

func (s *Service) publishPosition(bikerID int64, loc models.Coord) {
	if s.Positions == nil {
		return
	}
	pos := models.BikerPosition{BikerID: bikerID, Loc: loc, Updated: time.Now()}
	if err := s.Positions.PublishPosition(pos); err != nil {
		s.log().Warn("position publish failed", "biker_id", bikerID, "error", err)
	}
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
