package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ride-broker/internal/models"
	"github.com/example/ride-broker/internal/observability"
	"github.com/example/ride-broker/internal/transport"
)

var (
	// ErrNotMatched is returned when a relay is started for a request
	// without an admitted match, or by a biker other than the match.
	ErrNotMatched = errors.New("request not matched")
	// ErrNotOwner rejects updates from a biker not holding the handle.
	ErrNotOwner = errors.New("relay held by another biker")
	// ErrNoRelay is returned for updates after Stop or before Start.
	ErrNoRelay = errors.New("no active relay")
)

// Matches is the slice of the match registry the relay needs.
type Matches interface {
	MatchFor(requestID string) (models.Match, bool)
}

// Handle identifies one active relay and the biker allowed to feed it.
// MessageID is the rider-visible live location message edited in place.
type Handle struct {
	RequestID string
	BikerID   int64
	MessageID int
}

type relayState struct {
	bikerID     int64
	riderChatID int64
	messageID   int
	last        models.Coord
	started     time.Time
}

// Relay forwards a matched biker's position stream to the rider as a
// single live location message edited in place.
type Relay struct {
	Messenger         transport.Messenger
	Matches           Matches
	LivePeriodSeconds int

	mu     sync.Mutex
	active map[string]*relayState
	now    func() time.Time
}

func New(m transport.Messenger, matches Matches, livePeriodSeconds int) *Relay {
	return &Relay{
		Messenger:         m,
		Matches:           matches,
		LivePeriodSeconds: livePeriodSeconds,
		active:            make(map[string]*relayState),
		now:               time.Now,
	}
}

// Start seeds a rider-visible live position indicator with the biker's
// first reported location. Only the matched biker may start the relay.
func (r *Relay) Start(ctx context.Context, requestID string, bikerID, riderChatID int64, loc models.Coord) (Handle, error) {
	m, ok := r.Matches.MatchFor(requestID)
	if !ok {
		return Handle{}, ErrNotMatched
	}
	if m.BikerID != bikerID {
		return Handle{}, ErrNotMatched
	}

	msgID, err := r.Messenger.SendLiveLocation(ctx, riderChatID, loc, r.LivePeriodSeconds)
	if err != nil {
		return Handle{}, err
	}

	r.mu.Lock()
	r.active[requestID] = &relayState{bikerID: bikerID, riderChatID: riderChatID, messageID: msgID, last: loc, started: r.now()}
	r.mu.Unlock()
	return Handle{RequestID: requestID, BikerID: bikerID, MessageID: msgID}, nil
}

// Update edits the existing indicator in place. Repeated identical updates
// are no-ops; updates from a biker not holding the handle are rejected.
func (r *Relay) Update(ctx context.Context, h Handle, loc models.Coord) error {
	r.mu.Lock()
	st, ok := r.active[h.RequestID]
	if !ok {
		r.mu.Unlock()
		return ErrNoRelay
	}
	if st.bikerID != h.BikerID {
		r.mu.Unlock()
		return ErrNotOwner
	}
	if st.last == loc {
		r.mu.Unlock()
		return nil
	}
	riderChatID, messageID := st.riderChatID, st.messageID
	st.last = loc
	r.mu.Unlock()

	if err := r.Messenger.EditLiveLocation(ctx, riderChatID, messageID, loc); err != nil {
		return err
	}
	observability.RelayUpdatesTotal.Inc()
	return nil
}

// Stop ends the relay on trip completion. Further updates are rejected.
func (r *Relay) Stop(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.active[h.RequestID]
	if !ok || st.bikerID != h.BikerID {
		return
	}
	delete(r.active, h.RequestID)
}

// StopRequest ends any relay attached to a request regardless of holder.
// Used when a request reaches a terminal status.
func (r *Relay) StopRequest(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, requestID)
}

// SweepExpired drops relays whose live period has elapsed. The platform
// stops accepting edits for them anyway; without the sweep, completed
// rides would accumulate state forever. Returns the number removed.
func (r *Relay) SweepExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-time.Duration(r.LivePeriodSeconds) * time.Second)
	removed := 0
	for id, st := range r.active {
		if st.started.Before(cutoff) {
			delete(r.active, id)
			removed++
		}
	}
	return removed
}
