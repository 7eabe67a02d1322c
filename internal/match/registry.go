package match

import (
	"errors"
	"sync"
	"time"

	"github.com/example/ride-broker/internal/models"
)

var (
	// ErrAlreadyMatched is returned to every accept after the first.
	ErrAlreadyMatched = errors.New("request already matched")
	// ErrUnknownRequest is returned for ids that were never opened or are
	// already terminal.
	ErrUnknownRequest = errors.New("unknown request")
	// ErrImmutablePrice guards a paid request's price.
	ErrImmutablePrice = errors.New("price is fixed after payment")
)

// Registry owns every open ride request and enforces the at-most-one-match
// rule. TryAccept is a single check-and-set under one lock because multiple
// bikers race to accept within the fan-out window.
type Registry struct {
	mu       sync.Mutex
	requests map[string]*models.RideRequest
	matches  map[string]models.Match
	handles  map[models.BroadcastHandle]string

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		requests: make(map[string]*models.RideRequest),
		matches:  make(map[string]models.Match),
		handles:  make(map[models.BroadcastHandle]string),
		now:      time.Now,
	}
}

// Open registers a completed rider request as OPEN.
func (r *Registry) Open(req *models.RideRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req.Status = models.StatusOpen
	req.CreatedAt = r.now()
	req.UpdatedAt = req.CreatedAt
	r.requests[req.ID] = req
}

// Bind records that one broadcast message delivered to a biker refers to
// the given request, so the biker's reply can be correlated back.
func (r *Registry) Bind(h models.BroadcastHandle, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h] = requestID
}

// Resolve maps a reply target back to its request id.
func (r *Registry) Resolve(h models.BroadcastHandle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.handles[h]
	return id, ok
}

// Get returns a snapshot of a request.
func (r *Registry) Get(requestID string) (models.RideRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok {
		return models.RideRequest{}, false
	}
	return *req, true
}

// TryAccept admits the first biker to accept a still-open request and
// rejects everyone else. The winner must not be the requesting rider.
func (r *Registry) TryAccept(requestID string, bikerID int64) (models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok || req.Status.Terminal() {
		return models.Match{}, ErrUnknownRequest
	}
	if req.Status != models.StatusOpen {
		return models.Match{}, ErrAlreadyMatched
	}
	if bikerID == req.RiderID {
		return models.Match{}, ErrUnknownRequest
	}
	req.Status = models.StatusMatched
	req.UpdatedAt = r.now()
	m := models.Match{RequestID: requestID, BikerID: bikerID, AssignedAt: req.UpdatedAt}
	r.matches[requestID] = m
	return m, nil
}

// Release reverts a MATCHED request back to OPEN, dropping the match.
// Only the biker holding the match may release it; used when the step
// that should follow admission (invoice delivery) fails, so other bikers
// get another chance instead of the request wedging.
func (r *Registry) Release(requestID string, bikerID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok || req.Status != models.StatusMatched {
		return ErrUnknownRequest
	}
	m, ok := r.matches[requestID]
	if !ok || m.BikerID != bikerID {
		return ErrUnknownRequest
	}
	delete(r.matches, requestID)
	req.Status = models.StatusOpen
	req.UpdatedAt = r.now()
	return nil
}

// MatchFor returns the match admitted for a request, if any.
func (r *Registry) MatchFor(requestID string) (models.Match, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[requestID]
	return m, ok
}

// AttachPrice records a rider-proposed or biker-invoiced price. The price
// is immutable once the request is paid.
func (r *Registry) AttachPrice(requestID string, priceMinor int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok {
		return ErrUnknownRequest
	}
	if req.Status == models.StatusPaid || req.Status == models.StatusCompleted {
		return ErrImmutablePrice
	}
	req.PriceMinor = priceMinor
	req.UpdatedAt = r.now()
	return nil
}

// MarkPaid transitions a matched request to PAID with the confirmed amount.
func (r *Registry) MarkPaid(requestID string, amountMinor int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok || req.Status != models.StatusMatched {
		return ErrUnknownRequest
	}
	req.Status = models.StatusPaid
	req.PaidMinor = amountMinor
	req.UpdatedAt = r.now()
	return nil
}

// Complete finishes a paid request and drops its broadcast handles.
func (r *Registry) Complete(requestID string) error {
	return r.finish(requestID, models.StatusCompleted)
}

// Close cancels a request before completion (rider abort).
func (r *Registry) Close(requestID string) error {
	return r.finish(requestID, models.StatusClosed)
}

func (r *Registry) finish(requestID string, status models.RequestStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok || req.Status.Terminal() {
		return ErrUnknownRequest
	}
	req.Status = status
	req.UpdatedAt = r.now()
	r.dropHandlesLocked(requestID)
	return nil
}

// ExpireStale converts OPEN requests older than maxAge to EXPIRED and
// returns snapshots of what expired so callers can inform the riders.
func (r *Registry) ExpireStale(maxAge time.Duration) []models.RideRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []models.RideRequest
	cutoff := r.now().Add(-maxAge)
	for id, req := range r.requests {
		if req.Status == models.StatusOpen && req.CreatedAt.Before(cutoff) {
			req.Status = models.StatusExpired
			req.UpdatedAt = r.now()
			r.dropHandlesLocked(id)
			expired = append(expired, *req)
		}
	}
	return expired
}

func (r *Registry) dropHandlesLocked(requestID string) {
	for h, id := range r.handles {
		if id == requestID {
			delete(r.handles, h)
		}
	}
}
