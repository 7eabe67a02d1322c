package session

import (
	"strconv"
	"sync"

	"github.com/example/ride-broker/internal/models"
)

// State is the closed set of conversation states a participant can be in.
// Rider path: idle -> awaiting_pickup -> awaiting_destination ->
// broadcasting -> awaiting_biker_response -> matched -> awaiting_payment.
// Biker path: idle -> awaiting_city -> registered, and after winning a
// match: matched -> sharing_location -> en_route.
type State string

const (
	StateIdle                State = "idle"
	StateAwaitingPickup      State = "awaiting_pickup"
	StateAwaitingDestination State = "awaiting_destination"
	StateBroadcasting        State = "broadcasting"
	StateAwaitingResponse    State = "awaiting_biker_response"
	StateMatched             State = "matched"
	StateSharingLocation     State = "sharing_location"
	StateEnRoute             State = "en_route"
	StateAwaitingPayment     State = "awaiting_payment"

	StateAwaitingCity State = "awaiting_city"
	StateRegistered   State = "registered"
)

// Session is one participant's conversation state. Whether the participant
// is acting as rider or biker is inferred from the path taken, not fixed.
type Session struct {
	ParticipantID int64
	ChatID        int64

	State              State
	Pickup             *models.Coord
	Destination        *models.Coord
	ProposedPriceMinor int64
	ActiveRequestID    string
	LastBikerLoc       *models.Coord
	LiveMessageID      int // rider-visible live location message, edited in place
}

// EventKind classifies one inbound event for the transition function.
type EventKind int

const (
	EventStart EventKind = iota
	EventJoin
	EventLocation       // fresh location share
	EventEditedLocation // in-place edit of a shared live location
	EventText
)

type Event struct {
	Kind     EventKind
	Text     string
	Location *models.Coord
}

// Action is the side effect the caller must execute after a transition.
type Action int

const (
	ActionNone Action = iota
	ActionPromptPickup
	ActionPromptCity
	ActionPromptDestination
	ActionBeginBroadcast
	ActionAttachPrice
	ActionRejectPrice
	ActionSaveCity
	ActionStartRelay
	ActionUpdateRelay
)

// Advance applies one inbound event to a session. It is deterministic given
// the current state and event, mutates the session in place and returns the
// side effect to run. Events that make no sense in the current state are
// ignored, not errors.
func Advance(s *Session, ev Event) Action {
	switch ev.Kind {
	case EventStart:
		// a fresh /start discards any half-captured trip so stale
		// coordinates or a price from an earlier request cannot leak in
		s.Pickup = nil
		s.Destination = nil
		s.ProposedPriceMinor = 0
		s.ActiveRequestID = ""
		s.State = StateAwaitingPickup
		return ActionPromptPickup

	case EventJoin:
		s.State = StateAwaitingCity
		return ActionPromptCity

	case EventLocation:
		if ev.Location == nil {
			return ActionNone
		}
		switch s.State {
		case StateAwaitingPickup:
			loc := *ev.Location
			s.Pickup = &loc
			s.State = StateAwaitingDestination
			return ActionPromptDestination
		case StateAwaitingDestination:
			loc := *ev.Location
			s.Destination = &loc
			s.State = StateBroadcasting
			return ActionBeginBroadcast
		case StateMatched:
			loc := *ev.Location
			s.LastBikerLoc = &loc
			s.State = StateSharingLocation
			return ActionStartRelay
		}
		return ActionNone

	case EventEditedLocation:
		if ev.Location == nil {
			return ActionNone
		}
		switch s.State {
		case StateMatched:
			// first live share can arrive as an edit
			loc := *ev.Location
			s.LastBikerLoc = &loc
			s.State = StateSharingLocation
			return ActionStartRelay
		case StateEnRoute:
			loc := *ev.Location
			s.LastBikerLoc = &loc
			return ActionUpdateRelay
		}
		return ActionNone

	case EventText:
		switch s.State {
		case StateAwaitingCity:
			s.State = StateRegistered
			return ActionSaveCity
		case StateBroadcasting, StateAwaitingResponse:
			price, ok := parsePriceMinor(ev.Text)
			if !ok {
				return ActionRejectPrice
			}
			s.ProposedPriceMinor = price
			return ActionAttachPrice
		}
		return ActionNone
	}
	return ActionNone
}

// BroadcastFailed reverts a session to the destination step after a route
// or geocode failure so the rider can retry by resending the destination.
func BroadcastFailed(s *Session) {
	s.Destination = nil
	s.State = StateAwaitingDestination
}

// BroadcastSucceeded records the open request and parks the rider waiting
// for a biker response.
func BroadcastSucceeded(s *Session, requestID string) {
	s.ActiveRequestID = requestID
	s.State = StateAwaitingResponse
}

// Reset returns a session to idle, dropping any trip in progress.
func Reset(s *Session) {
	s.State = StateIdle
	s.Pickup = nil
	s.Destination = nil
	s.ProposedPriceMinor = 0
	s.ActiveRequestID = ""
	s.LastBikerLoc = nil
	s.LiveMessageID = 0
}

func parsePriceMinor(text string) (int64, bool) {
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Manager holds every participant session. Sessions are created on first
// inbound event and never destroyed, only reset to idle. The lock guards
// map access only; session fields are mutated by the broker under its own
// event lock, which both the transport loop and the expiry sweeper take.
type Manager struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[int64]*Session)}
}

func (m *Manager) GetOrCreate(participantID, chatID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[participantID]; ok {
		return s
	}
	s := &Session{ParticipantID: participantID, ChatID: chatID, State: StateIdle}
	m.sessions[participantID] = s
	return s
}

func (m *Manager) Get(participantID int64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[participantID]
	return s, ok
}

// ByRequest finds every session attached to a request id. Used when a
// request expires or completes to reset the participants involved.
func (m *Manager) ByRequest(requestID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.ActiveRequestID == requestID {
			out = append(out, s)
		}
	}
	return out
}
