package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RequestStatus is the lifecycle of a ride request. A request is OPEN while
// bikers may still accept it, MATCHED once exactly one has, PAID after the
// provider confirms the charge and COMPLETED when both parties were notified.
// CLOSED covers rider cancellation, EXPIRED the unmatched-timeout sweep.
type RequestStatus string

const (
	StatusOpen      RequestStatus = "open"
	StatusMatched   RequestStatus = "matched"
	StatusPaid      RequestStatus = "paid"
	StatusCompleted RequestStatus = "completed"
	StatusClosed    RequestStatus = "closed"
	StatusExpired   RequestStatus = "expired"
)

// Terminal reports whether no further transitions are allowed.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusClosed || s == StatusExpired
}

type RideRequest struct {
	ID               string
	RiderID          int64 // Telegram user id; doubles as the private chat id
	RiderName        string
	Pickup           Coord
	Destination      Coord
	PickupLabel      string
	DestinationLabel string
	RoutePolyline    string
	PreviewURL       string
	PriceMinor       int64 // rider-proposed or biker-invoiced, 0 = unset
	PaidMinor        int64
	Status           RequestStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Match is the single accepted biker for a request. Immutable once created.
type Match struct {
	RequestID  string
	BikerID    int64
	AssignedAt time.Time
}

// BroadcastHandle identifies one fan-out message delivered to a biker.
// A biker's reply carries it back so the response can be correlated to
// the originating request.
type BroadcastHandle struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// BikerPosition is the wire shape published to the position topic and
// mirrored into the last-known-position tracker.
type BikerPosition struct {
	BikerID int64     `json:"biker_id"`
	Loc     Coord     `json:"loc"`
	Updated time.Time `json:"updated"`
}
