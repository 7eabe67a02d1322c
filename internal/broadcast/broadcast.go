package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/ride-broker/internal/directory"
	"github.com/example/ride-broker/internal/geo"
	"github.com/example/ride-broker/internal/match"
	"github.com/example/ride-broker/internal/models"
	"github.com/example/ride-broker/internal/observability"
	"github.com/example/ride-broker/internal/transport"
)

// ErrNoCoverage is returned when no registered biker covers the pickup
// area. The rider is always told, never silently dropped.
var ErrNoCoverage = errors.New("no bikers cover the pickup area")

const invoicePlaceholder = "/invoice"

// Broadcaster fans a completed ride request out to every eligible biker.
// Eligibility: the biker's registered city is a substring of the resolved
// pickup label, and the biker is not the requesting rider.
type Broadcaster struct {
	Directory  directory.Directory
	Geocoder   geo.Geocoder
	Directions geo.Directions
	PreviewURL func(polyline string) string
	Messenger  transport.Messenger
	Registry   *match.Registry
	Log        *slog.Logger
}

// Prepare resolves the route and address labels for a request. An error
// here means the request must not be broadcast at all.
func (b *Broadcaster) Prepare(ctx context.Context, req *models.RideRequest) error {
	route, err := b.Directions.Route(ctx, req.Pickup, req.Destination)
	if err != nil {
		return fmt.Errorf("route lookup: %w", err)
	}
	pickupLabel, err := b.Geocoder.ReverseGeocode(ctx, req.Pickup)
	if err != nil {
		return fmt.Errorf("pickup geocode: %w", err)
	}
	destLabel, err := b.Geocoder.ReverseGeocode(ctx, req.Destination)
	if err != nil {
		return fmt.Errorf("destination geocode: %w", err)
	}
	req.RoutePolyline = route.Polyline
	req.PickupLabel = pickupLabel
	req.DestinationLabel = destLabel
	if b.PreviewURL != nil {
		req.PreviewURL = b.PreviewURL(route.Polyline)
	}
	return nil
}

// Broadcast delivers the prepared request to every eligible biker and binds
// each delivered message back to the request id. Per-biker delivery errors
// are logged and skipped; the broadcast continues.
func (b *Broadcaster) Broadcast(ctx context.Context, req *models.RideRequest) (int, error) {
	all, err := b.Directory.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("directory read: %w", err)
	}

	text := requestLine(req)
	delivered := 0
	for bikerID, city := range all {
		if bikerID == req.RiderID {
			continue
		}
		if city == "" || !strings.Contains(req.PickupLabel, city) {
			continue
		}
		if req.PreviewURL != "" {
			previewID, err := b.Messenger.SendRequestPreview(ctx, bikerID, req.PreviewURL)
			if err != nil {
				b.log().Warn("route preview delivery failed", "biker_id", bikerID, "error", err)
			} else {
				// the preview carries the accept button, so its presses
				// must resolve to the request as well
				b.Registry.Bind(models.BroadcastHandle{ChatID: bikerID, MessageID: previewID}, req.ID)
			}
		}
		msgID, err := b.Messenger.SendRequestLine(ctx, bikerID, text, invoicePlaceholder)
		if err != nil {
			b.log().Warn("request delivery failed", "biker_id", bikerID, "error", err)
			continue
		}
		b.Registry.Bind(models.BroadcastHandle{ChatID: bikerID, MessageID: msgID}, req.ID)
		delivered++
	}

	observability.BroadcastRecipients.Observe(float64(delivered))
	if delivered == 0 {
		return 0, ErrNoCoverage
	}
	observability.BroadcastsTotal.Inc()
	return delivered, nil
}

func requestLine(req *models.RideRequest) string {
	line := fmt.Sprintf("NEW RIDE REQUEST from %s! Pick-up: %s. Drop-off: %s.",
		req.RiderName, req.PickupLabel, req.DestinationLabel)
	if req.PriceMinor > 0 {
		line += fmt.Sprintf(" Offered price: %.2f %s.", float64(req.PriceMinor)/100, "EUR")
	}
	return line
}

func (b *Broadcaster) log() *slog.Logger {
	if b.Log != nil {
		return b.Log
	}
	return slog.Default()
}
