package geo

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/example/ride-broker/internal/models"
)

// ErrNoRoute is returned when the directions backend finds no drivable
// route between two points.
var ErrNoRoute = errors.New("no route found")

// Route is the best route between two coordinates.
type Route struct {
	Polyline string // encoded overview polyline
}

// Directions resolves a best route between two coordinate pairs.
// Implementations are fallible remote calls with no retry; failures
// surface to the user.
type Directions interface {
	Route(ctx context.Context, origin, dest models.Coord) (Route, error)
}

// Geocoder resolves a coordinate pair to a human-readable address label.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c models.Coord) (string, error)
}

// TrimLabel reduces a full formatted address to its first three
// comma-separated components, the granularity shown in broadcasts.
func TrimLabel(address string) string {
	parts := strings.Split(address, ",")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.TrimSpace(strings.Join(parts, ","))
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
