package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/ride-broker/internal/models"
)

const googleMapsBase = "https://maps.googleapis.com/maps/api"

// GoogleClient performs directions and reverse-geocode lookups against the
// Google Maps web APIs and renders static route previews.
type GoogleClient struct {
	Key      string
	Base     string // overridable for tests
	Client   *http.Client
	MapsBase string // base for static map URLs, defaults to Base
}

func NewGoogleClient(key string) *GoogleClient {
	return &GoogleClient{Key: key, Base: googleMapsBase, Client: &http.Client{Timeout: 5 * time.Second}}
}

// Route queries the Directions API and returns the overview polyline of the
// first (best) route.
func (g *GoogleClient) Route(ctx context.Context, origin, dest models.Coord) (Route, error) {
	q := url.Values{}
	q.Set("origin", fmt.Sprintf("%f,%f", origin.Lat, origin.Lon))
	q.Set("destination", fmt.Sprintf("%f,%f", dest.Lat, dest.Lon))
	q.Set("key", g.Key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.Base+"/directions/json?"+q.Encode(), nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return Route{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Route{}, fmt.Errorf("directions: status %d", resp.StatusCode)
	}
	var out struct {
		Routes []struct {
			OverviewPolyline struct {
				Points string `json:"points"`
			} `json:"overview_polyline"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, err
	}
	if len(out.Routes) == 0 {
		return Route{}, ErrNoRoute
	}
	return Route{Polyline: out.Routes[0].OverviewPolyline.Points}, nil
}

// ReverseGeocode resolves a coordinate pair to a trimmed address label.
func (g *GoogleClient) ReverseGeocode(ctx context.Context, c models.Coord) (string, error) {
	q := url.Values{}
	q.Set("latlng", fmt.Sprintf("%f,%f", c.Lat, c.Lon))
	q.Set("key", g.Key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.Base+"/geocode/json?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocode: status %d", resp.StatusCode)
	}
	var out struct {
		Results []struct {
			FormattedAddress string `json:"formatted_address"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Results) == 0 {
		return "", fmt.Errorf("geocode: no results")
	}
	return TrimLabel(out.Results[0].FormattedAddress), nil
}

// StaticMapURL renders the encoded polyline over a 600x600 map image.
func (g *GoogleClient) StaticMapURL(polyline string) string {
	base := g.MapsBase
	if base == "" {
		base = g.Base
	}
	return fmt.Sprintf("%s/staticmap?size=600x600&path=enc:%s&key=%s", base, url.QueryEscape(polyline), g.Key)
}
