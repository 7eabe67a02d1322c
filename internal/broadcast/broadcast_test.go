package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/example/ride-broker/internal/geo"
	"github.com/example/ride-broker/internal/match"
	"github.com/example/ride-broker/internal/models"
	"github.com/example/ride-broker/internal/transport"
)

type fakeDirectory struct {
	cities map[int64]string
	err    error
}

func (f *fakeDirectory) Get(_ context.Context, id int64) (string, bool, error) {
	c, ok := f.cities[id]
	return c, ok, nil
}

func (f *fakeDirectory) Set(_ context.Context, id int64, city string) error {
	f.cities[id] = city
	return nil
}

func (f *fakeDirectory) All(_ context.Context) (map[int64]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cities, nil
}

type fakeGeo struct {
	routeErr error
	labels   map[models.Coord]string
}

func (f *fakeGeo) Route(_ context.Context, origin, dest models.Coord) (geo.Route, error) {
	if f.routeErr != nil {
		return geo.Route{}, f.routeErr
	}
	return geo.Route{Polyline: "abc123"}, nil
}

func (f *fakeGeo) ReverseGeocode(_ context.Context, c models.Coord) (string, error) {
	label, ok := f.labels[c]
	if !ok {
		return "", errors.New("no label")
	}
	return label, nil
}

type fakeMessenger struct {
	nextMsgID int
	photos    map[int64]string
	lines     map[int64]string
	failFor   map[int64]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		nextMsgID: 100,
		photos:    make(map[int64]string),
		lines:     make(map[int64]string),
		failFor:   make(map[int64]bool),
	}
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string) (int, error) {
	f.nextMsgID++
	return f.nextMsgID, nil
}

func (f *fakeMessenger) SendRequestLine(_ context.Context, chatID int64, text, placeholder string) (int, error) {
	if f.failFor[chatID] {
		return 0, errors.New("delivery failed")
	}
	f.nextMsgID++
	f.lines[chatID] = text
	return f.nextMsgID, nil
}

func (f *fakeMessenger) SendRequestPreview(_ context.Context, chatID int64, photoURL string) (int, error) {
	f.nextMsgID++
	f.photos[chatID] = photoURL
	return f.nextMsgID, nil
}

func (f *fakeMessenger) SendInvoice(_ context.Context, chatID int64, inv transport.InvoiceParams) error {
	return nil
}

func (f *fakeMessenger) SendLiveLocation(_ context.Context, chatID int64, loc models.Coord, livePeriodSeconds int) (int, error) {
	f.nextMsgID++
	return f.nextMsgID, nil
}

func (f *fakeMessenger) EditLiveLocation(_ context.Context, chatID int64, messageID int, loc models.Coord) error {
	return nil
}

func (f *fakeMessenger) AnswerPreCheckout(_ context.Context, queryID string, ok bool, errorMessage string) error {
	return nil
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, callbackID, text string) error {
	return nil
}

var (
	pickup  = models.Coord{Lat: 54.6872, Lon: 25.2797}
	dropoff = models.Coord{Lat: 54.7104, Lon: 25.2914}
)

func newBroadcaster(dir *fakeDirectory, g *fakeGeo, msg *fakeMessenger, reg *match.Registry) *Broadcaster {
	return &Broadcaster{
		Directory:  dir,
		Geocoder:   g,
		Directions: g,
		PreviewURL: func(polyline string) string { return fmt.Sprintf("https://maps.test/%s", polyline) },
		Messenger:  msg,
		Registry:   reg,
	}
}

func newRequest() *models.RideRequest {
	return &models.RideRequest{
		ID:          "req1",
		RiderID:     100,
		RiderName:   "Jonas",
		Pickup:      pickup,
		Destination: dropoff,
	}
}

func TestBroadcastFiltersByCityAndExcludesRider(t *testing.T) {
	dir := &fakeDirectory{cities: map[int64]string{
		100: "Vilnius", // the requesting rider, also registered as biker
		200: "Vilnius",
		201: "Kaunas",
		202: "",
	}}
	g := &fakeGeo{labels: map[models.Coord]string{
		pickup:  "Gedimino pr. 9, Vilnius, Lithuania",
		dropoff: "Kalvariju g. 1, Vilnius, Lithuania",
	}}
	msg := newFakeMessenger()
	reg := match.NewRegistry()
	b := newBroadcaster(dir, g, msg, reg)

	req := newRequest()
	if err := b.Prepare(context.Background(), req); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if req.PickupLabel == "" || req.RoutePolyline != "abc123" {
		t.Fatalf("prepare did not fill request: %+v", req)
	}
	reg.Open(req)

	delivered, err := b.Broadcast(context.Background(), req)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	if _, ok := msg.lines[200]; !ok {
		t.Fatal("vilnius biker not reached")
	}
	if _, ok := msg.lines[201]; ok {
		t.Fatal("kaunas biker reached for vilnius pickup")
	}
	if _, ok := msg.lines[100]; ok {
		t.Fatal("rider received own request")
	}
	if !strings.Contains(msg.lines[200], "NEW RIDE REQUEST from Jonas!") {
		t.Fatalf("unexpected line: %q", msg.lines[200])
	}
	if msg.photos[200] != "https://maps.test/abc123" {
		t.Fatalf("preview = %q", msg.photos[200])
	}
}

func TestBroadcastBindsHandles(t *testing.T) {
	dir := &fakeDirectory{cities: map[int64]string{200: "Vilnius"}}
	g := &fakeGeo{labels: map[models.Coord]string{
		pickup:  "Vilnius, Lithuania",
		dropoff: "Vilnius, Lithuania",
	}}
	msg := newFakeMessenger()
	reg := match.NewRegistry()
	b := newBroadcaster(dir, g, msg, reg)

	req := newRequest()
	if err := b.Prepare(context.Background(), req); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	reg.Open(req)
	if _, err := b.Broadcast(context.Background(), req); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	// the delivered message id must resolve back to the request
	resolved := false
	for id := 101; id < 110; id++ {
		if got, ok := reg.Resolve(models.BroadcastHandle{ChatID: 200, MessageID: id}); ok && got == "req1" {
			resolved = true
		}
	}
	if !resolved {
		t.Fatal("no handle bound for delivered message")
	}
}

func TestBroadcastNoCoverage(t *testing.T) {
	dir := &fakeDirectory{cities: map[int64]string{201: "Kaunas"}}
	g := &fakeGeo{labels: map[models.Coord]string{
		pickup:  "Vilnius, Lithuania",
		dropoff: "Vilnius, Lithuania",
	}}
	msg := newFakeMessenger()
	b := newBroadcaster(dir, g, msg, match.NewRegistry())

	req := newRequest()
	if err := b.Prepare(context.Background(), req); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := b.Broadcast(context.Background(), req); !errors.Is(err, ErrNoCoverage) {
		t.Fatalf("got %v, want ErrNoCoverage", err)
	}
}

func TestBroadcastContinuesPastDeliveryFailures(t *testing.T) {
	dir := &fakeDirectory{cities: map[int64]string{200: "Vilnius", 201: "Vilnius"}}
	g := &fakeGeo{labels: map[models.Coord]string{
		pickup:  "Vilnius, Lithuania",
		dropoff: "Vilnius, Lithuania",
	}}
	msg := newFakeMessenger()
	msg.failFor[200] = true
	b := newBroadcaster(dir, g, msg, match.NewRegistry())

	req := newRequest()
	if err := b.Prepare(context.Background(), req); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	delivered, err := b.Broadcast(context.Background(), req)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
}

func TestPrepareRouteFailure(t *testing.T) {
	g := &fakeGeo{routeErr: geo.ErrNoRoute}
	b := newBroadcaster(&fakeDirectory{cities: map[int64]string{}}, g, newFakeMessenger(), match.NewRegistry())

	req := newRequest()
	if err := b.Prepare(context.Background(), req); !errors.Is(err, geo.ErrNoRoute) {
		t.Fatalf("got %v, want ErrNoRoute", err)
	}
}
