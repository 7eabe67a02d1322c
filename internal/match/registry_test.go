package match

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-broker/internal/models"
)

func openRequest(r *Registry, id string, riderID int64) *models.RideRequest {
	req := &models.RideRequest{ID: id, RiderID: riderID}
	r.Open(req)
	return req
}

func TestTryAcceptSingleWinner(t *testing.T) {
	r := NewRegistry()
	openRequest(r, "req1", 100)

	const bikers = 32
	var wg sync.WaitGroup
	results := make([]error, bikers)
	for i := 0; i < bikers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = r.TryAccept("req1", int64(200+i))
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyMatched):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != bikers-1 {
		t.Fatalf("wins=%d conflicts=%d, want 1 and %d", wins, conflicts, bikers-1)
	}

	req, _ := r.Get("req1")
	if req.Status != models.StatusMatched {
		t.Fatalf("status = %s, want matched", req.Status)
	}
	if _, ok := r.MatchFor("req1"); !ok {
		t.Fatal("no match recorded")
	}
}

func TestTryAcceptUnknownRequest(t *testing.T) {
	r := NewRegistry()
	if _, err := r.TryAccept("ghost", 200); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("got %v, want ErrUnknownRequest", err)
	}
}

func TestTryAcceptRejectsOwnRider(t *testing.T) {
	r := NewRegistry()
	openRequest(r, "req1", 100)
	if _, err := r.TryAccept("req1", 100); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("rider accepting own request: got %v", err)
	}
	req, _ := r.Get("req1")
	if req.Status != models.StatusOpen {
		t.Fatalf("request consumed by own rider: %s", req.Status)
	}
}

func TestTryAcceptTerminalRequest(t *testing.T) {
	r := NewRegistry()
	openRequest(r, "req1", 100)
	if err := r.Close("req1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := r.TryAccept("req1", 200); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("accept after close: got %v", err)
	}
}

func TestHandleBindingAndCleanup(t *testing.T) {
	r := NewRegistry()
	openRequest(r, "req1", 100)
	h1 := models.BroadcastHandle{ChatID: 200, MessageID: 10}
	h2 := models.BroadcastHandle{ChatID: 201, MessageID: 11}
	r.Bind(h1, "req1")
	r.Bind(h2, "req1")

	if id, ok := r.Resolve(h2); !ok || id != "req1" {
		t.Fatalf("resolve = %q, %v", id, ok)
	}

	if _, err := r.TryAccept("req1", 200); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := r.MarkPaid("req1", 700); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if err := r.Complete("req1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, ok := r.Resolve(h1); ok {
		t.Fatal("handle survived completion")
	}
	// the match survives so a live location relay can still start
	if _, ok := r.MatchFor("req1"); !ok {
		t.Fatal("match dropped on completion")
	}
}

func TestReleaseReopensMatchedRequest(t *testing.T) {
	r := NewRegistry()
	openRequest(r, "req1", 100)
	if _, err := r.TryAccept("req1", 200); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// only the holder may release
	if err := r.Release("req1", 999); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("foreign release: got %v", err)
	}
	if err := r.Release("req1", 200); err != nil {
		t.Fatalf("release: %v", err)
	}
	req, _ := r.Get("req1")
	if req.Status != models.StatusOpen {
		t.Fatalf("status after release = %s", req.Status)
	}
	if _, ok := r.MatchFor("req1"); ok {
		t.Fatal("match survived release")
	}

	// another biker can now win the reopened request
	if _, err := r.TryAccept("req1", 201); err != nil {
		t.Fatalf("accept after release: %v", err)
	}
	if err := r.Release("req1", 200); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("stale release: got %v", err)
	}
}

func TestReleaseRequiresMatchedStatus(t *testing.T) {
	r := NewRegistry()
	openRequest(r, "req1", 100)
	if err := r.Release("req1", 200); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("release open request: got %v", err)
	}
}

func TestPriceImmutableAfterPayment(t *testing.T) {
	r := NewRegistry()
	openRequest(r, "req1", 100)
	if err := r.AttachPrice("req1", 500); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := r.TryAccept("req1", 200); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := r.AttachPrice("req1", 700); err != nil {
		t.Fatalf("reprice before payment: %v", err)
	}
	if err := r.MarkPaid("req1", 700); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if err := r.AttachPrice("req1", 900); !errors.Is(err, ErrImmutablePrice) {
		t.Fatalf("reprice after payment: got %v", err)
	}
	req, _ := r.Get("req1")
	if req.PriceMinor != 700 || req.PaidMinor != 700 {
		t.Fatalf("price=%d paid=%d", req.PriceMinor, req.PaidMinor)
	}
}

func TestExpireStale(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	openRequest(r, "old", 100)

	r.now = func() time.Time { return base.Add(20 * time.Minute) }
	openRequest(r, "fresh", 101)
	h := models.BroadcastHandle{ChatID: 200, MessageID: 10}
	r.Bind(h, "old")

	expired := r.ExpireStale(15 * time.Minute)
	if len(expired) != 1 || expired[0].ID != "old" {
		t.Fatalf("expired = %+v", expired)
	}
	if req, _ := r.Get("old"); req.Status != models.StatusExpired {
		t.Fatalf("old status = %s", req.Status)
	}
	if req, _ := r.Get("fresh"); req.Status != models.StatusOpen {
		t.Fatalf("fresh status = %s", req.Status)
	}
	if _, ok := r.Resolve(h); ok {
		t.Fatal("handle survived expiry")
	}
	if _, err := r.TryAccept("old", 200); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("accept expired: got %v", err)
	}
}
