package payment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/ride-broker/internal/match"
	"github.com/example/ride-broker/internal/models"
	"github.com/example/ride-broker/internal/transport"
)

type fakeMessenger struct {
	nextMsgID int
	messages  map[int64][]string
	invoices  map[int64][]transport.InvoiceParams
	// failures remaining per chat before sends start succeeding
	failCount map[int64]int
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		messages:  make(map[int64][]string),
		invoices:  make(map[int64][]transport.InvoiceParams),
		failCount: make(map[int64]int),
	}
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string) (int, error) {
	if f.failCount[chatID] > 0 {
		f.failCount[chatID]--
		return 0, errors.New("send failed")
	}
	f.nextMsgID++
	f.messages[chatID] = append(f.messages[chatID], text)
	return f.nextMsgID, nil
}

func (f *fakeMessenger) SendRequestLine(_ context.Context, chatID int64, text, placeholder string) (int, error) {
	f.nextMsgID++
	return f.nextMsgID, nil
}

func (f *fakeMessenger) SendRequestPreview(_ context.Context, chatID int64, photoURL string) (int, error) {
	f.nextMsgID++
	return f.nextMsgID, nil
}

func (f *fakeMessenger) SendInvoice(_ context.Context, chatID int64, inv transport.InvoiceParams) error {
	f.invoices[chatID] = append(f.invoices[chatID], inv)
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

func matchedRequest(t *testing.T, reg *match.Registry, riderID, bikerID int64) {
	t.Helper()
	reg.Open(&models.RideRequest{ID: "req1", RiderID: riderID})
	if _, err := reg.TryAccept("req1", bikerID); err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func newGate(msg *fakeMessenger, reg *match.Registry) *Gate {
	return &Gate{
		Messenger:   msg,
		Registry:    reg,
		Currency:    "EUR",
		MinMinor:    100,
		NotifyDelay: time.Millisecond,
	}
}

func TestIssueInvoiceBelowFloor(t *testing.T) {
	msg := newFakeMessenger()
	reg := match.NewRegistry()
	matchedRequest(t, reg, 100, 200)
	g := newGate(msg, reg)

	if err := g.IssueInvoice(context.Background(), "req1", 200, 50, 5); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("got %v, want ErrInvalidAmount", err)
	}
	if len(msg.invoices[100]) != 0 {
		t.Fatal("invoice sent despite floor violation")
	}
}

func TestIssueInvoiceRequiresMatchedBiker(t *testing.T) {
	msg := newFakeMessenger()
	reg := match.NewRegistry()
	matchedRequest(t, reg, 100, 200)
	g := newGate(msg, reg)

	if err := g.IssueInvoice(context.Background(), "req1", 999, 700, 5); !errors.Is(err, ErrNotMatched) {
		t.Fatalf("got %v, want ErrNotMatched", err)
	}
}

func TestIssueInvoiceSendsToRider(t *testing.T) {
	msg := newFakeMessenger()
	reg := match.NewRegistry()
	matchedRequest(t, reg, 100, 200)
	g := newGate(msg, reg)

	if err := g.IssueInvoice(context.Background(), "req1", 200, 700, 5); err != nil {
		t.Fatalf("issue: %v", err)
	}
	invs := msg.invoices[100]
	if len(invs) != 1 {
		t.Fatalf("rider invoices = %d, want 1", len(invs))
	}
	inv := invs[0]
	if inv.Payload != PayloadToken || inv.AmountMinor != 700 || inv.Currency != "EUR" {
		t.Fatalf("invoice = %+v", inv)
	}
	if !inv.NeedPhoneNumber {
		t.Fatal("invoice must request the payer phone")
	}
	if !strings.Contains(inv.Description, "5min") {
		t.Fatalf("description = %q", inv.Description)
	}
	req, _ := reg.Get("req1")
	if req.PriceMinor != 700 {
		t.Fatalf("price not attached: %d", req.PriceMinor)
	}
	if len(msg.messages[200]) != 1 {
		t.Fatal("biker acknowledgment missing")
	}
}

func TestValidatePrecheckoutPayloadOnly(t *testing.T) {
	g := newGate(newFakeMessenger(), match.NewRegistry())

	if err := g.ValidatePrecheckout(PayloadToken); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	if err := g.ValidatePrecheckout("Pica"); !errors.Is(err, ErrPayloadMismatch) {
		t.Fatalf("got %v, want ErrPayloadMismatch", err)
	}
	if err := g.ValidatePrecheckout(""); !errors.Is(err, ErrPayloadMismatch) {
		t.Fatalf("got %v, want ErrPayloadMismatch", err)
	}
}

func TestOnPaymentConfirmedNotifiesBothParties(t *testing.T) {
	msg := newFakeMessenger()
	reg := match.NewRegistry()
	matchedRequest(t, reg, 100, 200)
	g := newGate(msg, reg)

	if err := g.OnPaymentConfirmed(context.Background(), "req1", 700, "+37060000000"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	req, _ := reg.Get("req1")
	if req.Status != models.StatusCompleted || req.PaidMinor != 700 {
		t.Fatalf("request after payment: %+v", req)
	}
	if len(msg.messages[100]) == 0 || !strings.Contains(msg.messages[100][0], "Thank you for your payment") {
		t.Fatalf("rider messages = %v", msg.messages[100])
	}
	bikerMsgs := msg.messages[200]
	if len(bikerMsgs) == 0 {
		t.Fatal("biker not notified")
	}
	last := bikerMsgs[len(bikerMsgs)-1]
	if !strings.Contains(last, "7.00 EUR") || !strings.Contains(last, "+37060000000") {
		t.Fatalf("biker message = %q", last)
	}
}

func TestOnPaymentConfirmedRetriesNotifications(t *testing.T) {
	msg := newFakeMessenger()
	reg := match.NewRegistry()
	matchedRequest(t, reg, 100, 200)
	g := newGate(msg, reg)
	g.NotifyAttempts = 3
	msg.failCount[100] = 2 // rider reachable on the third attempt

	if err := g.OnPaymentConfirmed(context.Background(), "req1", 700, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(msg.messages[100]) != 1 {
		t.Fatalf("rider messages = %v", msg.messages[100])
	}
}

func TestNotificationExhaustionNeverFailsPayment(t *testing.T) {
	msg := newFakeMessenger()
	reg := match.NewRegistry()
	matchedRequest(t, reg, 100, 200)
	g := newGate(msg, reg)
	g.NotifyAttempts = 2
	msg.failCount[100] = 10
	msg.failCount[200] = 10

	if err := g.OnPaymentConfirmed(context.Background(), "req1", 700, ""); err != nil {
		t.Fatalf("payment failed on notification trouble: %v", err)
	}
	req, _ := reg.Get("req1")
	if req.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", req.Status)
	}
}

func TestOnPaymentConfirmedUnmatchedRequest(t *testing.T) {
	reg := match.NewRegistry()
	reg.Open(&models.RideRequest{ID: "req1", RiderID: 100})
	g := newGate(newFakeMessenger(), reg)

	if err := g.OnPaymentConfirmed(context.Background(), "req1", 700, ""); err == nil {
		t.Fatal("expected error for unmatched request")
	}
}
