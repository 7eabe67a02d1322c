package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-broker/internal/models"
	"github.com/example/ride-broker/internal/observability"
	"github.com/example/ride-broker/internal/transport"
)

var (
	// ErrInvalidAmount rejects invoices below the configured floor.
	ErrInvalidAmount = errors.New("invoice amount below minimum")
	// ErrNotMatched rejects invoices for unmatched requests or from a
	// biker other than the admitted match.
	ErrNotMatched = errors.New("caller is not the matched biker")
	// ErrPayloadMismatch rejects pre-checkouts carrying a foreign payload.
	ErrPayloadMismatch = errors.New("pre-checkout payload mismatch")
)

// PayloadToken is the fixed token stamped on every invoice; pre-checkout
// payloads must match it exactly.
const PayloadToken = "Ride"

const invoiceTitle = "Permission To Ride"

// Requests is the slice of the match registry the gate needs.
type Requests interface {
	Get(requestID string) (models.RideRequest, bool)
	MatchFor(requestID string) (models.Match, bool)
	AttachPrice(requestID string, priceMinor int64) error
	MarkPaid(requestID string, amountMinor int64) error
	Complete(requestID string) error
}

// Gate issues invoices for matched requests, validates pre-checkouts and
// closes requests on confirmed payment.
type Gate struct {
	Messenger     transport.Messenger
	Registry      Requests
	Settlement    *Settlement // optional direct provider settlement
	ProviderToken string
	Currency      string
	MinMinor      int64

	NotifyAttempts int
	NotifyDelay    time.Duration

	Log *slog.Logger
}

// IssueInvoice sends the rider an invoice for a matched request. The
// amount is in minor currency units; etaMinutes is the biker's promised
// pickup window after payment.
func (g *Gate) IssueInvoice(ctx context.Context, requestID string, bikerID int64, amountMinor int64, etaMinutes int) error {
	if amountMinor < g.MinMinor {
		return fmt.Errorf("%w: %d < %d", ErrInvalidAmount, amountMinor, g.MinMinor)
	}
	m, ok := g.Registry.MatchFor(requestID)
	if !ok || m.BikerID != bikerID {
		return ErrNotMatched
	}
	req, ok := g.Registry.Get(requestID)
	if !ok {
		return ErrNotMatched
	}
	if err := g.Registry.AttachPrice(requestID, amountMinor); err != nil {
		return err
	}

	inv := transport.InvoiceParams{
		Title:           invoiceTitle,
		Description:     fmt.Sprintf("Pick-up within %dmin after payment.", etaMinutes),
		Payload:         PayloadToken,
		ProviderToken:   g.ProviderToken,
		Currency:        g.Currency,
		PriceLabel:      invoiceTitle,
		AmountMinor:     amountMinor,
		NeedPhoneNumber: true,
	}
	if err := g.Messenger.SendInvoice(ctx, req.RiderID, inv); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	observability.InvoicesTotal.Inc()

	ack := fmt.Sprintf("Invoice sent for %.2f %s. You will be notified as soon as they pay, after which you will have %d minutes to pick them up.",
		float64(amountMinor)/100, g.Currency, etaMinutes)
	if _, err := g.Messenger.SendMessage(ctx, bikerID, ack); err != nil {
		g.log().Warn("invoice acknowledgment failed", "biker_id", bikerID, "error", err)
	}
	return nil
}

// ValidatePrecheckout accepts or rejects a pre-checkout purely on the
// payload token. Notification trouble later must never reach back here:
// the provider-side charge is decided by this answer alone.
func (g *Gate) ValidatePrecheckout(payload string) error {
	if payload != PayloadToken {
		return ErrPayloadMismatch
	}
	return nil
}

// OnPaymentConfirmed transitions the request to PAID, notifies both
// parties and completes the request. Notifications are retried; a final
// notification failure is logged but never undoes a confirmed payment.
func (g *Gate) OnPaymentConfirmed(ctx context.Context, requestID string, amountMinor int64, payerPhone string) error {
	if err := g.Registry.MarkPaid(requestID, amountMinor); err != nil {
		return err
	}
	observability.PaymentsTotal.Inc()

	req, _ := g.Registry.Get(requestID)
	m, ok := g.Registry.MatchFor(requestID)
	if !ok {
		return ErrNotMatched
	}

	g.notifyWithRetry(ctx, req.RiderID, "Thank you for your payment. A biker is now coming to pick you up.")

	bikerMsg := fmt.Sprintf("Good news! The payment of %.2f %s went through. Go get your rider!",
		float64(amountMinor)/100, g.Currency)
	if payerPhone != "" {
		bikerMsg += fmt.Sprintf(" You can reach them at %s.", payerPhone)
	}
	g.notifyWithRetry(ctx, m.BikerID, bikerMsg)

	if g.Settlement != nil {
		if err := g.Settlement.Record(ctx, requestID, amountMinor, g.Currency); err != nil {
			g.log().Warn("settlement record failed", "request_id", requestID, "error", err)
		}
	}

	return g.Registry.Complete(requestID)
}

func (g *Gate) notifyWithRetry(ctx context.Context, chatID int64, text string) {
	attempts := g.NotifyAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := g.NotifyDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	var err error
	for i := 0; i < attempts; i++ {
		if _, err = g.Messenger.SendMessage(ctx, chatID, text); err == nil {
			return
		}
		time.Sleep(delay)
		delay *= 2
	}
	g.log().Error("post-payment notification failed", "chat_id", chatID, "error", err)
}

func (g *Gate) log() *slog.Logger {
	if g.Log != nil {
		return g.Log
	}
	return slog.Default()
}
