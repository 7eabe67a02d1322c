package transport

import (
	"context"

	"github.com/example/ride-broker/internal/models"
)

// EventKind classifies one inbound chat event.
type EventKind int

const (
	EventCommand EventKind = iota
	EventText
	EventLocation
	EventEditedLocation
	EventCallback
	EventPreCheckout
	EventPayment
)

// Event is one typed inbound event from the chat transport. Every event
// carries the participant identifier; reply-to fields are set where the
// platform provides a reference to a prior message.
type Event struct {
	Kind       EventKind
	ChatID     int64
	SenderID   int64
	SenderName string
	MessageID  int

	// reply target, used to correlate invoice/accept actions back to a
	// broadcast message
	ReplyToMessageID int

	Command string
	Args    []string
	Text    string

	Location *models.Coord

	CallbackID   string
	CallbackData string

	PreCheckout *PreCheckout
	Payment     *Payment
}

// PreCheckout is the provider's validation callback before funds capture.
type PreCheckout struct {
	ID          string
	From        int64
	Currency    string
	AmountMinor int64
	Payload     string
	Phone       string
}

// Payment is the provider's confirmation that funds were captured.
type Payment struct {
	From        int64
	Currency    string
	AmountMinor int64
	Payload     string
	Phone       string
}

// Handler processes one inbound event. Errors are logged by the adapter
// and the event dropped; the loop keeps serving other sessions.
type Handler func(context.Context, Event) error

// InvoiceParams describes one invoice sent to a rider.
type InvoiceParams struct {
	Title           string
	Description     string
	Payload         string
	ProviderToken   string
	Currency        string
	PriceLabel      string
	AmountMinor     int64
	NeedPhoneNumber bool
}

// Messenger is the outbound side of the chat transport.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
	// SendRequestLine delivers a broadcast line that bikers answer by
	// replying to it; placeholder seeds the reply input field.
	SendRequestLine(ctx context.Context, chatID int64, text, placeholder string) (int, error)
	// SendRequestPreview delivers the route preview image with an accept
	// button attached; the returned message id correlates button presses
	// back to the request.
	SendRequestPreview(ctx context.Context, chatID int64, photoURL string) (int, error)
	SendInvoice(ctx context.Context, chatID int64, inv InvoiceParams) error
	SendLiveLocation(ctx context.Context, chatID int64, loc models.Coord, livePeriodSeconds int) (int, error)
	EditLiveLocation(ctx context.Context, chatID int64, messageID int, loc models.Coord) error
	AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}
