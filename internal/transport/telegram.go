package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/example/ride-broker/internal/models"
)

// Telegram bridges Telegram updates into broker events and implements the
// outbound Messenger over the same bot connection.
type Telegram struct {
	bot *telego.Bot
	log *slog.Logger
}

func NewTelegram(token string, log *slog.Logger) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("bot token is required")
	}
	if log == nil {
		log = slog.Default()
	}
	bot, err := telego.NewBot(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}
	return &Telegram{bot: bot, log: log}, nil
}

// Run starts long polling and forwards mapped events to the handler.
// A handler error drops that event; the loop keeps running.
func (t *Telegram) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	updates, err := t.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	t.log.Info("telegram transport started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}
			ev, ok := mapUpdate(update)
			if !ok {
				continue
			}
			if err := handler(ctx, ev); err != nil {
				t.log.Error("event handling failed", "kind", ev.Kind, "sender_id", ev.SenderID, "error", err)
			}
		}
	}
}

func mapUpdate(u telego.Update) (Event, bool) {
	if q := u.PreCheckoutQuery; q != nil {
		ev := Event{
			Kind:     EventPreCheckout,
			SenderID: q.From.ID,
			PreCheckout: &PreCheckout{
				ID:          q.ID,
				From:        q.From.ID,
				Currency:    q.Currency,
				AmountMinor: int64(q.TotalAmount),
				Payload:     q.InvoicePayload,
			},
		}
		if q.OrderInfo != nil {
			ev.PreCheckout.Phone = q.OrderInfo.PhoneNumber
		}
		return ev, true
	}

	if cb := u.CallbackQuery; cb != nil {
		ev := Event{
			Kind:         EventCallback,
			SenderID:     cb.From.ID,
			SenderName:   cb.From.FirstName,
			CallbackID:   cb.ID,
			CallbackData: cb.Data,
		}
		if msg := cb.Message; msg != nil {
			ev.ChatID = msg.GetChat().ID
			ev.MessageID = msg.GetMessageID()
		}
		return ev, true
	}

	if m := u.EditedMessage; m != nil && m.Location != nil && m.From != nil {
		return Event{
			Kind:       EventEditedLocation,
			ChatID:     m.Chat.ID,
			SenderID:   m.From.ID,
			SenderName: m.From.FirstName,
			MessageID:  m.MessageID,
			Location:   &models.Coord{Lat: m.Location.Latitude, Lon: m.Location.Longitude},
		}, true
	}

	m := u.Message
	if m == nil || m.From == nil {
		return Event{}, false
	}

	ev := Event{
		ChatID:     m.Chat.ID,
		SenderID:   m.From.ID,
		SenderName: m.From.FirstName,
		MessageID:  m.MessageID,
	}
	if m.ReplyToMessage != nil {
		ev.ReplyToMessageID = m.ReplyToMessage.MessageID
	}

	switch {
	case m.SuccessfulPayment != nil:
		sp := m.SuccessfulPayment
		ev.Kind = EventPayment
		ev.Payment = &Payment{
			From:        m.From.ID,
			Currency:    sp.Currency,
			AmountMinor: int64(sp.TotalAmount),
			Payload:     sp.InvoicePayload,
		}
		if sp.OrderInfo != nil {
			ev.Payment.Phone = sp.OrderInfo.PhoneNumber
		}
		return ev, true
	case m.Location != nil:
		ev.Kind = EventLocation
		ev.Location = &models.Coord{Lat: m.Location.Latitude, Lon: m.Location.Longitude}
		return ev, true
	case strings.HasPrefix(m.Text, "/"):
		fields := strings.Fields(m.Text)
		ev.Kind = EventCommand
		ev.Command = normalizeCommand(fields[0])
		ev.Args = fields[1:]
		return ev, true
	case strings.TrimSpace(m.Text) != "":
		ev.Kind = EventText
		ev.Text = strings.TrimSpace(m.Text)
		return ev, true
	}
	return Event{}, false
}

// normalizeCommand strips the leading slash and any @botname suffix.
func normalizeCommand(raw string) string {
	cmd := strings.TrimPrefix(raw, "/")
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}

func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string) (int, error) {
	msg, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (t *Telegram) SendRequestLine(ctx context.Context, chatID int64, text, placeholder string) (int, error) {
	params := tu.Message(tu.ID(chatID), text).
		WithReplyMarkup(&telego.ForceReply{ForceReply: true, Selective: true, InputFieldPlaceholder: placeholder})
	msg, err := t.bot.SendMessage(ctx, params)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (t *Telegram) SendRequestPreview(ctx context.Context, chatID int64, photoURL string) (int, error) {
	params := tu.Photo(tu.ID(chatID), tu.FileFromURL(photoURL)).
		WithReplyMarkup(tu.InlineKeyboard(
			tu.InlineKeyboardRow(tu.InlineKeyboardButton("Accept").WithCallbackData("accept")),
		))
	msg, err := t.bot.SendPhoto(ctx, params)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (t *Telegram) SendInvoice(ctx context.Context, chatID int64, inv InvoiceParams) error {
	params := &telego.SendInvoiceParams{
		ChatID:        tu.ID(chatID),
		Title:         inv.Title,
		Description:   inv.Description,
		Payload:       inv.Payload,
		ProviderToken: inv.ProviderToken,
		Currency:      inv.Currency,
		Prices: []telego.LabeledPrice{
			{Label: inv.PriceLabel, Amount: int(inv.AmountMinor)},
		},
		StartParameter:            "start_parameter",
		NeedPhoneNumber:           inv.NeedPhoneNumber,
		SendPhoneNumberToProvider: inv.NeedPhoneNumber,
	}
	_, err := t.bot.SendInvoice(ctx, params)
	return err
}

func (t *Telegram) SendLiveLocation(ctx context.Context, chatID int64, loc models.Coord, livePeriodSeconds int) (int, error) {
	params := &telego.SendLocationParams{
		ChatID:             tu.ID(chatID),
		Latitude:           loc.Lat,
		Longitude:          loc.Lon,
		LivePeriod:         livePeriodSeconds,
		HorizontalAccuracy: 0,
	}
	msg, err := t.bot.SendLocation(ctx, params)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (t *Telegram) EditLiveLocation(ctx context.Context, chatID int64, messageID int, loc models.Coord) error {
	params := &telego.EditMessageLiveLocationParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
		Latitude:  loc.Lat,
		Longitude: loc.Lon,
	}
	_, err := t.bot.EditMessageLiveLocation(ctx, params)
	return err
}

func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := &telego.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	}
	return t.bot.AnswerCallbackQuery(ctx, params)
}

func (t *Telegram) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	params := &telego.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: queryID,
		Ok:                 ok,
		ErrorMessage:       errorMessage,
	}
	return t.bot.AnswerPreCheckoutQuery(ctx, params)
}
