package transport

import (
	"testing"

	"github.com/mymmrac/telego"
)

func textUpdate(from int64, text string) telego.Update {
	return telego.Update{
		Message: &telego.Message{
			MessageID: 10,
			Chat:      telego.Chat{ID: from},
			From:      &telego.User{ID: from, FirstName: "Jonas"},
			Text:      text,
		},
	}
}

func TestMapUpdateCommand(t *testing.T) {
	ev, ok := mapUpdate(textUpdate(100, "/invoice 700 5"))
	if !ok {
		t.Fatal("update dropped")
	}
	if ev.Kind != EventCommand || ev.Command != "invoice" {
		t.Fatalf("event = %+v", ev)
	}
	if len(ev.Args) != 2 || ev.Args[0] != "700" || ev.Args[1] != "5" {
		t.Fatalf("args = %v", ev.Args)
	}
	if ev.SenderID != 100 || ev.SenderName != "Jonas" {
		t.Fatalf("sender = %d %q", ev.SenderID, ev.SenderName)
	}
}

func TestMapUpdateCommandWithBotSuffix(t *testing.T) {
	ev, ok := mapUpdate(textUpdate(100, "/Start@ride_broker_bot"))
	if !ok || ev.Kind != EventCommand || ev.Command != "start" {
		t.Fatalf("event = %+v, ok=%v", ev, ok)
	}
}

func TestMapUpdateTextAndReply(t *testing.T) {
	u := textUpdate(200, "  accept  ")
	u.Message.ReplyToMessage = &telego.Message{MessageID: 42}
	ev, ok := mapUpdate(u)
	if !ok || ev.Kind != EventText {
		t.Fatalf("event = %+v, ok=%v", ev, ok)
	}
	if ev.Text != "accept" || ev.ReplyToMessageID != 42 {
		t.Fatalf("text=%q reply=%d", ev.Text, ev.ReplyToMessageID)
	}
}

func TestMapUpdateLocation(t *testing.T) {
	u := textUpdate(200, "")
	u.Message.Location = &telego.Location{Latitude: 54.6872, Longitude: 25.2797}
	ev, ok := mapUpdate(u)
	if !ok || ev.Kind != EventLocation {
		t.Fatalf("event = %+v, ok=%v", ev, ok)
	}
	if ev.Location == nil || ev.Location.Lat != 54.6872 || ev.Location.Lon != 25.2797 {
		t.Fatalf("location = %+v", ev.Location)
	}
}

func TestMapUpdateEditedLocation(t *testing.T) {
	u := telego.Update{
		EditedMessage: &telego.Message{
			MessageID: 11,
			Chat:      telego.Chat{ID: 200},
			From:      &telego.User{ID: 200},
			Location:  &telego.Location{Latitude: 54.70, Longitude: 25.29},
		},
	}
	ev, ok := mapUpdate(u)
	if !ok || ev.Kind != EventEditedLocation {
		t.Fatalf("event = %+v, ok=%v", ev, ok)
	}
}

func TestMapUpdateCallback(t *testing.T) {
	u := telego.Update{
		CallbackQuery: &telego.CallbackQuery{
			ID:   "cb1",
			From: telego.User{ID: 200, FirstName: "Ona"},
			Data: "accept",
			Message: &telego.Message{
				MessageID: 55,
				Chat:      telego.Chat{ID: 200},
			},
		},
	}
	ev, ok := mapUpdate(u)
	if !ok || ev.Kind != EventCallback {
		t.Fatalf("event = %+v, ok=%v", ev, ok)
	}
	if ev.CallbackID != "cb1" || ev.CallbackData != "accept" {
		t.Fatalf("callback = %q %q", ev.CallbackID, ev.CallbackData)
	}
	if ev.ChatID != 200 || ev.MessageID != 55 {
		t.Fatalf("target = chat %d msg %d", ev.ChatID, ev.MessageID)
	}
}

func TestMapUpdatePreCheckout(t *testing.T) {
	u := telego.Update{
		PreCheckoutQuery: &telego.PreCheckoutQuery{
			ID:             "q1",
			From:           telego.User{ID: 100},
			Currency:       "EUR",
			TotalAmount:    700,
			InvoicePayload: "Ride",
		},
	}
	ev, ok := mapUpdate(u)
	if !ok || ev.Kind != EventPreCheckout {
		t.Fatalf("event = %+v, ok=%v", ev, ok)
	}
	q := ev.PreCheckout
	if q == nil || q.ID != "q1" || q.Payload != "Ride" || q.AmountMinor != 700 {
		t.Fatalf("pre-checkout = %+v", q)
	}
}

func TestMapUpdateSuccessfulPayment(t *testing.T) {
	u := textUpdate(100, "")
	u.Message.SuccessfulPayment = &telego.SuccessfulPayment{
		Currency:       "EUR",
		TotalAmount:    700,
		InvoicePayload: "Ride",
		OrderInfo:      &telego.OrderInfo{PhoneNumber: "+37060000000"},
	}
	ev, ok := mapUpdate(u)
	if !ok || ev.Kind != EventPayment {
		t.Fatalf("event = %+v, ok=%v", ev, ok)
	}
	p := ev.Payment
	if p == nil || p.AmountMinor != 700 || p.Phone != "+37060000000" {
		t.Fatalf("payment = %+v", p)
	}
}

func TestMapUpdateDropsEmpty(t *testing.T) {
	if _, ok := mapUpdate(textUpdate(100, "   ")); ok {
		t.Fatal("blank message not dropped")
	}
	if _, ok := mapUpdate(telego.Update{}); ok {
		t.Fatal("empty update not dropped")
	}
}

func TestNormalizeCommand(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/start", "start"},
		{"/START", "start"},
		{"/invoice@some_bot", "invoice"},
	}
	for _, c := range cases {
		if got := normalizeCommand(c.in); got != c.want {
			t.Fatalf("normalizeCommand(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
