package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/ride-broker/internal/broadcast"
	"github.com/example/ride-broker/internal/feed"
	"github.com/example/ride-broker/internal/match"
	"github.com/example/ride-broker/internal/models"
	"github.com/example/ride-broker/internal/observability"
	"github.com/example/ride-broker/internal/payment"
	"github.com/example/ride-broker/internal/relay"
	"github.com/example/ride-broker/internal/session"
	"github.com/example/ride-broker/internal/transport"
)

const (
	promptPickup      = "Hit the paperclip and send your location to be picked up by a biker."
	promptDestination = "Thanks for sharing your pick-up location. Now, hit the paperclip again and choose where you want to go to."
	noticeBroadcast   = "Bikers have been notified of your request to ride. When a biker accepts your request, they will let you know the price and estimated time of arrival."
	noticeNoRoute     = "Sorry, I couldn't find a route for your trip. Please try again later."
	noticeNoCoverage  = "No bikers cover your area yet. Please try again later."
	noticeTaken       = "Too late, that ride request was already taken."
	noticeGone        = "That ride request is no longer available."
	invoiceUsage      = "When writing an /invoice command, you need to write the amount to charge and how quickly after payment you can pick the customer up. For example: \"/invoice 700 5\" sends an invoice for 7.00 EUR and lets your customer know you will arrive within 5 minutes after they make the payment. /invoice <price in cents> <time in minutes>"
	helpText          = "Send /start to request a ride or /join to become a biker. Contact support if you need any assistance."
)

func (s *Service) handleCommand(ctx context.Context, ev transport.Event) error {
	sess := s.Sessions.GetOrCreate(ev.SenderID, ev.ChatID)

	switch ev.Command {
	case "start":
		session.Advance(sess, session.Event{Kind: session.EventStart})
		_, err := s.Messenger.SendMessage(ctx, ev.ChatID, promptPickup)
		return err

	case "join":
		session.Advance(sess, session.Event{Kind: session.EventJoin})
		_, known, err := s.Directory.Get(ctx, ev.SenderID)
		if err != nil {
			return fmt.Errorf("directory read: %w", err)
		}
		text := fmt.Sprintf("Joined the biker gang %d. To start receiving orders, write the name of the city you currently ride in.", ev.SenderID)
		if known {
			text = fmt.Sprintf("Already in the biker gang %d. Write the name of the city you currently ride in.", ev.SenderID)
		}
		_, err = s.Messenger.SendMessage(ctx, ev.ChatID, text)
		return err

	case "help":
		_, err := s.Messenger.SendMessage(ctx, ev.ChatID, helpText)
		return err

	case "cancel":
		return s.handleCancel(ctx, sess, ev)

	case "invoice":
		return s.handleInvoice(ctx, sess, ev)
	}
	// unknown commands are ignored
	return nil
}

// handleCancel lets a rider abort a request any time before a match.
func (s *Service) handleCancel(ctx context.Context, sess *session.Session, ev transport.Event) error {
	requestID := sess.ActiveRequestID
	if requestID == "" {
		session.Reset(sess)
		_, err := s.Messenger.SendMessage(ctx, ev.ChatID, "Nothing to cancel. Send /start to request a ride.")
		return err
	}
	req, _ := s.Registry.Get(requestID)
	if err := s.Registry.Close(requestID); err != nil {
		// already matched or terminal; a matched trip is the biker's now
		_, err := s.Messenger.SendMessage(ctx, ev.ChatID, "Your request was already taken and can no longer be cancelled.")
		return err
	}
	s.persist(requestID)
	s.Relay.StopRequest(requestID)
	s.publish(feed.Event{Kind: feed.KindClosed, RequestID: requestID, RiderID: req.RiderID})
	for _, other := range s.Sessions.ByRequest(requestID) {
		session.Reset(other)
	}
	session.Reset(sess)
	_, err := s.Messenger.SendMessage(ctx, ev.ChatID, "Your ride request has been cancelled.")
	return err
}

// handleInvoice processes a biker's "/invoice <amount_minor> <eta_minutes>"
// reply to a broadcast. The first valid biker response wins the match.
func (s *Service) handleInvoice(ctx context.Context, sess *session.Session, ev transport.Event) error {
	if len(ev.Args) < 2 {
		_, err := s.Messenger.SendMessage(ctx, ev.ChatID, invoiceUsage)
		return err
	}
	amountMinor, err := strconv.ParseInt(ev.Args[0], 10, 64)
	etaMinutes, err2 := strconv.Atoi(ev.Args[1])
	if err != nil || err2 != nil || amountMinor <= 0 || etaMinutes <= 0 {
		_, err := s.Messenger.SendMessage(ctx, ev.ChatID, "Please provide a valid price")
		return err
	}
	if amountMinor < s.Gate.MinMinor {
		_, err := s.Messenger.SendMessage(ctx, ev.ChatID,
			fmt.Sprintf("The minimum invoice is %.2f %s.", float64(s.Gate.MinMinor)/100, s.Gate.Currency))
		return err
	}
	if ev.ReplyToMessageID == 0 {
		_, err := s.Messenger.SendMessage(ctx, ev.ChatID, "You need to reply to a ride request to send an invoice")
		return err
	}

	handle := models.BroadcastHandle{ChatID: ev.ChatID, MessageID: ev.ReplyToMessageID}
	requestID, ok := s.Registry.Resolve(handle)
	if !ok {
		_, err := s.Messenger.SendMessage(ctx, ev.ChatID, noticeGone)
		return err
	}

	if err := s.acceptRequest(ctx, sess, ev, requestID); err != nil {
		return err
	}

	if err := s.Gate.IssueInvoice(ctx, requestID, ev.SenderID, amountMinor, etaMinutes); err != nil {
		// the match must not survive a failed invoice: re-open the
		// request so this biker or another can respond again
		s.releaseMatch(requestID, ev.SenderID, sess)
		if errors.Is(err, payment.ErrInvalidAmount) {
			_, err := s.Messenger.SendMessage(ctx, ev.ChatID,
				fmt.Sprintf("The minimum invoice is %.2f %s.", float64(s.Gate.MinMinor)/100, s.Gate.Currency))
			return err
		}
		_, serr := s.Messenger.SendMessage(ctx, ev.ChatID, "Your invoice could not be delivered. Please reply to the request again.")
		if serr != nil {
			return serr
		}
		return err
	}
	s.persist(requestID)
	s.publish(feed.Event{Kind: feed.KindInvoice, RequestID: requestID, BikerID: ev.SenderID, AmountMinor: amountMinor})

	// the rider now waits for the provider's checkout
	if req, ok := s.Registry.Get(requestID); ok {
		if riderSess, found := s.Sessions.Get(req.RiderID); found {
			riderSess.State = session.StateAwaitingPayment
		}
	}
	return nil
}

// acceptRequest runs the single-winner admission for a biker response and
// notifies the parties. Returns nil only when this biker won the match.
func (s *Service) acceptRequest(ctx context.Context, sess *session.Session, ev transport.Event, requestID string) error {
	m, err := s.Registry.TryAccept(requestID, ev.SenderID)
	switch {
	case errors.Is(err, match.ErrAlreadyMatched):
		observability.MatchConflictsTotal.Inc()
		_, serr := s.Messenger.SendMessage(ctx, ev.ChatID, noticeTaken)
		if serr != nil {
			return serr
		}
		return err
	case errors.Is(err, match.ErrUnknownRequest):
		_, serr := s.Messenger.SendMessage(ctx, ev.ChatID, noticeGone)
		if serr != nil {
			return serr
		}
		return err
	case err != nil:
		return err
	}

	observability.MatchesTotal.Inc()
	sess.State = session.StateMatched
	sess.ActiveRequestID = requestID
	s.persist(requestID)

	req, _ := s.Registry.Get(requestID)
	if riderSess, found := s.Sessions.Get(req.RiderID); found {
		riderSess.State = session.StateMatched
	}
	s.publish(feed.Event{Kind: feed.KindMatched, RequestID: requestID, RiderID: req.RiderID, BikerID: m.BikerID})
	s.log().Info("request matched", "request_id", requestID, "biker_id", m.BikerID)
	return nil
}

// releaseMatch undoes a just-won admission after a follow-up step failed:
// the request goes back to OPEN, the biker back to registered and the
// rider back to waiting for responses. Broadcast handles are still bound,
// so any biker's reply can win the request again.
func (s *Service) releaseMatch(requestID string, bikerID int64, sess *session.Session) {
	if err := s.Registry.Release(requestID, bikerID); err != nil {
		return
	}
	sess.State = session.StateRegistered
	sess.ActiveRequestID = ""
	if req, ok := s.Registry.Get(requestID); ok {
		if riderSess, found := s.Sessions.Get(req.RiderID); found {
			riderSess.State = session.StateAwaitingResponse
		}
	}
	s.persist(requestID)
	s.log().Warn("match released after invoice failure", "request_id", requestID, "biker_id", bikerID)
}

func (s *Service) handleText(ctx context.Context, ev transport.Event) error {
	// a bare "accept" reply to a broadcast takes the ride without an invoice
	if ev.ReplyToMessageID != 0 && strings.EqualFold(strings.TrimSpace(ev.Text), "accept") {
		handle := models.BroadcastHandle{ChatID: ev.ChatID, MessageID: ev.ReplyToMessageID}
		if requestID, ok := s.Registry.Resolve(handle); ok {
			return s.acceptPlain(ctx, ev, requestID)
		}
	}

	sess := s.Sessions.GetOrCreate(ev.SenderID, ev.ChatID)
	switch session.Advance(sess, session.Event{Kind: session.EventText, Text: ev.Text}) {
	case session.ActionSaveCity:
		city := strings.TrimSpace(ev.Text)
		if err := s.Directory.Set(ctx, ev.SenderID, city); err != nil {
			return fmt.Errorf("directory write: %w", err)
		}
		_, err := s.Messenger.SendMessage(ctx, ev.ChatID,
			fmt.Sprintf("Your city has been saved. You will be notified when someone needs a ride in %s", city))
		return err

	case session.ActionAttachPrice:
		if sess.ActiveRequestID != "" {
			if err := s.Registry.AttachPrice(sess.ActiveRequestID, sess.ProposedPriceMinor); err == nil {
				s.persist(sess.ActiveRequestID)
			}
		}
		_, err := s.Messenger.SendMessage(ctx, ev.ChatID,
			fmt.Sprintf("Your price offer of %.2f EUR was noted.", float64(sess.ProposedPriceMinor)/100))
		return err

	case session.ActionRejectPrice:
		_, err := s.Messenger.SendMessage(ctx, ev.ChatID,
			"Please send your price offer as a positive whole number in cents, for example 500.")
		return err
	}
	return nil
}

// acceptPlain handles the accept-without-invoice path: the biker takes the
// ride and settles in person, so there is no payment step to gate on.
func (s *Service) acceptPlain(ctx context.Context, ev transport.Event, requestID string) error {
	sess := s.Sessions.GetOrCreate(ev.SenderID, ev.ChatID)
	if err := s.acceptRequest(ctx, sess, ev, requestID); err != nil {
		if errors.Is(err, match.ErrAlreadyMatched) || errors.Is(err, match.ErrUnknownRequest) {
			return nil
		}
		return err
	}
	req, _ := s.Registry.Get(requestID)
	if _, err := s.Messenger.SendMessage(ctx, ev.ChatID, "You took the ride. Share your live location so your rider can track you."); err != nil {
		return err
	}
	_, err := s.Messenger.SendMessage(ctx, req.RiderID, "A biker accepted your request and is getting ready. You will see their live location once they start riding.")
	return err
}

// handleCallback processes a press of the accept button attached to the
// route preview. The button press is always answered so the client stops
// its spinner, even when the request is gone.
func (s *Service) handleCallback(ctx context.Context, ev transport.Event) error {
	if ev.CallbackData != "accept" || ev.MessageID == 0 {
		return nil
	}
	handle := models.BroadcastHandle{ChatID: ev.ChatID, MessageID: ev.MessageID}
	requestID, ok := s.Registry.Resolve(handle)
	if !ok {
		return s.Messenger.AnswerCallback(ctx, ev.CallbackID, noticeGone)
	}
	if err := s.Messenger.AnswerCallback(ctx, ev.CallbackID, ""); err != nil {
		s.log().Warn("callback answer failed", "callback_id", ev.CallbackID, "error", err)
	}
	return s.acceptPlain(ctx, ev, requestID)
}

func (s *Service) handleLocation(ctx context.Context, ev transport.Event, kind session.EventKind) error {
	sess := s.Sessions.GetOrCreate(ev.SenderID, ev.ChatID)
	switch session.Advance(sess, session.Event{Kind: kind, Location: ev.Location}) {
	case session.ActionPromptDestination:
		_, err := s.Messenger.SendMessage(ctx, ev.ChatID, promptDestination)
		return err
	case session.ActionBeginBroadcast:
		return s.beginBroadcast(ctx, sess, ev)
	case session.ActionStartRelay:
		return s.startRelay(ctx, sess, ev)
	case session.ActionUpdateRelay:
		return s.updateRelay(ctx, sess, ev)
	}
	return nil
}

// beginBroadcast turns a completed pickup+destination capture into an open
// request and fans it out. Route or geocode failure discards the request
// and puts the rider back on the destination step.
func (s *Service) beginBroadcast(ctx context.Context, sess *session.Session, ev transport.Event) error {
	req := &models.RideRequest{
		ID:          newID(),
		RiderID:     ev.SenderID,
		RiderName:   ev.SenderName,
		Pickup:      *sess.Pickup,
		Destination: *sess.Destination,
		PriceMinor:  sess.ProposedPriceMinor,
	}

	if err := s.Broadcaster.Prepare(ctx, req); err != nil {
		s.log().Warn("broadcast preparation failed", "rider_id", ev.SenderID, "error", err)
		session.BroadcastFailed(sess)
		req.Status = models.StatusExpired
		if s.Store != nil {
			_ = s.Store.SaveRequest(req)
		}
		_, serr := s.Messenger.SendMessage(ctx, ev.ChatID, noticeNoRoute)
		return serr
	}

	s.Registry.Open(req)
	if s.Store != nil {
		if err := s.Store.SaveRequest(req); err != nil {
			s.log().Warn("ride store save failed", "request_id", req.ID, "error", err)
		}
	}
	s.publish(feed.Event{Kind: feed.KindOpened, RequestID: req.ID, RiderID: req.RiderID})

	if _, err := s.Messenger.SendMessage(ctx, ev.ChatID, noticeBroadcast); err != nil {
		s.log().Warn("broadcast notice failed", "rider_id", ev.SenderID, "error", err)
	}

	delivered, err := s.Broadcaster.Broadcast(ctx, req)
	if err != nil {
		if errors.Is(err, broadcast.ErrNoCoverage) {
			_ = s.Registry.Close(req.ID)
			s.persist(req.ID)
			session.Reset(sess)
			_, serr := s.Messenger.SendMessage(ctx, ev.ChatID, noticeNoCoverage)
			return serr
		}
		return err
	}

	session.BroadcastSucceeded(sess, req.ID)
	s.publish(feed.Event{Kind: feed.KindBroadcast, RequestID: req.ID, RiderID: req.RiderID})
	s.log().Info("request broadcast", "request_id", req.ID, "recipients", delivered)
	return nil
}

func (s *Service) startRelay(ctx context.Context, sess *session.Session, ev transport.Event) error {
	requestID := sess.ActiveRequestID
	req, ok := s.Registry.Get(requestID)
	if !ok {
		sess.State = session.StateMatched
		return nil
	}

	h, err := s.Relay.Start(ctx, requestID, ev.SenderID, req.RiderID, *ev.Location)
	if err != nil {
		sess.State = session.StateMatched
		if errors.Is(err, relay.ErrNotMatched) {
			return nil
		}
		return err
	}
	sess.State = session.StateEnRoute
	sess.LiveMessageID = h.MessageID
	s.publishPosition(ev.SenderID, *ev.Location)
	s.publish(feed.Event{Kind: feed.KindRelayUpdate, RequestID: requestID, BikerID: ev.SenderID, Loc: ev.Location})

	if _, err := s.Messenger.SendMessage(ctx, ev.ChatID, "Shared your live location. Now go get your rider!"); err != nil {
		s.log().Warn("relay ack failed", "biker_id", ev.SenderID, "error", err)
	}
	if _, err := s.Messenger.SendMessage(ctx, req.RiderID, "Your biker is on the way!"); err != nil {
		s.log().Warn("relay notice failed", "rider_id", req.RiderID, "error", err)
	}

	// accept-without-invoice rides settle in person: the trip is confirmed
	// the moment the biker heads out
	if req.Status == models.StatusMatched && req.PriceMinor == 0 {
		if err := s.Registry.Complete(requestID); err == nil {
			s.persist(requestID)
			s.publish(feed.Event{Kind: feed.KindCompleted, RequestID: requestID, RiderID: req.RiderID, BikerID: ev.SenderID})
		}
	}
	return nil
}

func (s *Service) updateRelay(ctx context.Context, sess *session.Session, ev transport.Event) error {
	h := relay.Handle{RequestID: sess.ActiveRequestID, BikerID: ev.SenderID}
	if err := s.Relay.Update(ctx, h, *ev.Location); err != nil {
		if errors.Is(err, relay.ErrNoRelay) || errors.Is(err, relay.ErrNotOwner) {
			return nil
		}
		return err
	}
	s.publishPosition(ev.SenderID, *ev.Location)
	s.publish(feed.Event{Kind: feed.KindRelayUpdate, RequestID: sess.ActiveRequestID, BikerID: ev.SenderID, Loc: ev.Location})
	return nil
}

func (s *Service) handlePreCheckout(ctx context.Context, ev transport.Event) error {
	q := ev.PreCheckout
	if q == nil {
		return nil
	}
	if err := s.Gate.ValidatePrecheckout(q.Payload); err != nil {
		s.log().Warn("pre-checkout rejected", "from", q.From, "payload", q.Payload)
		return s.Messenger.AnswerPreCheckout(ctx, q.ID, false, "Something went wrong...")
	}
	return s.Messenger.AnswerPreCheckout(ctx, q.ID, true, "")
}

func (s *Service) handlePayment(ctx context.Context, ev transport.Event) error {
	p := ev.Payment
	if p == nil {
		return nil
	}
	sess, ok := s.Sessions.Get(ev.SenderID)
	if !ok || sess.ActiveRequestID == "" {
		s.log().Warn("payment with no active request", "from", p.From)
		return nil
	}
	requestID := sess.ActiveRequestID
	req, _ := s.Registry.Get(requestID)
	m, _ := s.Registry.MatchFor(requestID)

	if err := s.Gate.OnPaymentConfirmed(ctx, requestID, p.AmountMinor, p.Phone); err != nil {
		return err
	}
	s.persist(requestID)
	s.publish(feed.Event{Kind: feed.KindPaid, RequestID: requestID, RiderID: req.RiderID, BikerID: m.BikerID, AmountMinor: p.AmountMinor})
	s.publish(feed.Event{Kind: feed.KindCompleted, RequestID: requestID, RiderID: req.RiderID, BikerID: m.BikerID})

	// the rider's trip is confirmed; the biker keeps sharing until arrival
	session.Reset(sess)
	return nil
}
