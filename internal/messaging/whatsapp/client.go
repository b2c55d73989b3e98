package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/suPer8Hu/ai-salesbot/internal/messaging"
)

var errDestroyed = errors.New("whatsapp: client destroyed")

// Client is one whatsmeow connection bound to a session.
type Client struct {
	p         *Provider
	sessionID string
	sink      messaging.Sink
	log       *zap.Logger

	// pushMu serialises pushes from the event handler and the QR goroutine.
	pushMu sync.Mutex

	mu        sync.Mutex
	wa        *whatsmeow.Client
	handlerID uint32
	cancelQR  context.CancelFunc
	authSent  bool
	destroyed bool
	// up is signalled once the bring-up attempt produced a pairing code or
	// a connection.
	up chan struct{}
	// failed carries a terminal bring-up error.
	failed chan error
}

func newClient(p *Provider, sessionID string, sink messaging.Sink) *Client {
	return &Client{
		p:         p,
		sessionID: sessionID,
		sink:      sink,
		log:       p.log.With(zap.String("session_id", sessionID)),
	}
}

func (c *Client) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.p.initTimeout)
	defer cancel()

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return errDestroyed
	}
	// a previous failed attempt may have left a connection behind
	c.teardownLocked()
	c.up = make(chan struct{})
	c.failed = make(chan error, 1)
	up, failed := c.up, c.failed
	c.mu.Unlock()

	device, err := c.loadDevice(ctx)
	if err != nil {
		return err
	}

	wa := whatsmeow.NewClient(device, newLogger(c.log.Named("wa")))
	c.mu.Lock()
	c.wa = wa
	c.handlerID = wa.AddEventHandler(c.handle)
	c.mu.Unlock()

	if wa.Store.ID == nil {
		qrCtx, qrCancel := context.WithCancel(context.Background())
		ch, err := wa.GetQRChannel(qrCtx)
		if err != nil {
			qrCancel()
			c.teardown()
			return fmt.Errorf("qr channel: %w", err)
		}
		c.mu.Lock()
		c.cancelQR = qrCancel
		c.mu.Unlock()
		go c.forwardQR(ch)
	}

	if err := wa.Connect(); err != nil {
		c.teardown()
		return fmt.Errorf("connect: %w", err)
	}

	select {
	case <-up:
		return nil
	case err := <-failed:
		c.teardown()
		return err
	case <-ctx.Done():
		c.teardown()
		return fmt.Errorf("whatsapp bring-up: %w", ctx.Err())
	}
}

func (c *Client) loadDevice(ctx context.Context) (*store.Device, error) {
	raw, err := c.p.devices.DeviceJID(ctx, c.sessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup device: %w", err)
	}
	if raw == "" {
		return c.p.container.NewDevice(), nil
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		c.log.Warn("stored device jid is invalid, pairing again", zap.String("jid", raw), zap.Error(err))
		return c.p.container.NewDevice(), nil
	}
	device, err := c.p.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if device == nil {
		c.log.Info("device credentials gone, pairing again", zap.String("jid", raw))
		return c.p.container.NewDevice(), nil
	}
	return device, nil
}

func (c *Client) SendReply(ctx context.Context, original messaging.InboundMessage, text string) error {
	c.mu.Lock()
	wa := c.wa
	c.mu.Unlock()
	if wa == nil {
		return errDestroyed
	}
	to, err := types.ParseJID(original.ChatID)
	if err != nil {
		return fmt.Errorf("reply target %q: %w", original.ChatID, err)
	}
	_, err = wa.SendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

func (c *Client) Destroy(context.Context) error {
	c.mu.Lock()
	c.destroyed = true
	c.teardownLocked()
	c.mu.Unlock()
	return nil
}

func (c *Client) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *Client) teardownLocked() {
	if c.cancelQR != nil {
		c.cancelQR()
		c.cancelQR = nil
	}
	if c.wa != nil {
		c.wa.RemoveEventHandler(c.handlerID)
		c.wa.Disconnect()
		c.wa = nil
	}
}

func (c *Client) push(ev messaging.Event) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	c.sink.Push(ev)
}

// signalUp marks the bring-up attempt as successful.
func (c *Client) signalUp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.up == nil {
		return
	}
	select {
	case <-c.up:
	default:
		close(c.up)
	}
}

func (c *Client) signalFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed == nil {
		return
	}
	select {
	case c.failed <- err:
	default:
	}
}

func (c *Client) forwardQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.push(messaging.Event{Kind: messaging.EventPairingCode, PairingCode: item.Code})
			c.signalUp()
		case whatsmeow.QRChannelSuccess.Event:
			// PairSuccess reaches the event handler
		case whatsmeow.QRChannelTimeout.Event:
			c.signalFailed(errors.New("pairing code expired"))
			c.push(messaging.Event{Kind: messaging.EventAuthFailure, Reason: "pairing code expired"})
		default:
			reason := "pairing failed: " + item.Event
			if item.Error != nil {
				reason += ": " + item.Error.Error()
			}
			c.signalFailed(errors.New(reason))
			c.push(messaging.Event{Kind: messaging.EventAuthFailure, Reason: reason})
		}
	}
}

func (c *Client) handle(evt any) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		c.log.Info("paired", zap.String("jid", e.ID.String()))
		if err := c.p.devices.SaveDeviceJID(context.Background(), c.sessionID, e.ID.String()); err != nil {
			c.log.Error("save device jid failed", zap.Error(err))
		}
		c.pushAuthenticated()
	case *events.Connected:
		c.pushAuthenticated()
		c.push(messaging.Event{Kind: messaging.EventReady})
		c.signalUp()
	case *events.LoggedOut:
		reason := "logged out"
		if e.OnConnect {
			reason = "logged out on connect: " + e.Reason.String()
		}
		c.signalFailed(errors.New(reason))
		c.push(messaging.Event{Kind: messaging.EventAuthFailure, Reason: reason})
	case *events.TemporaryBan:
		c.signalFailed(errors.New(e.String()))
		c.push(messaging.Event{Kind: messaging.EventAuthFailure, Reason: e.String()})
	case *events.ConnectFailure:
		reason := fmt.Sprintf("connect failure: %s %s", e.Reason.String(), e.Message)
		c.signalFailed(errors.New(reason))
		c.push(messaging.Event{Kind: messaging.EventDisconnected, Reason: reason})
	case *events.StreamReplaced:
		c.push(messaging.Event{Kind: messaging.EventDisconnected, Reason: "stream replaced by another client"})
	case *events.Disconnected:
		// whatsmeow reconnects on its own
		c.log.Debug("websocket disconnected")
	case *events.Message:
		if msg := c.inbound(e); msg != nil {
			c.push(messaging.Event{Kind: messaging.EventMessage, Message: msg})
		}
	}
}

// pushAuthenticated sends the authenticated event once per client. A
// resumed device reports it on its first Connected.
func (c *Client) pushAuthenticated() {
	c.mu.Lock()
	if c.authSent {
		c.mu.Unlock()
		return
	}
	c.authSent = true
	c.mu.Unlock()
	c.push(messaging.Event{Kind: messaging.EventAuthenticated})
}

func (c *Client) inbound(e *events.Message) *messaging.InboundMessage {
	info := e.Info
	if info.IsFromMe || info.Chat.Server == types.BroadcastServer {
		return nil
	}
	msg := &messaging.InboundMessage{
		ID:         info.ID,
		ChatID:     info.Chat.String(),
		AccountRef: info.Sender.User,
		Timestamp:  info.Timestamp,
	}

	m := e.Message
	if m == nil {
		return nil
	}
	switch {
	case m.GetAudioMessage() != nil:
		a := m.GetAudioMessage()
		msg.HasMedia = true
		msg.Media = c.media(a, a.GetMimetype(), a.GetURL())
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		msg.Text = img.GetCaption()
		msg.HasMedia = true
		msg.Media = c.media(img, img.GetMimetype(), img.GetURL())
	case m.GetVideoMessage() != nil:
		v := m.GetVideoMessage()
		msg.HasMedia = true
		msg.Media = c.media(v, v.GetMimetype(), v.GetURL())
	case m.GetDocumentMessage() != nil:
		d := m.GetDocumentMessage()
		msg.HasMedia = true
		msg.Media = c.media(d, d.GetMimetype(), d.GetURL())
	case m.GetStickerMessage() != nil:
		s := m.GetStickerMessage()
		msg.HasMedia = true
		msg.Media = c.media(s, s.GetMimetype(), s.GetURL())
	default:
		msg.Text = textOf(m)
	}
	if !msg.HasMedia && strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	return msg
}

func (c *Client) media(dl whatsmeow.DownloadableMessage, mime, url string) *messaging.Media {
	return &messaging.Media{
		MimeType: mime,
		URL:      url,
		Fetch: func(ctx context.Context) ([]byte, error) {
			c.mu.Lock()
			wa := c.wa
			c.mu.Unlock()
			if wa == nil {
				return nil, errDestroyed
			}
			return wa.Download(ctx, dl)
		},
	}
}

func textOf(m *waE2E.Message) string {
	if t := m.GetConversation(); t != "" {
		return t
	}
	return m.GetExtendedTextMessage().GetText()
}
