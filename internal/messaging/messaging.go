// Package messaging defines what the session core needs from an external
// chat-network client. Implementations push lifecycle events into a Sink
// owned by the session manager; the manager drains it sequentially.
package messaging

import (
	"context"
	"strings"
	"time"
)

type EventKind string

const (
	EventPairingCode   EventKind = "pairing-code"
	EventAuthenticated EventKind = "authenticated"
	EventReady         EventKind = "ready"
	EventAuthFailure   EventKind = "auth-failure"
	EventMessage       EventKind = "message"
	EventDisconnected  EventKind = "disconnected"
)

type Event struct {
	Kind EventKind
	// PairingCode is set for EventPairingCode.
	PairingCode string
	// Message is set for EventMessage.
	Message *InboundMessage
	// Reason is an optional human readable cause (auth-failure, disconnected).
	Reason string
}

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaImage MediaKind = "image"
	MediaOther MediaKind = "other"
)

// KindFromMIME classifies a mime type the way the pipeline dispatches it.
func KindFromMIME(mime string) MediaKind {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "audio"):
		return MediaAudio
	case strings.HasPrefix(mime, "image"):
		return MediaImage
	default:
		return MediaOther
	}
}

// Media is an attachment whose payload is fetched on demand.
type Media struct {
	MimeType string
	URL      string
	Fetch    func(ctx context.Context) ([]byte, error)
}

func (m *Media) Kind() MediaKind {
	if m == nil {
		return ""
	}
	return KindFromMIME(m.MimeType)
}

type InboundMessage struct {
	ID     string
	ChatID string
	// AccountRef identifies the remote party (phone number / account id).
	AccountRef string
	Text       string
	// HasMedia is true when the message carried an attachment; Media is nil
	// when the attachment could not be resolved.
	HasMedia  bool
	Media     *Media
	Timestamp time.Time
}

// Sink receives events from a Client. Push must not be called concurrently
// for the same session.
type Sink interface {
	Push(ev Event)
}

// Client is one connection to the external network.
type Client interface {
	// Initialize brings the connection up. It may fail; callers retry.
	Initialize(ctx context.Context) error
	SendReply(ctx context.Context, original InboundMessage, text string) error
	// Destroy releases resources. Safe from any state and more than once.
	Destroy(ctx context.Context) error
}

// Factory builds a client for one session. The client delivers its events
// to sink.
type Factory func(sessionID string, sink Sink) (Client, error)
