package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/ai-salesbot/internal/ai"
	"github.com/suPer8Hu/ai-salesbot/internal/messaging"
	"github.com/suPer8Hu/ai-salesbot/internal/retry"
)

const (
	UnsupportedMediaReply = "Unsupported media type."
	MediaUnavailableReply = "Sorry, I could not process the media you sent."
	AudioApologyReply     = "Sorry, there was an error processing the audio."
	ImageApologyReply     = "Sorry, there was an error analysing the image."

	emptyTranscript  = "I could not transcribe the audio."
	imagePlaceholder = "[Image received from the customer]"
)

// Replier answers one customer text. *Service implements it.
type Replier interface {
	Reply(ctx context.Context, req ReplyRequest) string
}

// Pipeline dispatches an inbound message by kind and always yields a
// deliverable reply.
type Pipeline struct {
	replier     Replier
	transcriber ai.Transcriber
	describer   ai.Describer
	store       Store
	log         *zap.Logger
	policy      retry.Policy
	tempDir     string

	createTemp func(dir, pattern string) (*os.File, error)
	removeFile func(name string) error
}

type PipelineDeps struct {
	Replier     Replier
	Transcriber ai.Transcriber
	// Describer may be nil when no vision key is configured.
	Describer ai.Describer
	Store     Store
	Log       *zap.Logger
	TempDir   string
}

func NewPipeline(d PipelineDeps) *Pipeline {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		replier:     d.Replier,
		transcriber: d.Transcriber,
		describer:   d.Describer,
		store:       d.Store,
		log:         log,
		policy:      retry.Fixed(2, time.Second),
		tempDir:     d.TempDir,
		createTemp:  os.CreateTemp,
		removeFile:  os.Remove,
	}
}

// Respond implements the session responder. It never panics and never
// returns an empty string for a message that carried content.
func (p *Pipeline) Respond(ctx context.Context, sessionID string, msg messaging.InboundMessage) (reply string) {
	log := p.log.With(zap.String("session_id", sessionID), zap.String("msg_id", msg.ID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", zap.Any("panic", r))
			reply = ApologyReply
		}
	}()

	switch {
	case msg.HasMedia && msg.Media == nil:
		reply = MediaUnavailableReply
	case msg.Media != nil:
		switch msg.Media.Kind() {
		case messaging.MediaAudio:
			reply = p.handleAudio(ctx, sessionID, msg, log)
		case messaging.MediaImage:
			reply = p.handleImage(ctx, sessionID, msg, log)
		default:
			reply = UnsupportedMediaReply
		}
	case strings.TrimSpace(msg.Text) != "":
		reply = p.replier.Reply(ctx, ReplyRequest{SessionID: sessionID, Text: msg.Text, AccountRef: msg.AccountRef})
	default:
		return ""
	}
	return NormalizeEmphasis(reply)
}

func (p *Pipeline) handleAudio(ctx context.Context, sessionID string, msg messaging.InboundMessage, log *zap.Logger) string {
	if p.transcriber == nil {
		return AudioApologyReply
	}
	text, err := p.transcribe(ctx, msg.Media)
	if err != nil {
		log.Error("transcription failed", zap.Error(err))
		return AudioApologyReply
	}
	if text == "" {
		text = emptyTranscript
	}
	return p.replier.Reply(ctx, ReplyRequest{
		SessionID:  sessionID,
		Text:       text,
		AccountRef: msg.AccountRef,
		MediaURL:   msg.Media.URL,
	})
}

// transcribe holds the decoded audio in a temp file only for the duration
// of the transcription call. The file is removed on every path, panics
// included.
func (p *Pipeline) transcribe(ctx context.Context, media *messaging.Media) (string, error) {
	data, err := media.Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch audio: %w", err)
	}

	f, err := p.createTemp(p.tempDir, "voice-*"+audioExt(media.MimeType))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	defer func() {
		if err := p.removeFile(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.log.Warn("remove temp audio failed", zap.String("path", name), zap.Error(err))
		}
	}()

	_, werr := f.Write(data)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", fmt.Errorf("write temp file: %w", werr)
	}

	var text string
	err = retry.Do(ctx, p.policy, func(ctx context.Context, _ int) error {
		t, err := p.transcriber.Transcribe(ctx, name)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	return text, err
}

func (p *Pipeline) handleImage(ctx context.Context, sessionID string, msg messaging.InboundMessage, log *zap.Logger) string {
	if p.describer == nil {
		return ImageApologyReply
	}
	data, err := msg.Media.Fetch(ctx)
	if err != nil {
		log.Error("fetch image failed", zap.Error(err))
		return ImageApologyReply
	}
	desc, err := p.describer.Describe(ctx, data, msg.Media.MimeType)
	if err != nil {
		log.Error("describe image failed", zap.Error(err))
		return ImageApologyReply
	}

	inbound := imagePlaceholder
	if caption := strings.TrimSpace(msg.Text); caption != "" {
		inbound += " " + caption
	}
	if p.store != nil {
		recordExchange(ctx, p.store, log, exchange{
			SessionID:  sessionID,
			AccountRef: msg.AccountRef,
			Inbound:    inbound,
			MediaURL:   msg.Media.URL,
			Reply:      desc,
			At:         time.Now(),
		})
	}
	return desc
}

// NormalizeEmphasis rewrites markdown bold to the single-asterisk form the
// chat network renders.
func NormalizeEmphasis(s string) string {
	s = strings.ReplaceAll(s, "**", "*")
	return strings.ReplaceAll(s, "__", "_")
}

func audioExt(mime string) string {
	mime = strings.ToLower(mime)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	switch strings.TrimSpace(mime) {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/aac":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".mp3"
	}
}
