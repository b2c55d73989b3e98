package chat

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/suPer8Hu/ai-salesbot/internal/messaging"
)

type fakeReplier struct {
	mu   sync.Mutex
	reqs []ReplyRequest
}

func (r *fakeReplier) Reply(_ context.Context, req ReplyRequest) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return "**ok** " + req.Text
}

type fakeTranscriber struct {
	text  string
	err   error
	panic bool
	seen  []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	f.seen, _ = os.ReadFile(path)
	if f.panic {
		panic("decoder exploded")
	}
	return f.text, f.err
}

type fakeDescriber struct {
	err error
}

func (f fakeDescriber) Describe(context.Context, []byte, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "A red **sneaker** on a table.", nil
}

// tempTracker counts temp files created and removed by the pipeline.
type tempTracker struct {
	mu      sync.Mutex
	created []string
	removed []string
}

func (tt *tempTracker) install(t *testing.T, p *Pipeline) {
	dir := t.TempDir()
	p.tempDir = dir
	p.createTemp = func(_ string, pattern string) (*os.File, error) {
		f, err := os.CreateTemp(dir, pattern)
		if err == nil {
			tt.mu.Lock()
			tt.created = append(tt.created, f.Name())
			tt.mu.Unlock()
		}
		return f, err
	}
	p.removeFile = func(name string) error {
		tt.mu.Lock()
		tt.removed = append(tt.removed, name)
		tt.mu.Unlock()
		return os.Remove(name)
	}
}

func (tt *tempTracker) assertCreatedAndRemovedOnce(t *testing.T) {
	t.Helper()
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if len(tt.created) != 1 || len(tt.removed) != 1 || tt.created[0] != tt.removed[0] {
		t.Fatalf("temp file lifecycle: created=%v removed=%v", tt.created, tt.removed)
	}
	if _, err := os.Stat(tt.created[0]); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temp file still present: %v", err)
	}
}

func audioMessage() messaging.InboundMessage {
	return messaging.InboundMessage{
		ID:         "m1",
		AccountRef: "5511",
		HasMedia:   true,
		Media: &messaging.Media{
			MimeType: "audio/ogg; codecs=opus",
			Fetch: func(context.Context) ([]byte, error) {
				return []byte("opus-bytes"), nil
			},
		},
	}
}

func TestPipeline_AudioTempFileRemovedOnEveryPath(t *testing.T) {
	cases := []struct {
		name      string
		tr        *fakeTranscriber
		wantReply string
	}{
		{"success", &fakeTranscriber{text: "I want product X"}, "*ok* I want product X"},
		{"failure", &fakeTranscriber{err: errors.New("whisper down")}, AudioApologyReply},
		{"panic", &fakeTranscriber{panic: true}, ApologyReply},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rep := &fakeReplier{}
			p := NewPipeline(PipelineDeps{Replier: rep, Transcriber: tc.tr})
			p.policy.Attempts = 1
			tt := &tempTracker{}
			tt.install(t, p)

			reply := p.Respond(context.Background(), "abc", audioMessage())
			if reply != tc.wantReply {
				t.Fatalf("reply = %q, want %q", reply, tc.wantReply)
			}
			if string(tc.tr.seen) != "opus-bytes" {
				t.Fatalf("transcriber saw %q", tc.tr.seen)
			}
			tt.assertCreatedAndRemovedOnce(t)
		})
	}
}

func TestPipeline_AudioTranscriptFedToText(t *testing.T) {
	rep := &fakeReplier{}
	p := NewPipeline(PipelineDeps{Replier: rep, Transcriber: &fakeTranscriber{text: "hello"}})
	(&tempTracker{}).install(t, p)

	p.Respond(context.Background(), "abc", audioMessage())
	if len(rep.reqs) != 1 {
		t.Fatalf("expected one text reply, got %d", len(rep.reqs))
	}
	if got := rep.reqs[0]; got.SessionID != "abc" || got.Text != "hello" || got.AccountRef != "5511" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestPipeline_Dispatch(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	rep := &fakeReplier{}
	p := NewPipeline(PipelineDeps{Replier: rep, Describer: fakeDescriber{}, Store: repo})
	ctx := context.Background()

	if got := p.Respond(ctx, "s", messaging.InboundMessage{Text: "hi"}); got != "*ok* hi" {
		t.Fatalf("text reply %q", got)
	}
	if got := p.Respond(ctx, "s", messaging.InboundMessage{Text: "   "}); got != "" {
		t.Fatalf("blank text should get no reply, got %q", got)
	}

	doc := messaging.InboundMessage{HasMedia: true, Media: &messaging.Media{MimeType: "application/pdf"}}
	if got := p.Respond(ctx, "s", doc); got != UnsupportedMediaReply {
		t.Fatalf("document reply %q", got)
	}
	if got := p.Respond(ctx, "s", messaging.InboundMessage{HasMedia: true}); got != MediaUnavailableReply {
		t.Fatalf("missing media reply %q", got)
	}

	img := messaging.InboundMessage{
		AccountRef: "5511",
		HasMedia:   true,
		Media: &messaging.Media{
			MimeType: "image/jpeg",
			URL:      "https://mmg.example/img",
			Fetch:    func(context.Context) ([]byte, error) { return []byte{0xff, 0xd8}, nil },
		},
	}
	if got := p.Respond(ctx, "s", img); got != "A red *sneaker* on a table." {
		t.Fatalf("image reply %q", got)
	}
	msgs := countMessages(t, db, "s")
	if len(msgs) != 2 || msgs[0].Content != imagePlaceholder || msgs[0].MediaURL == nil || msgs[1].Sender != SenderAssistant {
		t.Fatalf("image exchange not recorded: %+v", msgs)
	}
}

func TestPipeline_ImageFailureApologises(t *testing.T) {
	p := NewPipeline(PipelineDeps{Replier: &fakeReplier{}, Describer: fakeDescriber{err: errors.New("quota")}})
	img := messaging.InboundMessage{HasMedia: true, Media: &messaging.Media{
		MimeType: "image/png",
		Fetch:    func(context.Context) ([]byte, error) { return []byte{1}, nil },
	}}
	if got := p.Respond(context.Background(), "s", img); got != ImageApologyReply {
		t.Fatalf("reply %q", got)
	}
}

func TestNormalizeEmphasis(t *testing.T) {
	if got := NormalizeEmphasis("**Buy** __now__"); got != "*Buy* _now_" {
		t.Fatalf("got %q", got)
	}
}
