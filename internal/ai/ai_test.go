package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/suPer8Hu/ai-salesbot/internal/config"
	"github.com/suPer8Hu/ai-salesbot/internal/retry"
)

func TestOpenAIProvider_Chat(t *testing.T) {
	var got openAIChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("auth header %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("groq", srv.URL+"/", "k", "m", 0.7)
	out, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != "hi there" {
		t.Fatalf("reply %q", out)
	}
	if got.Model != "m" || got.Temperature != 0.7 || len(got.Messages) != 1 || got.Stream {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestOpenAIProvider_StatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		p := NewOpenAIProvider("groq", srv.URL, "k", "m", 0.7)
		_, err := p.Chat(context.Background(), nil)
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if retry.IsPermanent(err) != tc.permanent {
			t.Fatalf("status %d: permanent=%v, want %v", tc.status, retry.IsPermanent(err), tc.permanent)
		}
	}
}

func TestOpenAIProvider_MissingKeyIsPermanent(t *testing.T) {
	p := NewOpenAIProvider("groq", "http://unused", "", "m", 0.7)
	if _, err := p.Chat(context.Background(), nil); !retry.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestOllamaProvider_SendsTemperature(t *testing.T) {
	var got ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"ola"}}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3", 0.3)
	out, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	if err != nil || out != "ola" {
		t.Fatalf("chat: %q %v", out, err)
	}
	if got.Options.Temperature != 0.3 || got.Stream {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestWhisperTranscriber_UploadsFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if r.FormValue("model") != "whisper-large-v3-turbo" {
			t.Errorf("model %q", r.FormValue("model"))
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		b, _ := io.ReadAll(f)
		if string(b) != "audio-bytes" {
			t.Errorf("payload %q", b)
		}
		_, _ = io.WriteString(w, `{"text":" I want product X "}`)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "voice.ogg")
	if err := os.WriteFile(path, []byte("audio-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	tr := NewWhisperTranscriber(srv.URL, "k", "")
	text, err := tr.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "I want product X" {
		t.Fatalf("text %q", text)
	}
}

func TestDefaultRegistry(t *testing.T) {
	reg := NewDefaultRegistry(config.Config{GroqModel: "g", OllamaModel: "o"})
	if strings.Join(reg.Names(), ",") != "groq,ollama,openrouter" {
		t.Fatalf("names %v", reg.Names())
	}
	p, err := reg.Get(context.Background(), " GROQ ", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if op, ok := p.(*OpenAIProvider); !ok || op.Model != "g" {
		t.Fatalf("unexpected provider %#v", p)
	}
	if _, err := reg.Get(context.Background(), "nope", ""); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
