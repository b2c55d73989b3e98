package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/suPer8Hu/ai-salesbot/internal/retry"
)

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// WhisperTranscriber calls an OpenAI-compatible /audio/transcriptions
// endpoint (Groq serves whisper-large-v3-turbo there).
type WhisperTranscriber struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

func NewWhisperTranscriber(baseURL, apiKey, model string) *WhisperTranscriber {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &WhisperTranscriber{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return "", retry.Permanent(fmt.Errorf("transcribe: api key is required"))
	}
	f, err := os.Open(path)
	if err != nil {
		return "", retry.Permanent(err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("model", t.Model); err != nil {
		return "", err
	}
	if err := w.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/audio/transcriptions", strings.TrimRight(t.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.APIKey)

	resp, err := t.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("transcribe", resp)
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	return strings.TrimSpace(decoded.Text), nil
}
