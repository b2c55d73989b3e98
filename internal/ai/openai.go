package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/suPer8Hu/ai-salesbot/internal/retry"
)

// OpenAIProvider talks to any OpenAI-compatible /chat/completions endpoint
// (Groq, OpenRouter).
type OpenAIProvider struct {
	Name        string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	// optional OpenRouter attribution headers
	SiteURL string
	AppName string
	Client  *http.Client
}

type openAIChatReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type openAIChatResp struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenAIProvider(name, baseURL, apiKey, model string, temperature float64) *OpenAIProvider {
	return &OpenAIProvider{
		Name:        name,
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Model:       model,
		Temperature: temperature,
		Client:      &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	name := p.Name
	if name == "" {
		name = "openai"
	}
	if p.Client == nil {
		return "", retry.Permanent(fmt.Errorf("%s: http client is nil", name))
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", retry.Permanent(fmt.Errorf("%s: api key is required", name))
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return "", retry.Permanent(fmt.Errorf("%s: model is required", name))
	}

	b, err := json.Marshal(openAIChatReq{
		Model:       model,
		Messages:    messages,
		Temperature: p.Temperature,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(name, resp)
	}

	var decoded openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%s: empty response", name)
	}
	return decoded.Choices[0].Message.Content, nil
}
