package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/suPer8Hu/ai-salesbot/internal/retry"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a chat-completion backend.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// statusError turns a non-2xx response into an error. 4xx other than 408
// and 429 will not get better on retry, so they are marked permanent.
func statusError(name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	err := fmt.Errorf("%s: %s", name, msg)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
		return retry.Permanent(err)
	}
	return err
}
