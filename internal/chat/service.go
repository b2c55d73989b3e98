package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/ai-salesbot/internal/ai"
	"github.com/suPer8Hu/ai-salesbot/internal/retry"
)

const (
	NothingFoundReply = "No seller or product was found in the database."
	ApologyReply      = "Something went wrong while processing your request. Please try again later."

	noImage = "No image available"

	personaPrompt = "You are a smart salesperson who takes on the personality of the seller responsible for the product the customer mentions. " +
		"When a product or seller is identified in the database, adapt your communication style to reflect that seller's behaviour and tone. " +
		"Answer in a friendly, personalised and persuasive way, helping the customer make the best decision. " +
		"Strengthen the pitch with extra advantages, and finish with simple instructions on how to complete the purchase directly."
)

// ReplyRequest is one inbound customer text to answer.
type ReplyRequest struct {
	SessionID string
	Text      string
	// AccountRef identifies the customer; it becomes the vendor's account.
	AccountRef string
	// MediaURL is recorded on the inbound message row when set.
	MediaURL string
}

// Service grounds replies on the session's sellers and asks the LLM to
// answer in the matched seller's voice.
type Service struct {
	store   Store
	llm     ai.Provider
	matcher Matcher
	policy  retry.Policy
	log     *zap.Logger
	now     func() time.Time
}

type ServiceOption func(*Service)

func WithMatcher(m Matcher) ServiceOption { return func(s *Service) { s.matcher = m } }

// WithRetries sets how many extra LLM attempts follow a transient failure.
func WithRetries(n int, delay time.Duration) ServiceOption {
	return func(s *Service) { s.policy = retry.Policy{Attempts: n + 1, Delay: delay, Backoff: 2, MaxDelay: 5 * time.Second} }
}

func NewService(store Store, llm ai.Provider, log *zap.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:   store,
		llm:     llm,
		matcher: NewMatcher(),
		policy:  retry.Policy{Attempts: 3, Delay: 500 * time.Millisecond, Backoff: 2, MaxDelay: 5 * time.Second},
		log:     log,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Reply never fails: any error or panic degrades to ApologyReply.
func (s *Service) Reply(ctx context.Context, req ReplyRequest) (reply string) {
	log := s.log.With(zap.String("session_id", req.SessionID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("reply panicked", zap.Any("panic", r))
			reply = ApologyReply
		}
	}()

	out, err := s.resolve(ctx, req, log)
	if err != nil {
		log.Error("reply failed", zap.Error(err))
		return ApologyReply
	}
	return out
}

func (s *Service) resolve(ctx context.Context, req ReplyRequest, log *zap.Logger) (string, error) {
	sellers, err := s.store.ListSellers(ctx, req.SessionID)
	if err != nil {
		return "", fmt.Errorf("list sellers: %w", err)
	}

	match, matched := s.matcher.Best(req.Text, sellers)
	vendorName := s.resolveVendor(ctx, req, match, matched, log)

	candidate, ok := pickSeller(sellers, match, matched, vendorName)
	if !ok {
		log.Info("no seller to ground reply", zap.Int("sellers", len(sellers)))
		return NothingFoundReply, nil
	}

	messages := []ai.Message{
		{Role: ai.RoleSystem, Content: personaPrompt},
		{Role: ai.RoleUser, Content: fmt.Sprintf("Customer prompt: %s. Available database: %s.", req.Text, groundingBlock(candidate))},
	}

	var out string
	err = retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) error {
		text, err := s.llm.Chat(ctx, messages)
		if err != nil {
			log.Warn("llm call failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("llm: %w", err)
	}

	s.record(ctx, req, out, log)
	return out, nil
}

// resolveVendor keeps the session's single vendor in step with the latest
// match and returns the known vendor name. Failures only log.
func (s *Service) resolveVendor(ctx context.Context, req ReplyRequest, match Match, matched bool, log *zap.Logger) string {
	v, err := s.store.FindVendor(ctx, req.SessionID)
	if err != nil {
		log.Warn("find vendor failed", zap.Error(err))
		v = nil
	}

	switch {
	case v != nil && matched && v.Name != match.Seller.Name:
		v.Name = match.Seller.Name
		if err := s.store.SaveVendor(ctx, v); err != nil {
			log.Warn("update vendor failed", zap.Error(err))
		}
	case v == nil && matched:
		v = &Vendor{SessionID: req.SessionID, AccountRef: req.AccountRef, Name: match.Seller.Name}
		if err := s.store.SaveVendor(ctx, v); err != nil {
			log.Warn("create vendor failed", zap.Error(err))
		}
	}
	if v == nil {
		return ""
	}
	return v.Name
}

// pickSeller prefers the explicit match, then the newest seller when
// nothing is known, then the newest seller carrying the vendor's name.
func pickSeller(sellers []Seller, match Match, matched bool, vendorName string) (Seller, bool) {
	if matched {
		return match.Seller, true
	}
	var pick Seller
	found := false
	for _, s := range sellers {
		if vendorName != "" && !sameName(s.Name, vendorName) {
			continue
		}
		if !found || newer(s, pick) {
			pick, found = s, true
		}
	}
	return pick, found
}

func newer(a, b Seller) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func groundingBlock(s Seller) string {
	image := noImage
	if s.ImageURL != nil && *s.ImageURL != "" {
		image = *s.ImageURL
	}
	var b strings.Builder
	b.WriteString("Database:\n")
	fmt.Fprintf(&b, "ID: %d;\n", s.ID)
	fmt.Fprintf(&b, "Session ID: %s;\n", s.SessionID)
	fmt.Fprintf(&b, "Seller Name: %s;\n", s.Name)
	fmt.Fprintf(&b, "Product: %s;\n", s.Product)
	fmt.Fprintf(&b, "Description: %s;\n", s.Description)
	fmt.Fprintf(&b, "Image: %s;\n", image)
	fmt.Fprintf(&b, "Benefits: %s;\n", s.Benefits)
	fmt.Fprintf(&b, "Created At: %s;\n", s.CreatedAt.Format(time.RFC3339))
	return b.String()
}

// record stores both sides of the exchange. The reply is already computed,
// so failures here only log.
func (s *Service) record(ctx context.Context, req ReplyRequest, reply string, log *zap.Logger) {
	recordExchange(ctx, s.store, log, exchange{
		SessionID:  req.SessionID,
		AccountRef: req.AccountRef,
		Inbound:    req.Text,
		MediaURL:   req.MediaURL,
		Reply:      reply,
		At:         s.now(),
	})
}

type exchange struct {
	SessionID  string
	AccountRef string
	Inbound    string
	MediaURL   string
	Reply      string
	At         time.Time
}

func recordExchange(ctx context.Context, store Store, log *zap.Logger, e exchange) {
	rows := []*Message{
		{SessionID: e.SessionID, Sender: SenderClient, Content: e.Inbound, MediaURL: strPtr(e.MediaURL), AccountRef: strPtr(e.AccountRef), CreatedAt: e.At},
		{SessionID: e.SessionID, Sender: SenderAssistant, Content: e.Reply, AccountRef: strPtr(e.AccountRef), CreatedAt: e.At},
	}
	for _, m := range rows {
		if err := store.InsertMessage(ctx, m); err != nil {
			log.Warn("record message failed", zap.String("sender", m.Sender), zap.Error(err))
		}
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
