package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-salesbot/internal/ai"
)

type recordingProvider struct {
	mu    sync.Mutex
	calls int
	last  []ai.Message
	// fail makes the first n calls return err
	fail int
	err  error
}

func (p *recordingProvider) Chat(_ context.Context, messages []ai.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	// copy to avoid mutations
	p.last = append([]ai.Message(nil), messages...)
	if p.calls <= p.fail {
		return "", p.err
	}
	return "**Great choice!** Reply BUY to order.", nil
}

func (p *recordingProvider) prompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var b strings.Builder
	for _, m := range p.last {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Message{}, &Seller{}, &Vendor{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedSeller(t *testing.T, repo *Repo, s Seller) Seller {
	t.Helper()
	if err := repo.CreateSeller(context.Background(), &s); err != nil {
		t.Fatalf("create seller %s: %v", s.Name, err)
	}
	return s
}

func countMessages(t *testing.T, db *gorm.DB, sessionID string) []Message {
	t.Helper()
	var msgs []Message
	if err := db.Where("session_id = ?", sessionID).Order("id ASC").Find(&msgs).Error; err != nil {
		t.Fatalf("query messages: %v", err)
	}
	return msgs
}

func TestReply_GroundsOnMatchedSeller(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	seedSeller(t, repo, Seller{SessionID: "abc", Name: "Shop Y", Product: "X", Description: "the best X", Benefits: "free shipping"})

	prov := &recordingProvider{}
	svc := NewService(repo, prov, nil)

	reply := svc.Reply(context.Background(), ReplyRequest{SessionID: "abc", Text: "I want product X", AccountRef: "5511999990000"})
	if reply != "**Great choice!** Reply BUY to order." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if prov.calls != 1 {
		t.Fatalf("llm calls = %d, want 1", prov.calls)
	}
	prompt := prov.prompt()
	for _, want := range []string{"Seller Name: Shop Y;", "Product: X;", "Image: " + noImage + ";", "I want product X"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if prov.last[0].Role != ai.RoleSystem {
		t.Fatalf("first message should carry the persona, got %s", prov.last[0].Role)
	}

	msgs := countMessages(t, db, "abc")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Sender != SenderClient || msgs[0].Content != "I want product X" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Sender != SenderAssistant || msgs[1].Content != reply {
		t.Fatalf("unexpected second message: %+v", msgs[1])
	}

	v, err := repo.FindVendor(context.Background(), "abc")
	if err != nil || v == nil {
		t.Fatalf("vendor not created: %v", err)
	}
	if v.Name != "Shop Y" || v.AccountRef != "5511999990000" {
		t.Fatalf("unexpected vendor %+v", v)
	}
}

func TestReply_NoSellersSkipsLLM(t *testing.T) {
	db := openTestDB(t)
	prov := &recordingProvider{}
	svc := NewService(NewRepo(db), prov, nil)

	reply := svc.Reply(context.Background(), ReplyRequest{SessionID: "empty", Text: "anything for sale?"})
	if reply != NothingFoundReply {
		t.Fatalf("unexpected reply %q", reply)
	}
	if prov.calls != 0 {
		t.Fatalf("llm must not be called, got %d calls", prov.calls)
	}
	if n := len(countMessages(t, db, "empty")); n != 0 {
		t.Fatalf("expected no messages, got %d", n)
	}
}

func TestReply_VendorUpdatedInPlace(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	seedSeller(t, repo, Seller{SessionID: "s", Name: "Ana Shoes", Product: "sneakers"})
	seedSeller(t, repo, Seller{SessionID: "s", Name: "Bruno Hats", Product: "fedora"})

	svc := NewService(repo, &recordingProvider{}, nil)
	ctx := context.Background()
	svc.Reply(ctx, ReplyRequest{SessionID: "s", Text: "do you have sneakers?", AccountRef: "1"})
	svc.Reply(ctx, ReplyRequest{SessionID: "s", Text: "and a fedora?", AccountRef: "1"})

	var vendors []Vendor
	if err := db.Where("session_id = ?", "s").Find(&vendors).Error; err != nil {
		t.Fatalf("query vendors: %v", err)
	}
	if len(vendors) != 1 || vendors[0].Name != "Bruno Hats" {
		t.Fatalf("expected a single vendor renamed to Bruno Hats, got %+v", vendors)
	}
}

func TestReply_FallbackSellerSelection(t *testing.T) {
	old := time.Now().Add(-time.Hour)

	t.Run("newest seller without vendor", func(t *testing.T) {
		db := openTestDB(t)
		repo := NewRepo(db)
		seedSeller(t, repo, Seller{SessionID: "s", Name: "Old Shop", Product: "lamps", CreatedAt: old})
		seedSeller(t, repo, Seller{SessionID: "s", Name: "New Shop", Product: "rugs"})

		prov := &recordingProvider{}
		NewService(repo, prov, nil).Reply(context.Background(), ReplyRequest{SessionID: "s", Text: "hello"})
		if !strings.Contains(prov.prompt(), "Seller Name: New Shop;") {
			t.Fatalf("expected newest seller, prompt:\n%s", prov.prompt())
		}
	})

	t.Run("vendor seller when known", func(t *testing.T) {
		db := openTestDB(t)
		repo := NewRepo(db)
		seedSeller(t, repo, Seller{SessionID: "s", Name: "Old Shop", Product: "lamps", CreatedAt: old})
		seedSeller(t, repo, Seller{SessionID: "s", Name: "New Shop", Product: "rugs"})
		if err := repo.SaveVendor(context.Background(), &Vendor{SessionID: "s", AccountRef: "1", Name: "Old Shop"}); err != nil {
			t.Fatalf("save vendor: %v", err)
		}

		prov := &recordingProvider{}
		NewService(repo, prov, nil).Reply(context.Background(), ReplyRequest{SessionID: "s", Text: "hello"})
		if !strings.Contains(prov.prompt(), "Seller Name: Old Shop;") {
			t.Fatalf("expected vendor's seller, prompt:\n%s", prov.prompt())
		}
	})

	t.Run("vendor without seller", func(t *testing.T) {
		db := openTestDB(t)
		repo := NewRepo(db)
		seedSeller(t, repo, Seller{SessionID: "s", Name: "New Shop", Product: "rugs"})
		if err := repo.SaveVendor(context.Background(), &Vendor{SessionID: "s", Name: "Gone Shop"}); err != nil {
			t.Fatalf("save vendor: %v", err)
		}

		prov := &recordingProvider{}
		reply := NewService(repo, prov, nil).Reply(context.Background(), ReplyRequest{SessionID: "s", Text: "hello"})
		if reply != NothingFoundReply || prov.calls != 0 {
			t.Fatalf("expected nothing found without llm, got %q after %d calls", reply, prov.calls)
		}
	})
}

func TestReply_RetriesTransientLLMFailure(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	seedSeller(t, repo, Seller{SessionID: "s", Name: "Shop", Product: "tea"})

	prov := &recordingProvider{fail: 2, err: errors.New("503")}
	svc := NewService(repo, prov, nil, WithRetries(2, time.Millisecond))
	reply := svc.Reply(context.Background(), ReplyRequest{SessionID: "s", Text: "tea please"})
	if reply == ApologyReply || prov.calls != 3 {
		t.Fatalf("expected success on third attempt, got %q after %d calls", reply, prov.calls)
	}
}

func TestReply_ApologyWhenLLMKeepsFailing(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	seedSeller(t, repo, Seller{SessionID: "s", Name: "Shop", Product: "tea"})

	prov := &recordingProvider{fail: 100, err: errors.New("503")}
	svc := NewService(repo, prov, nil, WithRetries(2, time.Millisecond))
	if reply := svc.Reply(context.Background(), ReplyRequest{SessionID: "s", Text: "tea"}); reply != ApologyReply {
		t.Fatalf("unexpected reply %q", reply)
	}
	if prov.calls != 3 {
		t.Fatalf("llm calls = %d, want 3", prov.calls)
	}
	if n := len(countMessages(t, db, "s")); n != 0 {
		t.Fatalf("failed exchange must not be recorded, got %d rows", n)
	}
}

type failingMessages struct {
	*Repo
}

func (failingMessages) InsertMessage(context.Context, *Message) error {
	return errors.New("disk full")
}

func TestReply_RecordFailureKeepsReply(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	seedSeller(t, repo, Seller{SessionID: "s", Name: "Shop", Product: "tea"})

	svc := NewService(failingMessages{repo}, &recordingProvider{}, nil)
	if reply := svc.Reply(context.Background(), ReplyRequest{SessionID: "s", Text: "tea"}); reply == ApologyReply || reply == "" {
		t.Fatalf("persistence failure must not change the reply, got %q", reply)
	}
}
