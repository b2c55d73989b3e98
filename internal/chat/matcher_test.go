package chat

import "testing"

func TestFuzzyMatcher_Best(t *testing.T) {
	sellers := []Seller{
		{ID: 1, Name: "Shop Y", Product: "X"},
		{ID: 2, Name: "Café Aurora", Product: "espresso machine"},
		{ID: 3, Name: "Bruno Hats", Product: "fedora"},
	}
	m := NewMatcher()

	cases := []struct {
		text   string
		wantID uint64
		ok     bool
	}{
		{"I want product X", 1, true},
		{"is cafe aurora open?", 2, true},
		{"do you sell espresso machines", 2, true},
		{"two fedoras please", 3, true},
		{"FEDORA!", 3, true},
		{"hello there", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := m.Best(tc.text, sellers)
		if ok != tc.ok {
			t.Fatalf("%q: ok=%v, want %v", tc.text, ok, tc.ok)
		}
		if ok && got.Seller.ID != tc.wantID {
			t.Fatalf("%q: matched seller %d, want %d", tc.text, got.Seller.ID, tc.wantID)
		}
	}
}

func TestFuzzyMatcher_PrefersPhraseOverFuzzy(t *testing.T) {
	sellers := []Seller{
		{ID: 1, Name: "Green Tea House", Product: "teapots"},
		{ID: 2, Name: "Tea Co", Product: "green tea"},
	}
	got, ok := NewMatcher().Best("I'd like some green tea", sellers)
	if !ok || got.Seller.ID != 2 || got.Field != "product" {
		t.Fatalf("unexpected match %+v ok=%v", got, ok)
	}
}

func TestFold(t *testing.T) {
	if got := fold("Ação, Café!"); got != "acao  cafe " {
		t.Fatalf("fold = %q", got)
	}
	if !sameName("  café  AURORA", "Cafe Aurora") {
		t.Fatalf("sameName should ignore accents, case and spacing")
	}
}
