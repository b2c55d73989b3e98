package session

import (
	"context"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestRepo_UpsertKeepsOneRowAndDeviceJID(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	if err := repo.UpsertSession(ctx, recordFrom(Snapshot{SessionID: "abc", OwnerUserID: 1, Status: StatusWaitingPairing, PairingCode: "qr"})); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	if err := repo.SaveDeviceJID(ctx, "abc", "5511999999999.0:1@s.whatsapp.net"); err != nil {
		t.Fatalf("save jid: %v", err)
	}
	if err := repo.UpsertSession(ctx, recordFrom(Snapshot{SessionID: "abc", OwnerUserID: 1, Status: StatusConnected, Ready: true})); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}

	rec, err := repo.GetSession(ctx, "abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != StatusConnected {
		t.Fatalf("status %s", rec.Status)
	}
	if rec.PairingCode != nil {
		t.Fatalf("pairing code should be cleared, got %q", *rec.PairingCode)
	}
	jid, err := repo.DeviceJID(ctx, "abc")
	if err != nil || jid == "" {
		t.Fatalf("device jid lost by upsert: %q %v", jid, err)
	}

	var n int64
	repo.db.Model(&Record{}).Where("session_id = ?", "abc").Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestRepo_FindActiveSessions(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	for id, st := range map[string]Status{
		"a": StatusConnected,
		"b": StatusAuthenticated,
		"c": StatusError,
		"d": StatusDisconnected,
		"e": StatusWaitingPairing,
	} {
		if err := repo.UpsertSession(ctx, recordFrom(Snapshot{SessionID: id, OwnerUserID: 2, Status: st})); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	recs, err := repo.FindActiveSessions(ctx)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got := map[string]bool{}
	for _, r := range recs {
		got[r.SessionID] = true
	}
	if len(got) != 2 || !got["a"] || !got["b"] {
		t.Fatalf("unexpected active set %v", got)
	}

	if jid, err := repo.DeviceJID(ctx, "missing"); err != nil || jid != "" {
		t.Fatalf("missing session: %q %v", jid, err)
	}
	if err := repo.DeleteSession(ctx, "c"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.DeleteSession(ctx, "c"); err == nil {
		t.Fatalf("expected not found on second delete")
	}
}
