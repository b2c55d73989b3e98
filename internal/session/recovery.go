package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type RecoveryReport struct {
	Total     int
	Recovered int
	Failed    int
}

// Recover recreates a manager for every durably active session. One
// session failing never stops the others; failed ones are marked ERROR
// with the cause.
func Recover(ctx context.Context, store Store, reg *Registry, log *zap.Logger, concurrency int) (RecoveryReport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	recs, err := store.FindActiveSessions(ctx)
	if err != nil {
		return RecoveryReport{}, fmt.Errorf("find active sessions: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var recovered, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, rec := range recs {
		g.Go(func() error {
			if _, _, err := reg.Create(ctx, rec.SessionID, rec.UserID); err != nil {
				failed.Add(1)
				log.Error("session recovery failed", zap.String("session_id", rec.SessionID), zap.Error(err))
				markFailed(ctx, store, log, rec, err)
				return nil
			}
			recovered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report := RecoveryReport{Total: len(recs), Recovered: int(recovered.Load()), Failed: int(failed.Load())}
	log.Info("sessions recovered",
		zap.Int("total", report.Total),
		zap.Int("recovered", report.Recovered),
		zap.Int("failed", report.Failed))
	return report, nil
}

func markFailed(ctx context.Context, store Store, log *zap.Logger, rec Record, cause error) {
	msg := cause.Error()
	// upsert keys on session_id; an explicit primary key would conflict first
	rec.ID = 0
	rec.Status = StatusError
	rec.ErrorMessage = &msg
	rec.PairingCode = nil
	if err := store.UpsertSession(context.WithoutCancel(ctx), &rec); err != nil {
		log.Warn("mark session error failed", zap.String("session_id", rec.SessionID), zap.Error(err))
	}
}
