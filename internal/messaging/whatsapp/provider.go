// Package whatsapp implements messaging.Client on top of whatsmeow.
// Device credentials live in a SQL device store; the session table only
// remembers which device JID belongs to which session.
package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.uber.org/zap"

	"github.com/suPer8Hu/ai-salesbot/internal/messaging"
)

// DeviceStore maps a session to its paired device. *session.Repo
// implements it.
type DeviceStore interface {
	DeviceJID(ctx context.Context, sessionID string) (string, error)
	SaveDeviceJID(ctx context.Context, sessionID, jid string) error
}

type Provider struct {
	container   *sqlstore.Container
	devices     DeviceStore
	log         *zap.Logger
	initTimeout time.Duration
}

// NewProvider prepares the device store schema. dialect is "sqlite3" or
// "postgres".
func NewProvider(ctx context.Context, db *sql.DB, dialect string, devices DeviceStore, log *zap.Logger, initTimeout time.Duration) (*Provider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if initTimeout <= 0 {
		initTimeout = 60 * time.Second
	}
	container := sqlstore.NewWithDB(db, dialect, newLogger(log.Named("wa-store")))
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrade device store: %w", err)
	}
	return &Provider{
		container:   container,
		devices:     devices,
		log:         log,
		initTimeout: initTimeout,
	}, nil
}

// Dialect maps the app's DB driver names to the device store dialects.
func Dialect(driver string) (string, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "postgres", "postgresql":
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported whatsapp store driver %q", driver)
	}
}

// Factory builds one client per session.
func (p *Provider) Factory() messaging.Factory {
	return func(sessionID string, sink messaging.Sink) (messaging.Client, error) {
		return newClient(p, sessionID, sink), nil
	}
}
