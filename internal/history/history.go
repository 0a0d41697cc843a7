// Package history keeps an audit trail of delivery firings.
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"weatherbot/pkg/logx"
)

var ErrDisabled = errors.New("history disabled")

type Config struct {
	// Driver: "sqlite" or "none" (disabled).
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Entry records one firing. Keep it compact and schema-stable.
type Entry struct {
	At       time.Time
	GroupKey string
	SubID    string
	City     string
	OK       bool
	Error    string
	TookMS   int64
}

// Store is the minimal audit API used by the delivery adapter and router.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when history
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}
