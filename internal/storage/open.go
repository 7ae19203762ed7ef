package storage

import (
	"errors"
	"strings"

	logx "pagewatch/pkg/logx"
)

// Open initializes the configured driver. An empty driver means "file".
func Open(cfg Config, log logx.Logger) (*Stores, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "file"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
