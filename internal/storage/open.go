package storage

import (
	"errors"
	"strings"

	logx "nybot/pkg/logx"
)

// Open initializes the SQLite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := openSQLite(cfg, log)
	if err != nil {
		return nil, err
	}
	return st, nil
}
