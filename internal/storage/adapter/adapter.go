// Package adapter picks the persistence backend from configuration.
package adapter

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/storage"
	"github.com/nbrembilla/scorte/internal/storage/flatfile"
	"github.com/nbrembilla/scorte/internal/storage/sqlite"
)

// Open returns the configured backend. A database backend that fails to open
// degrades to flat files rather than refusing to start: the CSV files remain
// a valid store and the operator sees a warning.
func Open(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case config.BackendDatabase:
		st, err := sqlite.Open(cfg)
		if err == nil {
			return st, nil
		}
		log.Warn().Err(err).Str("path", cfg.DatabasePath).
			Msg("database backend unavailable, falling back to flat files")
		return flatfile.Open(cfg)
	case config.BackendFlatFile, "":
		return flatfile.Open(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
