package store

import (
	"context"
	"log"

	"github.com/ultrahub-team/ultrahub/internal/config"
	"github.com/ultrahub-team/ultrahub/internal/raid"
)

// Open selects the backend from configuration: postgres when a database URL
// is set, JSON files under the data directory otherwise.
func Open(ctx context.Context, cfg config.Config) (raid.Store, error) {
	if cfg.DatabaseURL != "" {
		log.Printf("store: using postgres backend")
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	}
	log.Printf("store: using file backend under %s", cfg.DataDir)
	return NewFileStore(cfg.DataDir)
}
