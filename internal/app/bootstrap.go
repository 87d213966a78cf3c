package app

import (
	"log/slog"

	"quoter_go/internal/infra"
	"quoter_go/internal/infra/storage"

	"github.com/google/uuid"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	RunID   string
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB).
func (b *Bootstrap) Initialize(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// Each process run gets an id so restarts are distinguishable in logs
	// and persisted rows.
	b.RunID = uuid.NewString()[:8]

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger.With("run_id", b.RunID))

	store, err := storage.NewStorage(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("database initialized", "path", cfg.Storage.DBPath)

	return nil
}

// Close releases bootstrap-owned resources.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("failed to close storage", "err", err)
		}
	}
}
