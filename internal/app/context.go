package app

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/oggyb/chaperone/internal/cache"
	"github.com/oggyb/chaperone/internal/config"
	"github.com/oggyb/chaperone/internal/notify"
	"github.com/oggyb/chaperone/internal/storage"
)

// AppContext holds shared dependencies (DB, Redis, Logger, etc.)
type AppContext struct {
	Config     *config.Config
	DB         *gorm.DB
	RedisCache *cache.RedisCache
	Logger     *slog.Logger
	Notifier   *notify.Notifier
	Mailer     notify.Mailer
	// Storage is nil when object storage is not configured.
	Storage *storage.Presigner
}

// New creates a new AppContext. The notifier and a logging mailer are derived
// from the given dependencies; Storage is attached by the caller.
func New(cfg *config.Config, db *gorm.DB, rdb *cache.RedisCache, logger *slog.Logger) *AppContext {
	return &AppContext{
		Config:     cfg,
		DB:         db,
		RedisCache: rdb,
		Logger:     logger,
		Notifier:   notify.New(db, rdb, logger),
		Mailer:     notify.NewLogMailer(logger),
	}
}
