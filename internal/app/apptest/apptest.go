// Package apptest wires an AppContext over in-memory SQLite and miniredis.
package apptest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/oggyb/chaperone/internal/app"
	"github.com/oggyb/chaperone/internal/cache"
	"github.com/oggyb/chaperone/internal/config"
	"github.com/oggyb/chaperone/internal/db/dbtest"
	"github.com/oggyb/chaperone/internal/logger"
)

// New spins up an isolated DB + Redis and wires everything into an AppContext.
// Logs are discarded.
func New(t *testing.T) (*app.AppContext, *miniredis.Miniredis) {
	t.Helper()

	gdb := dbtest.Open(t)
	mr := miniredis.RunT(t)

	cfg := &config.Config{}
	cfg.App.ENV = "test"
	cfg.Redis.Addr = mr.Addr()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.HTTP.AllowedOrigins = []string{"*"}

	rc := cache.NewRedisCache(cfg)
	t.Cleanup(func() { _ = rc.Close() })

	return app.New(cfg, gdb, rc, logger.Discard()), mr
}
