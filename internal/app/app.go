// Package app wires configuration, stores, the decision engine, and the
// HTTP surfaces into a runnable gate server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rankgate/rankgate/internal/audit"
	"github.com/rankgate/rankgate/internal/config"
	"github.com/rankgate/rankgate/internal/db"
	"github.com/rankgate/rankgate/internal/engine"
	adminapi "github.com/rankgate/rankgate/internal/http/api/admin"
	"github.com/rankgate/rankgate/internal/http/api/gate"
	"github.com/rankgate/rankgate/internal/http/middleware"
	"github.com/rankgate/rankgate/internal/store"
	"github.com/rankgate/rankgate/internal/watcher"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// RunServer boots the gate server and blocks until the context is canceled
// or the server fails.
func RunServer(ctx context.Context, cfg config.Config, configPath string) error {
	var conn *gorm.DB
	if cfg.Database.DSN != "" {
		opened, errOpen := db.Open(cfg.Database.DSN)
		if errOpen != nil {
			return errOpen
		}
		if errMigrate := db.Migrate(opened); errMigrate != nil {
			return errMigrate
		}
		if errAdmin := db.EnsureAdmin(opened, cfg.Admin.Username, cfg.Admin.Password); errAdmin != nil {
			return errAdmin
		}
		conn = opened
	}

	memory := store.NewMemoryStore()
	fallback := store.Stores{Counters: memory, Ranks: memory}
	if conn != nil {
		// Standings outlive restarts in the database even without Redis;
		// counters stay local, they are short-lived by construction.
		fallback.Ranks = store.NewGormRankStore(conn)
	}

	manager := store.NewManager(func() store.RedisSettings {
		return store.RedisSettings{
			Enabled:  cfg.Redis.Enabled,
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}
	}, fallback, nil, nil)
	defer func() { _ = manager.Close() }()

	engineOpts := []engine.Option{engine.WithStandingTTL(cfg.StandingTTL)}
	if conn != nil {
		engineOpts = append(engineOpts, engine.WithSink(audit.NewGormSink(conn)))
	}
	eng := engine.New(manager, engineOpts...)

	ladderSet := watcher.NewLadderSet(cfg)
	go func() {
		if errWatch := watcher.Watch(ctx, configPath, ladderSet); errWatch != nil && !errors.Is(errWatch, context.Canceled) {
			log.WithError(errWatch).Warn("app: config watcher stopped")
		}
	}()

	router := buildRouter(cfg, conn, eng, ladderSet)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("app: gate server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

func buildRouter(cfg config.Config, conn *gorm.DB, eng *engine.Engine, ladderSet *watcher.LadderSet) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Admission(middleware.Options{
		Engine:   eng,
		Ladders:  ladderSet.Ladders,
		FailOpen: cfg.OnStoreErr == config.OnStoreErrorAllow,
	}))

	gate.RegisterGateRoutes(router, eng, ladderSet.Ladders)
	if conn != nil {
		adminapi.RegisterAdminRoutes(router, conn, eng, cfg.JWT, ladderSet.LoginLadder)
	}
	return router
}
