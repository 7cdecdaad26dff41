// Package app wires configuration, storage and services into runnable commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/MemberLedger/internal/commission"
	"github.com/router-for-me/MemberLedger/internal/config"
	"github.com/router-for-me/MemberLedger/internal/db"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
	"github.com/router-for-me/MemberLedger/internal/http/api/admin"
	adminhandlers "github.com/router-for-me/MemberLedger/internal/http/api/admin/handlers"
	"github.com/router-for-me/MemberLedger/internal/http/api/front"
	"github.com/router-for-me/MemberLedger/internal/integrity"
	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/logging"
	"github.com/router-for-me/MemberLedger/internal/metrics"
	"github.com/router-for-me/MemberLedger/internal/purchase"
	"github.com/router-for-me/MemberLedger/internal/referral"
	internalsettings "github.com/router-for-me/MemberLedger/internal/settings"
	"github.com/router-for-me/MemberLedger/internal/withdrawal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	scanTaskTTL      = 30 * time.Minute
	scanTaskMax      = 20
	redisPingTimeout = 3 * time.Second
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	rt, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()
	log.Info("migrations applied")
	return nil
}

// Scan runs one integrity scan and writes the findings as CSV to w.
func Scan(ctx context.Context, cfg config.AppConfig, w io.Writer) error {
	rt, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()
	report, errScan := integrity.NewChecker(rt.conn).Scan(ctx)
	if errScan != nil {
		return errScan
	}
	log.WithField("findings", len(report.Findings)).Info("integrity scan finished")
	return integrity.WriteCSV(w, report)
}

// RunServer boots the ledger API and its background workers and blocks until
// ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	rt, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	svc, redisClient := BuildServices(rt.cfg, rt.conn)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	referral.NewSnapshotRefresher(svc.Snapshot, rt.cfg.Graph.SnapshotTTL).Start(ctx)
	purchase.NewExpirySweeper(rt.conn, invalidator(svc.Downlines)).Start(ctx)

	gin.SetMode(rt.cfg.Server.Mode)
	server := &http.Server{
		Addr:         rt.cfg.Server.Addr(),
		Handler:      NewRouter(svc),
		ReadTimeout:  rt.cfg.Server.ReadTimeout,
		WriteTimeout: rt.cfg.Server.WriteTimeout,
	}

	errServe := make(chan error, 1)
	go func() {
		log.Infof("starting ledger server on %s", server.Addr)
		if errListen := server.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			errServe <- errListen
		}
		close(errServe)
	}()

	select {
	case errListen := <-errServe:
		return errListen
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down ledger server")
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown: %w", errShutdown)
	}
	return nil
}

// BuildServices constructs every domain service over conn. The returned Redis
// client is nil when Redis is not configured or unreachable.
func BuildServices(cfg *config.Config, conn *gorm.DB) (internalhttp.Services, *redis.Client) {
	mutator := ledger.NewMutator(conn, ledger.WithMaxRetries(cfg.Ledger.MaxRetries))
	graph := referral.NewStore(conn)
	snapshot := referral.NewSnapshot(conn, cfg.Graph.SnapshotTTL)

	var cache referral.DownlineCache = referral.NewMemoryDownlineCache()
	redisClient := openRedis(cfg.Redis)
	if redisClient != nil {
		cache = referral.NewRedisDownlineCache(redisClient, cfg.Redis.Prefix)
	}
	downlines := referral.NewDownlines(snapshot, cache)

	engine := commission.NewEngine(mutator, graph, commission.Policy{
		MaxDepth:       cfg.Commission.MaxDepth,
		CreditInactive: cfg.Commission.CreditInactiveAncestors(),
	})

	return internalhttp.Services{
		DB:         conn,
		JWT:        cfg.JWT,
		Mutator:    mutator,
		Graph:      graph,
		Snapshot:   snapshot,
		Downlines:  downlines,
		Commission: engine,
		Integrity:  integrity.NewChecker(conn),
		Scans:      integrity.NewTaskStore(scanTaskTTL, scanTaskMax),
		Withdrawals: withdrawal.NewService(mutator, withdrawal.Policy{
			FeeRate:   cfg.Withdrawal.FeeRate,
			MinAmount: cfg.Withdrawal.MinAmount,
		}),
		Purchases: purchase.NewFlow(mutator, engine, invalidator(downlines)),
	}, redisClient
}

// NewRouter builds the gin engine with middleware, health, metrics and API routes.
func NewRouter(svc internalhttp.Services) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), logging.RequestID(), logging.AccessLog(), metrics.Middleware())

	healthHandler := adminhandlers.NewHealthHandler(svc.DB)
	engine.GET("/healthz", healthHandler.Healthz)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	admin.RegisterAdminRoutes(engine, svc)
	front.RegisterFrontRoutes(engine, svc)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return engine
}

type appRuntime struct {
	cfg     *config.Config
	conn    *gorm.DB
	closers []io.Closer
}

// bootstrap loads configuration, configures logging, opens and migrates the
// database and loads the settings snapshot.
func bootstrap(ctx context.Context, appCfg config.AppConfig) (*appRuntime, error) {
	configPath := config.ResolveConfigPath(appCfg.ConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logCloser, errLog := logging.Setup(cfg.Logging)
	if errLog != nil {
		return nil, errLog
	}
	rt := &appRuntime{cfg: cfg, closers: []io.Closer{logCloser}}

	conn, errOpen := db.OpenWithOptions(cfg.Database.DSN, db.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		SlowThreshold:   cfg.Database.SlowThreshold,
		LogLevel:        cfg.Database.LogLevel,
	})
	if errOpen != nil {
		rt.close()
		return nil, errOpen
	}
	rt.conn = conn
	if sqlDB, errDB := conn.DB(); errDB == nil {
		rt.closers = append(rt.closers, sqlDB)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		rt.close()
		return nil, errMigrate
	}
	if errSettings := internalsettings.Refresh(ctx, conn); errSettings != nil {
		rt.close()
		return nil, fmt.Errorf("load settings: %w", errSettings)
	}
	log.Infof("loaded config=%s dialect=%s", configPath, db.DialectName(conn))
	return rt, nil
}

func (rt *appRuntime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if errClose := rt.closers[i].Close(); errClose != nil {
			log.WithError(errClose).Warn("close failed")
		}
	}
}

func openRedis(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Addr),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if errPing := client.Ping(ctx).Err(); errPing != nil {
		log.WithError(errPing).Warn("redis unreachable, using in-process downline cache")
		_ = client.Close()
		return nil
	}
	log.Infof("downline cache backed by redis at %s", cfg.Addr)
	return client
}

func invalidator(downlines *referral.Downlines) func(ctx context.Context) {
	return func(ctx context.Context) {
		if errInvalidate := downlines.Invalidate(ctx); errInvalidate != nil {
			log.WithError(errInvalidate).Warn("downline invalidation failed")
		}
	}
}
