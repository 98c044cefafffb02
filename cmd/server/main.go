package main // entry point of the resident-gate server

import (
	"context"   // shutdown and startup deadlines
	"errors"    // errors.Is for server close
	"log"       // fallback before the zap logger exists
	"net/http"  // http.ErrServerClosed
	"os"        // signals
	"os/signal" // graceful shutdown on SIGINT/SIGTERM
	"syscall"   // SIGTERM
	"time"      // timeouts

	"go.uber.org/zap" // structured logging

	"github.com/iliyamo/resident-gate/internal/config"
	"github.com/iliyamo/resident-gate/internal/database"
	"github.com/iliyamo/resident-gate/internal/directory"
	"github.com/iliyamo/resident-gate/internal/dispatch"
	"github.com/iliyamo/resident-gate/internal/door"
	"github.com/iliyamo/resident-gate/internal/handler"
	"github.com/iliyamo/resident-gate/internal/jobs"
	"github.com/iliyamo/resident-gate/internal/logger"
	"github.com/iliyamo/resident-gate/internal/middleware"
	"github.com/iliyamo/resident-gate/internal/observability/metrics"
	"github.com/iliyamo/resident-gate/internal/permission"
	"github.com/iliyamo/resident-gate/internal/queue"
	"github.com/iliyamo/resident-gate/internal/repository"
	"github.com/iliyamo/resident-gate/internal/router"
	"github.com/iliyamo/resident-gate/internal/scanner"
	"github.com/iliyamo/resident-gate/internal/service"
)

const serviceName = "resident-gate"

func main() {
	cfg := config.Load() // load environment config

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	metrics.MustRegister(serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		zl.Fatal("database connect failed", zap.Error(err))
	}
	defer db.Close()
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := database.Migrate(migrateCtx, db, zl); err != nil {
		cancel()
		zl.Fatal("database migrate failed", zap.Error(err))
	}
	cancel()

	// Events
	var pub service.Publisher = queue.Nop{}
	if cfg.Events.Enabled {
		p := queue.NewPublisher(cfg.Events.AMQPURL, queue.PublisherConfig{
			Buffer:      cfg.Events.Buffer,
			DialTimeout: cfg.Events.DialTimeout,
		}, zl)
		defer func() { _ = p.Close() }()
		pub = p
	}
	var audit <-chan struct{}
	if cfg.Events.AuditConsumer {
		consumer := queue.NewAuditConsumer(cfg.Events.AMQPURL, cfg.Events.AuditLogDir, zl)
		done := make(chan struct{})
		audit = done
		go func() {
			defer close(done)
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zl.Error("audit consumer stopped", zap.Error(err))
			}
		}()
	}

	// Identity
	var dir service.Directory
	switch cfg.Directory.Driver {
	case "memory":
		dir = directory.NewMemory(cfg.Directory.BcryptCost, zl)
	case "none", "":
	default:
		zl.Fatal("unknown DIRECTORY_DRIVER", zap.String("driver", cfg.Directory.Driver))
	}
	registry := service.NewRegistry(repository.NewIdentityRepo(db, zl), dir, zl)
	gate := permission.NewGate(registry, zl)

	seeds := make([]service.AdminSeed, 0, len(cfg.BootstrapAdmins))
	for _, a := range cfg.BootstrapAdmins {
		seeds = append(seeds, service.AdminSeed{TelegramID: a.TelegramID, Username: a.Username})
	}
	if err := registry.BootstrapAdmins(ctx, seeds); err != nil {
		zl.Fatal("bootstrap admins failed", zap.Error(err))
	}

	// Presence
	tracker := service.NewTracker(registry, repository.NewPresenceRepo(db, zl), pub, service.PresenceConfig{
		HitThreshold:  cfg.Presence.HitThreshold,
		MissThreshold: cfg.Presence.MissThreshold,
	}, zl)
	registry.SetObserver(tracker)
	if err := tracker.Restore(ctx); err != nil {
		zl.Warn("presence restore failed, starting empty", zap.Error(err))
	}
	mikrotik := scanner.NewMikrotik(scanner.MikrotikConfig{
		Host:        cfg.Mikrotik.Host,
		Username:    cfg.Mikrotik.Username,
		Password:    cfg.Mikrotik.Password,
		Scheme:      scanner.Scheme(cfg.Mikrotik.Scheme),
		MaxLastSeen: cfg.Mikrotik.MaxLastSeen,
	}, zl)

	// Access
	doorDriver, closeDoor := newDoor(cfg.Door, zl)
	defer closeDoor()
	access := service.NewAccessService(repository.NewTokenRepo(db, zl), gate, doorDriver, pub, service.AccessConfig{
		MaxTTL:       cfg.Tokens.MaxTTL,
		CleanupGrace: cfg.Tokens.CleanupGrace,
		LinkBaseURL:  cfg.Tokens.LinkBaseURL,
		Door: service.RetryPolicy{
			Timeout: cfg.Door.Timeout,
			Retries: cfg.Door.Retries,
			Backoff: cfg.Door.RetryBackoff,
		},
	}, zl)

	dispatcher := dispatch.New(gate, registry, tracker, access, dispatch.Options{
		Version:          cfg.Version,
		DefaultGuestTTL:  cfg.Tokens.DefaultTTL,
		DefaultGuestUses: cfg.Tokens.DefaultUses,
	}, zl)

	// HTTP
	rdb := config.NewRedisClient(zl)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	e := router.New(router.Deps{
		Commands:  handler.NewCommandHandler(dispatcher, 0),
		Guest:     handler.NewGuestHandler(access, 0),
		JWTSecret: cfg.JWTSecret,
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, zl),
		Log:       zl,
	})

	// Jobs
	scanDone := jobs.StartPresenceScan(ctx, jobs.PresenceScanConfig{
		Interval: cfg.Presence.ScanInterval,
		Timeout:  cfg.Presence.ScanTimeout,
	}, mikrotik, tracker, zl)
	cleanupDone := jobs.StartTokenCleanup(ctx, cfg.Tokens.CleanupInterval, access, zl)

	addr := ":" + cfg.Port
	go func() {
		zl.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("version", cfg.Version))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zl.Error("http shutdown failed", zap.Error(err))
	}
	<-scanDone
	<-cleanupDone
	if audit != nil {
		<-audit
	}
}

// newDoor selects the door driver. The returned func releases it.
func newDoor(cfg config.DoorConfig, zl *zap.Logger) (service.Door, func()) {
	switch cfg.Driver {
	case "homeassistant":
		if cfg.HassURL == "" || cfg.HassToken == "" {
			zl.Fatal("DOOR_DRIVER=homeassistant needs HASS_URL and HASS_TOKEN")
		}
		return door.NewHomeAssistant(cfg.HassURL, cfg.HassToken, cfg.HassEntity, zl), func() {}
	case "mqtt":
		m, err := door.NewMQTT(door.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
		}, zl)
		if err != nil {
			zl.Fatal("mqtt door connect failed", zap.Error(err))
		}
		return m, m.Close
	case "log":
		return door.NewLogOnly(zl), func() {}
	}
	zl.Fatal("unknown DOOR_DRIVER", zap.String("driver", cfg.Driver))
	return nil, nil
}
