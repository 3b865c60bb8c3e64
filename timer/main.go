package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Ftotnem/GO-TIMING/shared/api"
	"github.com/Ftotnem/GO-TIMING/shared/backup"
	"github.com/Ftotnem/GO-TIMING/shared/config"
	"github.com/Ftotnem/GO-TIMING/shared/course"
	redisu "github.com/Ftotnem/GO-TIMING/shared/redis"
	timerapi "github.com/Ftotnem/GO-TIMING/timer/api"
	"github.com/Ftotnem/GO-TIMING/timer/service"
	"github.com/Ftotnem/GO-TIMING/timer/store"
	"github.com/Ftotnem/GO-TIMING/timer/syncer"
	"github.com/Ftotnem/GO-TIMING/timer/updater"
	"github.com/jonboulle/clockwork"
)

func main() {
	// --- 1. Load Configuration ---
	cfg, err := config.LoadTimerServiceConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("INFO: Configuration loaded for Timer Service. Listening on: %s (port %d, backend %s, mode %s)",
		cfg.ListenAddr, cfg.ServicePort, cfg.StorageBackend, cfg.EvaluationMode)

	ctx := context.Background()
	clock := clockwork.NewRealClock()

	// --- 2. Leaderboard store ---
	lbStore, newWriter, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open leaderboard store: %v", err)
	}

	// --- 3. Courses ---
	loader, disconnectCourses, err := openCourses(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open course source: %v", err)
	}
	defer func() {
		if err := disconnectCourses(context.Background()); err != nil {
			log.Printf("WARNING: Failed to disconnect course source: %v", err)
		}
	}()
	registry := course.NewRegistry()
	if n, err := registry.Reload(ctx, loader); err != nil {
		log.Printf("WARNING: Initial course load failed, starting with no courses: %v", err)
	} else {
		log.Printf("INFO: Loaded %d courses.", n)
	}

	// --- 4. Presence (optional) ---
	opts := service.Options{
		CountdownSeconds:  cfg.CountdownSeconds,
		CountdownInterval: cfg.CountdownInterval,
		EventMode:         cfg.EvaluationMode == config.ModeEvent,
		Clock:             clock,
		NewWriter:         newWriter,
		CourseStore:       loader,
	}
	if cfg.PresenceEnabled {
		redisClient, err := redisu.NewRedisClusterClient(cfg.RedisAddrs, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("Failed to connect to Redis Cluster: %v", err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("WARNING: Error closing Redis client: %v", err)
			}
		}()
		opts.Presence = store.NewPresenceStore(redisClient, cfg.RedisOnlineTTL)
	}

	// --- 5. Business logic and restore ---
	timerService := service.NewTimerService(lbStore, registry, opts)
	if _, err := timerService.RestoreSessions(ctx); err != nil {
		log.Printf("WARNING: Could not restore ongoing runs: %v", err)
	}

	// --- 6. Background loops ---
	tickUpdater := updater.NewTickUpdater(timerService, cfg.TickInterval, clock)
	go tickUpdater.Start()

	var uploader syncer.Uploader
	if cfg.Backup.Enabled {
		s3, err := backup.NewS3Uploader(ctx, backup.S3Options{
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			Bucket:          cfg.Backup.Bucket,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		})
		if err != nil {
			log.Fatalf("Failed to configure backups: %v", err)
		}
		uploader = s3
	}
	bgSyncer, err := syncer.NewSyncer(syncer.Config{
		SnapshotInterval:     cfg.SnapshotInterval,
		PresenceInterval:     cfg.PresenceInterval,
		CourseReloadInterval: cfg.CourseReloadInterval,
		BackupInterval:       cfg.Backup.Interval,
		BackupTimeout:        cfg.Backup.Timeout,
		BackupPrefix:         cfg.Backup.Prefix,
		BackupPath:           cfg.StorageFile,
	}, timerService, loader, uploader, clock)
	if err != nil {
		log.Fatalf("Failed to create syncer: %v", err)
	}
	if err := bgSyncer.Start(); err != nil {
		log.Fatalf("Failed to start syncer: %v", err)
	}

	// --- 7. HTTP server ---
	baseServer := api.NewBaseServer(cfg.ListenAddr, log.Default())
	timerapi.NewTimerAPIHandlers(timerService).RegisterRoutes(baseServer.Router)
	go func() {
		if err := baseServer.Start(); err != nil {
			log.Fatalf("HTTP server failed to start: %v", err)
		}
	}()

	// --- 8. Graceful Shutdown ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("INFO: Shutting down Timer Service...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := baseServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: HTTP server graceful shutdown failed: %v", err)
	}
	tickUpdater.Stop()
	if err := bgSyncer.Stop(); err != nil {
		log.Printf("ERROR: %v", err)
	}
	if err := timerService.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: Timer service shutdown incomplete: %v", err)
	}
	log.Println("INFO: Timer Service gracefully shut down.")
}
