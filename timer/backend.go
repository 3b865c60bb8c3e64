package main

import (
	"context"
	"fmt"
	"log"

	"github.com/Ftotnem/GO-TIMING/shared/config"
	"github.com/Ftotnem/GO-TIMING/shared/course"
	"github.com/Ftotnem/GO-TIMING/shared/leaderboard"
	"github.com/Ftotnem/GO-TIMING/shared/leaderboard/filestore"
	"github.com/Ftotnem/GO-TIMING/shared/leaderboard/sqlstore"
	"github.com/Ftotnem/GO-TIMING/shared/mongodb"
	"github.com/Ftotnem/GO-TIMING/shared/persist"
	"github.com/Ftotnem/GO-TIMING/timer/service"
)

// openStore opens the configured leaderboard backend and returns the writer
// factory that suits it: the file backend writes inline, relational backends
// go through the dispatcher.
func openStore(cfg *config.TimerServiceConfig) (leaderboard.Store, service.WriterFactory, error) {
	dispatched := func(store leaderboard.Store, onRecorded persist.RecordedFunc) persist.Writer {
		return persist.NewDispatcher(store, persist.Options{
			Workers:    cfg.PersistWorkers,
			QueueLimit: cfg.PersistQueue,
			Timeout:    cfg.PersistTimeout,
			OnRecorded: onRecorded,
		})
	}

	switch cfg.StorageBackend {
	case config.BackendFile:
		store, err := filestore.Open(cfg.StorageFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store %s: %w", cfg.StorageFile, err)
		}
		log.Printf("INFO: Using file leaderboard store at %s", cfg.StorageFile)
		return store, func(store leaderboard.Store, onRecorded persist.RecordedFunc) persist.Writer {
			return persist.NewInline(store, onRecorded)
		}, nil
	case config.BackendSQLite:
		store, err := sqlstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store %s: %w", cfg.SQLitePath, err)
		}
		log.Printf("INFO: Using sqlite leaderboard store at %s", cfg.SQLitePath)
		return store, dispatched, nil
	case config.BackendPostgres:
		store, err := sqlstore.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		log.Println("INFO: Using postgres leaderboard store")
		return store, dispatched, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q: %w", cfg.StorageBackend, leaderboard.ErrConfiguration)
	}
}

// openCourses returns the course store and, for MongoDB, a disconnect func.
func openCourses(ctx context.Context, cfg *config.TimerServiceConfig) (course.Store, func(context.Context) error, error) {
	if cfg.CoursesSource == config.CoursesFromMongo {
		client, err := mongodb.Connect(ctx, cfg.MongoDBConnStr, mongodb.Options{Database: cfg.MongoDBDatabase})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		return course.NewMongoStore(client.Collection(cfg.MongoDBCoursesCollection)), client.Disconnect, nil
	}
	return course.FileLoader{Path: cfg.CoursesFile}, func(context.Context) error { return nil }, nil
}
