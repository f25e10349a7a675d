// Package app wires configuration into the stores and services shared by the binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"classroom/internal/attendance"
	"classroom/internal/config"
	"classroom/internal/directory"
	"classroom/internal/queue"
	"classroom/internal/store"
	"classroom/internal/visionclient"
)

// Backends holds the opened dependencies. DB and Redis are nil for the memory backends.
type Backends struct {
	DB         *store.DB
	Redis      *store.Redis
	Directory  *directory.Service
	Attendance *attendance.Service
	Queue      queue.Queue
	Vision     *visionclient.Client
}

// Open connects the configured store and queue backends and builds the services.
func Open(ctx context.Context, cfg config.App, logger *zap.Logger) (*Backends, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	b := &Backends{Vision: visionclient.New(cfg.VisionURL, cfg.VisionSkip)}

	var (
		dirStore directory.Store
		attStore attendance.Store
	)
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory stores; data is lost on exit")
		dirStore, attStore = directory.NewMemStore(), attendance.NewMemStore()
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.DB = db
		if cfg.AutoMigrate {
			if err := store.Migrate(ctx, db.Client); err != nil {
				_ = db.Close()
				return nil, err
			}
			logger.Info("schema migrated")
		}
		dirStore, attStore = directory.NewRepository(db.Client), attendance.NewRepository(db.Client)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	switch cfg.QueueBackend {
	case "memory":
		b.Queue = queue.NewInMemory(256)
	case "redis":
		b.Redis = store.NewRedis(cfg.RedisAddr)
		b.Queue = queue.NewRedisQueue(b.Redis.Client, cfg.QueueKey)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	b.Directory = directory.NewService(dirStore, logger.Named("directory"))
	b.Attendance = attendance.NewService(attStore, b.Directory, loc, logger.Named("attendance"),
		attendance.WithMonitor(b.Vision))
	return b, nil
}

// Close releases the connections.
func (b *Backends) Close() {
	_ = b.Redis.Close()
	_ = b.DB.Close()
}
