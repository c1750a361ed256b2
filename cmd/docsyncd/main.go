// Command docsyncd runs the collaborative editing server: a WebSocket
// endpoint per document, backed by an operational-transform session per
// live document and a pluggable archive store for persistence.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/docsync/docsync/auth"
	"github.com/docsync/docsync/httpapi"
	"github.com/docsync/docsync/registry"
	"github.com/docsync/docsync/store"
)

func main() {
	cfg := loadConfig()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	archive, notifier, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("docsyncd: failed to build document store")
	}

	var opts []registry.Option
	if notifier != nil {
		opts = append(opts, registry.WithNotifier(notifier))
	}
	if cfg.PersistInterval > 0 {
		opts = append(opts, registry.WithPersistInterval(cfg.PersistInterval))
	}
	if cfg.EvictAfter > 0 {
		opts = append(opts, registry.WithEvictAfter(cfg.EvictAfter))
	}
	reg := registry.New(archive, logger, opts...)
	defer reg.Close()

	freezer, err := buildFreezer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("docsyncd: failed to build freezer")
	}
	if freezer != nil {
		go runFreezeCleanup(freezer, logger)
	}

	var authManager *auth.Manager
	if cfg.AuthEnabled {
		authManager = auth.NewManager()
	}

	router := httpapi.NewRouter(reg, archive, freezer, authManager, logger)

	logger.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreBackend).Msg("docsyncd starting")
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		logger.Fatal().Err(err).Msg("docsyncd: server exited")
	}
}

func buildStore(cfg config, logger zerolog.Logger) (store.DocumentStore, registry.Notifier, error) {
	switch cfg.StoreBackend {
	case "memory", "":
		return store.NewMemoryStore(), nil, nil

	case "cached":
		return store.NewCachedStore(store.NewMemoryStore(), cfg.CacheFlushInterval), nil, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return store.NewRedisStore(client), registry.NewRedisNotifier(client, logger), nil

	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("-postgres-dsn is required for -store=postgres")
		}
		pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			return nil, nil, fmt.Errorf("apply postgres schema: %w", err)
		}
		return pg, nil, nil

	case "firestore":
		if cfg.FirestoreID == "" {
			return nil, nil, fmt.Errorf("-firestore-project is required for -store=firestore")
		}
		client, err := firestore.NewClient(context.Background(), cfg.FirestoreID)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to firestore: %w", err)
		}
		return store.NewFirestoreStore(client), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown -store backend %q", cfg.StoreBackend)
	}
}

func buildFreezer(cfg config, logger zerolog.Logger) (store.Freezer, error) {
	freezeCfg := store.FreezeConfig{
		Enabled:     cfg.FreezeEnabled,
		SaveDir:     cfg.FreezeDir,
		MaxFileSize: cfg.FreezeMaxBytes,
		Retention:   cfg.FreezeRetention,
	}
	if !freezeCfg.Enabled {
		return nil, nil
	}
	return store.NewFileFreezer(freezeCfg, logger)
}

func runFreezeCleanup(freezer store.Freezer, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		n, err := freezer.CleanupExpired()
		if err != nil {
			logger.Warn().Err(err).Msg("docsyncd: freeze cleanup failed")
			continue
		}
		if n > 0 {
			logger.Info().Int("count", n).Msg("docsyncd: cleaned up expired frozen documents")
		}
	}
}
