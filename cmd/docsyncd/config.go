package main

import (
	"flag"
	"os"
	"time"
)

// config gathers every knob docsyncd exposes as a flag. The string and
// boolean knobs take their default from an environment variable when it is
// set; flags win when both are given. The durations and the freeze size cap
// are flag-only.
type config struct {
	Addr string

	StoreBackend string // memory, cached, redis, postgres, firestore
	RedisAddr    string
	PostgresDSN  string
	FirestoreID  string

	CacheFlushInterval time.Duration

	PersistInterval time.Duration
	EvictAfter      time.Duration

	FreezeEnabled   bool
	FreezeDir       string
	FreezeMaxBytes  int64
	FreezeRetention time.Duration

	AuthEnabled bool
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadConfig() config {
	cfg := config{}

	flag.StringVar(&cfg.Addr, "addr", envOr("DOCSYNC_ADDR", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.StoreBackend, "store", envOr("DOCSYNC_STORE", "memory"), "document store backend: memory, cached, redis, postgres, firestore")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", envOr("DOCSYNC_REDIS_ADDR", "localhost:6379"), "redis address, used by -store=redis and the cross-process notifier")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", envOr("DOCSYNC_POSTGRES_DSN", ""), "postgres connection string, used by -store=postgres")
	flag.StringVar(&cfg.FirestoreID, "firestore-project", envOr("DOCSYNC_FIRESTORE_PROJECT", ""), "GCP project id, used by -store=firestore")

	flag.DurationVar(&cfg.CacheFlushInterval, "cache-flush-interval", 2*time.Second, "write-behind flush interval for -store=cached")

	flag.DurationVar(&cfg.PersistInterval, "persist-interval", 30*time.Second, "how often live sessions snapshot their text to the archive store, 0 disables it")
	flag.DurationVar(&cfg.EvictAfter, "evict-after", 15*time.Minute, "how long an unattached session sits idle before eviction, 0 disables it")

	flag.BoolVar(&cfg.FreezeEnabled, "freeze-enabled", envOr("DOCSYNC_FREEZE_ENABLED", "") == "1", "enable the freeze/export-to-disk feature")
	flag.StringVar(&cfg.FreezeDir, "freeze-dir", envOr("DOCSYNC_FREEZE_DIR", "./frozen_documents"), "directory frozen document snapshots are written under")
	flag.Int64Var(&cfg.FreezeMaxBytes, "freeze-max-bytes", 10*1024*1024, "maximum document size the freezer will accept")
	flag.DurationVar(&cfg.FreezeRetention, "freeze-retention", 30*24*time.Hour, "how long a frozen snapshot is kept before cleanup removes it")

	flag.BoolVar(&cfg.AuthEnabled, "auth-enabled", envOr("DOCSYNC_AUTH_ENABLED", "") == "1", "enable the register/login surface gating the freeze endpoints")

	flag.Parse()
	return cfg
}
