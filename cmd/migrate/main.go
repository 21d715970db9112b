package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"imi-storefront/internal/config"
	"imi-storefront/internal/db"
	"imi-storefront/internal/migrate"
)

func main() {
	var (
		down    int
		version bool
	)
	flag.IntVar(&down, "down", 0, "roll back this many migrations instead of applying")
	flag.BoolVar(&version, "version", false, "print the applied schema version and exit")
	flag.Parse()

	logger := log.New(os.Stdout, "[migrate] ", log.LstdFlags|log.LUTC|log.Lshortfile)
	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !strings.HasPrefix(cfg.StoreDSN, "postgres://") && !strings.HasPrefix(cfg.StoreDSN, "postgresql://") {
		logger.Fatalf("SESSION_STORE_DSN must be a postgres url; other stores create their schema on open")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.StoreDSN)
	if err != nil {
		logger.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	switch {
	case version:
		v, dirty, err := migrate.Version(ctx, pool)
		if err != nil {
			logger.Fatalf("read version: %v", err)
		}
		logger.Printf("schema version=%d dirty=%t", v, dirty)
	case down > 0:
		if err := migrate.Rollback(ctx, pool, down); err != nil {
			logger.Fatalf("roll back migrations: %v", err)
		}
		logger.Printf("rolled back %d migration(s)", down)
	default:
		if err := migrate.Apply(ctx, pool); err != nil {
			logger.Fatalf("apply migrations: %v", err)
		}
		logger.Println("migrations applied")
	}
}
