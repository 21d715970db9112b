package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imi-storefront/internal/importer"
	"imi-storefront/internal/seed"
	"imi-storefront/internal/testkit/fakebackend"
)

// fakebackend serves the in-memory commerce backend for local development.
func main() {
	var (
		addr     string
		catalog  string
		discount int64
	)
	flag.StringVar(&addr, "addr", ":5000", "listen address; the API lives under /api")
	flag.StringVar(&catalog, "catalog", "", "path to a catalog CSV export (demo catalog when empty)")
	flag.Int64Var(&discount, "discount", 0, "online payment discount percent")
	flag.Parse()

	logger := log.New(os.Stdout, "[fakebackend] ", log.LstdFlags|log.LUTC|log.Lshortfile)
	backend := fakebackend.NewUnstarted()
	backend.SetDiscount(discount)

	if catalog == "" {
		logger.Printf("seeded %d demo products", seed.Apply(backend))
	} else {
		f, err := os.Open(catalog)
		if err != nil {
			logger.Fatalf("open catalog: %v", err)
		}
		start := time.Now()
		count, err := importer.NewCSVImporter(f, backend).Run(context.Background())
		f.Close()
		if err != nil {
			logger.Fatalf("import catalog: %v", err)
		}
		logger.Printf("imported %d products in %s", count, time.Since(start).Truncate(time.Millisecond))
	}

	srv := &http.Server{Addr: addr, Handler: backend.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Printf("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
