package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"equiptrack.org/internal/directory"
	"equiptrack.org/internal/httpapi"
	"equiptrack.org/internal/inventory"
	"equiptrack.org/internal/obs"
	"equiptrack.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		inv inventory.Service
		dir directory.Store
		rp  httpapi.ReadyProbe
	)
	if dsn := os.Getenv("EQUIPTRACK_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		inv = store
		dir = store
		rp = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		// in-memory stores for local development; state is lost on restart
		log.Println("EQUIPTRACK_PG_DSN not set, using in-memory stores")
		inv = inventory.NewInMemory()
		dir = directory.NewInMemory()
	}

	api := httpapi.New(rp, version, inv, dir)

	handler := httpapi.MaxBodyBytes(api.Handler(), 1<<20)
	handler = httpapi.RateLimit(handler, envInt("EQUIPTRACK_RATE_BURST", 50), envInt("EQUIPTRACK_RATE_PER_SEC", 25))
	handler = httpapi.CORS(handler)
	handler = httpapi.SecurityHeaders(handler)

	addr := os.Getenv("EQUIPTRACK_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting equiptrack-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return v
}
