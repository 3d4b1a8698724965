package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pomaidb/keyspace/internal/keyspace/keyspace"
	"github.com/pomaidb/keyspace/internal/keyspace/object"
)

// noopSink discards propagation effects. A real deployment wires Feed and
// AlsoPropagate to an AOF writer or replication link (spec.md §4.8) — out
// of scope here, so this daemon just proves the cron loop and metrics
// endpoint work end to end.
type noopSink struct{}

func (noopSink) Feed(dbID int, argv []string)              {}
func (noopSink) AlsoPropagate(dbID int, targets [][]string) {}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or failed to load, relying on system env vars")
	} else {
		log.Println("Loaded environment variables from .env")
	}

	var (
		portEnv       = getEnv("PORT", "9121")
		numDBsEnv     = getEnv("NUM_DATABASES", "16")
		tickMsEnv     = getEnv("TICK_INTERVAL_MS", "100")
		rehashEnv     = getEnv("REHASH_BUCKETS_PER_TICK", "20")
		accessModeEnv = getEnv("ACCESS_MODE", "lru")
		clusterEnv    = getEnv("CLUSTER_ENABLED", "false")
		replicaEnv    = getEnv("IS_REPLICA", "false")

		addrFlag    = flag.String("addr", ":"+portEnv, "metrics listen address")
		numDBsFlag  = flag.Int("numdbs", atoiDefault(numDBsEnv, 16), "number of logical databases")
		tickFlag    = flag.Int("tick", atoiDefault(tickMsEnv, 100), "cron tick interval, milliseconds")
		rehashFlag  = flag.Int("rehash", atoiDefault(rehashEnv, 20), "rehash buckets migrated per database per tick")
		gracefulSec = getEnv("GRACEFUL_SHUTDOWN_SEC", "10")
	)
	flag.Parse()

	accessMode := accessModeFromString(accessModeEnv)

	cfg := keyspace.Config{
		NumDatabases:   *numDBsFlag,
		AccessMode:     accessMode,
		IsReplica:      replicaEnv == "true",
		ClusterEnabled: clusterEnv == "true",
		Notify: func(event, key string, dbID int) {
			log.Printf("[notify] db=%d event=%s key=%s", dbID, event, key)
		},
	}

	ks := keyspace.New(cfg, noopSink{})
	log.Printf("keyspace started: %d databases, access_mode=%s, cluster=%v", *numDBsFlag, accessModeEnv, cfg.ClusterEnabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ticker := time.NewTicker(time.Duration(*tickFlag) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(time.Duration(*tickFlag) * time.Millisecond / 2)
				ks.Tick(*rehashFlag, deadline)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:         *addrFlag,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Listen error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(atoiDefault(gracefulSec, 10))*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Bye!")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func atoiDefault(s string, defaultValue int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultValue
}

func accessModeFromString(s string) object.AccessMode {
	if s == "lfu" {
		return object.AccessModeLFU
	}
	return object.AccessModeLRU
}
