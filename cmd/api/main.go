package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"gridboard/api/internal/app"
	"gridboard/api/internal/assets"
	"gridboard/api/internal/cache"
	"gridboard/api/internal/config"
	"gridboard/api/internal/dashboard"
	"gridboard/api/internal/migrate"
	"gridboard/api/internal/sanitize"
	"gridboard/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	// A store at an unknown schema revision must not serve traffic.
	if err := migrate.NewRunner(db).Upgrade(ctx); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	media, geodata, err := buildAssetStores(ctx, cfg)
	if err != nil {
		log.Fatalf("asset storage failed: %v", err)
	}

	var listCache *cache.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		listCache, err = cache.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer listCache.Close()
		log.Printf("list caching enabled")
	}

	service := dashboard.New(store.NewPostgresStore(db), sanitize.NewHTML(), media, geodata, listCache, cfg.MediaURL)
	httpServer := app.NewHTTPServer(service, app.HeaderIdentity, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("gridboard API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func buildAssetStores(ctx context.Context, cfg config.Config) (assets.Store, assets.Store, error) {
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		log.Printf("using object storage at %s", cfg.S3Endpoint)
		s3, err := assets.NewS3Store(ctx, assets.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return prefixed(s3, "media"), prefixed(s3, "json"), nil
	}

	media, err := assets.NewFSStore(cfg.MediaDir)
	if err != nil {
		return nil, nil, err
	}
	geodata, err := assets.NewFSStore(cfg.JSONDir)
	if err != nil {
		return nil, nil, err
	}
	return media, geodata, nil
}

// prefixed namespaces one asset store inside a shared bucket.
func prefixed(inner assets.Store, prefix string) assets.Store {
	return prefixStore{inner: inner, prefix: prefix}
}

type prefixStore struct {
	inner  assets.Store
	prefix string
}

func (p prefixStore) key(key string) string { return path.Join(p.prefix, key) }

func (p prefixStore) Write(ctx context.Context, key string, data []byte) error {
	return p.inner.Write(ctx, p.key(key), data)
}

func (p prefixStore) Read(ctx context.Context, key string) ([]byte, error) {
	return p.inner.Read(ctx, p.key(key))
}

func (p prefixStore) Exists(ctx context.Context, key string) (bool, error) {
	return p.inner.Exists(ctx, p.key(key))
}

func (p prefixStore) Copy(ctx context.Context, sourceKey, destKey string) error {
	return p.inner.Copy(ctx, p.key(sourceKey), p.key(destKey))
}

func (p prefixStore) Delete(ctx context.Context, key string) error {
	return p.inner.Delete(ctx, p.key(key))
}

func (p prefixStore) List(ctx context.Context, prefix string) ([]string, error) {
	return p.inner.List(ctx, p.key(prefix))
}
