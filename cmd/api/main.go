package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"authcore.io/internal/auth"
	"authcore.io/internal/config"
	"authcore.io/internal/httpapi"
	"authcore.io/internal/obs"
)

var version = "0.3.0"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(redisOpts)

	codec, err := auth.NewCodec(cfg.AuthSecret, cfg.Issuer, nil)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	store := auth.NewPGStore(db)
	issuer := auth.NewIssuer(codec, auth.NewRedisFamilyStore(rdb),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	sender := auth.NewSendGuard(logSender(), cfg.DailySendCap, nil)
	verification := auth.NewVerificationService(
		store.Verifications(context.Background()),
		auth.NewRedisVerificationCache(rdb),
		sender,
		auth.WithCodeLength(cfg.CodeLength),
		auth.WithCodeExpiry(cfg.CodeExpiry),
		auth.WithMaxAttempts(cfg.MaxAttempts),
		auth.WithCooldown(cfg.CooldownSeconds),
	)
	sessions := auth.NewSessionTracker(store.Sessions(context.Background()), nil)
	svc := auth.NewService(store, issuer, verification, sessions)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, svc, version)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting authcore-api %s on %s", version, srv.Addr)

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
	_ = db.Close()
	_ = rdb.Close()
	log.Println("Stopped")
}

// logSender stands in for a real email/SMS gateway in development; the
// delivery boundary is an injected interface either way.
func logSender() auth.Sender {
	return auth.SenderFunc(func(ctx context.Context, target, message string) error {
		obs.Info("verification.send", map[string]any{"target": target})
		return nil
	})
}
