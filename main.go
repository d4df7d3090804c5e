package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"listingbot/internal/api"
	"listingbot/internal/bot"
	"listingbot/internal/clock"
	"listingbot/internal/config"
	"listingbot/internal/debounce"
	"listingbot/internal/dedup"
	"listingbot/internal/media"
	"listingbot/internal/pipeline"
	"listingbot/internal/redis"
	"listingbot/internal/service/extract"
	"listingbot/internal/session"
	"listingbot/internal/storage"
	"listingbot/internal/telemetry"
	"listingbot/internal/worker"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	cfg, err := config.Load(os.Getenv("LISTINGBOT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	basic := cfg.BasicConfig

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbType := os.Getenv("LISTINGBOT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	listings := storage.NewListingStore(db, dbType)

	clk := clock.Real()
	sessions := session.NewStore(clk)
	var mirror *session.Mirror
	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		mirror = session.NewMirror(rdb, 0)
		sessions.SetMirror(mirror)
		restored, err := sessions.Restore(ctx)
		if err != nil {
			log.Printf("restore drafts: %v", err)
		}
		log.Printf("restored %d drafts from redis", restored)
		// drained on shutdown, after the dispatcher, so drops from the last
		// saves and cancels reach redis
		go mirror.Run(context.Background())
		sessions.Follow(ctx)
	}

	debouncer := debounce.New(clk, time.Duration(basic.QuietPeriodMs)*time.Millisecond)
	sessions.StartSweeper(ctx,
		time.Duration(basic.SweepInterval)*time.Minute,
		time.Duration(basic.SessionIdleTTL)*time.Minute,
		debouncer.Cancel,
	)

	endpoint := cfg.Telegram.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	botAPI, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Telegram.Token, endpoint)
	if err != nil {
		log.Fatalf("connect bot api: %v", err)
	}
	botAPI.Debug = cfg.Telegram.Debug
	sender := bot.NewSender(botAPI)

	var extractor pipeline.Extractor = extract.Static{}
	if cfg.Extraction.Provider != "" {
		svc, err := extract.NewFromConfig(ctx, cfg)
		if err != nil {
			log.Fatalf("init extraction: %v", err)
		}
		extractor = svc
	}

	uploader := media.NewUploader(sender, media.Options{
		BaseDir:        cfg.Media.BaseDir,
		BaseURL:        cfg.Media.BaseURL,
		MaxConcurrency: cfg.Media.MaxConcurrency,
		MaxRetries:     cfg.Media.MaxRetries,
		RetryDelay:     time.Duration(cfg.Media.RetryDelayMs) * time.Millisecond,
	})

	tel, err := telemetry.NewManager(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Telemetry.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Sessions:  sessions,
		Debouncer: debouncer,
		Extractor: extractor,
		Uploader:  uploader,
		Dedup:     dedup.NewDetector(listings, dedup.DefaultEpsilon),
		Listings:  listings,
		Notifier:  sender,
		Telemetry: tel,
		Clock:     clk,
		Timeout:   time.Duration(basic.SaveTimeout) * time.Second,
	})
	dispatcher := worker.NewDispatcher(basic.MinWorkers, basic.MaxWorkers, basic.QueueSize,
		time.Duration(basic.WorkerIdleTimeout)*time.Minute)
	router := pipeline.NewRouter(pipeline.RouterDeps{
		Sessions:   sessions,
		Debouncer:  debouncer,
		Saver:      orchestrator,
		Runner:     dispatcher,
		Notifier:   sender,
		Listings:   listings,
		Media:      uploader,
		Telemetry:  tel,
		Clock:      clk,
		PhotoLimit: basic.PhotoLimit,
	})

	secret := basic.WebhookSecret
	if secret == "" {
		secret = uuid.NewString()
		log.Printf("webhook_secret not configured, generated one for this run")
	}
	if base := cfg.Telegram.WebhookURL; base != "" {
		wh, err := tgbotapi.NewWebhook(strings.TrimRight(base, "/") + "/webhook/" + secret)
		if err != nil {
			log.Fatalf("build webhook: %v", err)
		}
		if _, err := botAPI.Request(wh); err != nil {
			log.Fatalf("register webhook: %v", err)
		}
		log.Printf("webhook registered at %s", base)
	}

	engine := gin.Default()
	api.NewHandler(router, db, api.Options{
		Secret:   secret,
		MediaDir: cfg.Media.BaseDir,
		MediaURL: cfg.Media.BaseURL,
	}).RegisterRoutes(engine)

	srv := &http.Server{
		Addr:              basic.ServerAddress,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("listening on %s", basic.ServerAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Printf("dispatcher shutdown: %v", err)
	}
	if err := mirror.Close(shutdownCtx); err != nil {
		log.Printf("session mirror shutdown: %v", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
}
