package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"inkwell/api/internal/app"
	"inkwell/api/internal/archive"
	"inkwell/api/internal/auth"
	"inkwell/api/internal/config"
	"inkwell/api/internal/email"
	"inkwell/api/internal/export"
	"inkwell/api/internal/graph"
	"inkwell/api/internal/history"
	"inkwell/api/internal/realtime"
	"inkwell/api/internal/search"
	"inkwell/api/internal/session"
	"inkwell/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalw("migrations failed", "error", err)
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		log.Fatalw("failed to create history dir", "dir", cfg.HistoryDir, "error", err)
	}

	dataStore := store.NewPostgresStore(db)
	historyService := history.New(cfg.HistoryDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, log)
	searchService.ReindexAll()

	var sessions app.SessionStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL, dataStore)
		if err != nil {
			log.Fatalw("redis connection failed", "error", err)
		}
		defer redisStore.Close()
		sessions = redisStore
		log.Infow("refresh sessions in redis")
	} else {
		log.Infow("refresh sessions in postgres")
	}

	var archiveService *archive.Service
	if strings.TrimSpace(cfg.ArchiveEndpoint) != "" {
		archiveService, err = archive.New(ctx, archive.Config{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		}, log)
		if err != nil {
			log.Fatalw("archive connection failed", "error", err)
		}
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	hub := realtime.NewHub(log)
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	service := app.New(app.Deps{
		Store:    dataStore,
		Sessions: sessions,
		Hub:      hub,
		Exporter: export.NewService(),
		Email:    mailer,
		History:  historyService,
		Search:   searchService,
		Archive:  archiveService,
	},
		auth.NewCodec(cfg.AuthSecret, cfg.AccessTTL),
		auth.NewCodec(cfg.InviteSecret, cfg.InviteTTL),
		cfg.AccessTTL,
		cfg.RegistrationURL,
		log,
	)

	graphService, err := graph.NewService(service)
	if err != nil {
		log.Fatalw("graphql schema failed", "error", err)
	}

	httpServer := app.NewHTTPServer(service, graphService, hub, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Infow("inkwell api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown error", "error", err)
	}
}
