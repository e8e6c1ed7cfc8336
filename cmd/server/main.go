package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"
	"go.uber.org/zap"

	"memo-sync/internal/config"
	"memo-sync/internal/handler"
	"memo-sync/internal/repository"
	"memo-sync/internal/service"
	"memo-sync/internal/websocket"
	"memo-sync/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	lg, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("Failed to open note store", zap.String(logger.FieldBackend, cfg.Storage.Backend), zap.Error(err))
	}
	defer store.Close()

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
		lg.Named("ws"),
	)
	wsManager.SetMaxMessageSize(cfg.WebSocket.MaxMessageSize)
	go wsManager.Run(ctx)

	authService, err := service.NewAuthService(cfg.Admin.Username, cfg.Admin.Password, cfg.JWT.Secret, cfg.JWT.Expiration)
	if err != nil {
		lg.Fatal("Failed to configure authentication", zap.Error(err))
	}
	statsService := service.NewStatsService(store)
	noteService := service.NewNoteService(store, statsService, wsManager, lg.Named("notes"))

	r := handler.NewRouter(
		handler.RouterConfig{
			JWTSecret:      cfg.JWT.Secret,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: cfg.CORS.AllowedMethods,
			AllowedHeaders: cfg.CORS.AllowedHeaders,
			Logger:         lg.Named("http"),
		},
		handler.NewAuthHandler(authService),
		handler.NewNoteHandler(noteService, lg),
		handler.NewStatsHandler(statsService, lg),
		handler.NewWebSocketHandler(wsManager, cfg.JWT.Secret, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize, lg),
	)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		lg.Info("Starting memo-sync server",
			zap.String("addr", addr),
			zap.String("env", cfg.Server.Env),
			zap.String(logger.FieldBackend, cfg.Storage.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()

	lg.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	lg.Info("Server stopped gracefully")
}

func openStore(ctx context.Context, cfg *config.Config, lg *zap.Logger) (repository.NoteStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendGit:
		return repository.NewGitStore(repository.GitStoreConfig{
			Dir:         cfg.Git.RepoDir,
			RemoteURL:   cfg.Git.RemoteURL,
			Username:    cfg.Git.Username,
			Password:    cfg.Git.Password,
			Branch:      cfg.Git.Branch,
			AuthorName:  cfg.Git.AuthorName,
			AuthorEmail: cfg.Git.AuthorEmail,
		}, lg.Named("git"))

	case config.BackendCouchDB:
		couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Host,
			cfg.Database.Port,
		)
		client, err := kivik.New("couch", couchURL)
		if err != nil {
			return nil, fmt.Errorf("connect to CouchDB: %w", err)
		}
		lg.Info("Connected to CouchDB", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.Name))
		return repository.NewCouchStore(ctx, client, cfg.Database.Name)

	default:
		return repository.NewFileStore(cfg.Storage.DataDir)
	}
}
