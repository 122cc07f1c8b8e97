package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"golang.org/x/sync/errgroup"

	githubadapter "github.com/aaaAlexanderaaa/my-gitstars/internal/adapter/driven/github"
	sqliteadapter "github.com/aaaAlexanderaaa/my-gitstars/internal/adapter/driven/sqlite"
	httphandler "github.com/aaaAlexanderaaa/my-gitstars/internal/adapter/driving/http"
	"github.com/aaaAlexanderaaa/my-gitstars/internal/application"
	"github.com/aaaAlexanderaaa/my-gitstars/internal/config"
	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"sync_interval", cfg.SyncInterval,
		"version_interval", cfg.VersionInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open database (dual reader/writer with WAL mode) and migrate on the
	// writer connection.
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("database ready", "path", cfg.DBPath)

	userStore := sqliteadapter.NewUserRepo(db)
	repoStore := sqliteadapter.NewRepoRepo(db)
	releaseStore := sqliteadapter.NewReleaseRepo(db)
	statusStore := sqliteadapter.NewSyncStatusRepo(db)

	// One GitHub client per user token; the factory hides the transport
	// stack (oauth2, rate-limit handling, response cache) from the services.
	factory := application.GitHubClientFactory(func(token string) driven.GitHubClient {
		return githubadapter.NewClient(token)
	})

	releaseSvc := application.NewReleaseService(userStore, repoStore, releaseStore, factory, application.ReleaseOptions{})
	syncSvc := application.NewSyncService(userStore, repoStore, statusStore, releaseSvc, factory, application.SyncOptions{})

	scheduler := application.NewScheduler(userStore, repoStore, statusStore, syncSvc, releaseSvc, application.SchedulerConfig{
		StartupDelay:       cfg.StartupDelay,
		SyncInterval:       cfg.SyncInterval,
		VersionInterval:    cfg.VersionInterval,
		FailureBackoff:     cfg.FailureBackoff,
		AuthFailureBackoff: cfg.AuthFailureBackoff,
		VersionTrackingTag: cfg.VersionTrackingTag,
	})
	scheduler.Start()
	defer scheduler.Stop()

	handler := httphandler.NewHandler(syncSvc, releaseSvc, slog.Default())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("shutdown complete")
	return nil
}
