package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/cantrace/backend/internal/api"
	"github.com/cantrace/backend/internal/config"
	"github.com/cantrace/backend/internal/logger"
	"github.com/cantrace/backend/internal/parser"
	"github.com/cantrace/backend/internal/session"
	"github.com/cantrace/backend/internal/storage"
	"github.com/cantrace/backend/internal/upload"
	"github.com/labstack/echo/v4"
	"go.uber.org/automaxprocs/maxprocs"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath, err := resolveConfigPath()
	if err != nil {
		fmt.Printf("Failed to resolve config path: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		PrettyPrint: cfg.Logging.PrettyPrint,
	})

	setMaxProcs(cfg, log)

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatal().Err(err).Msg("failed to create directories")
	}

	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	sessionCfg := session.Config{
		MaxSessions:       cfg.Processing.MaxSessions,
		KeepAliveWindow:   time.Duration(cfg.Processing.SessionTimeoutMinutes) * time.Minute,
		EmptyText:         parser.EmptyTextPolicy(cfg.Processing.EmptyText),
		MaxReportedErrors: cfg.Processing.MaxReportedErrors,
	}
	if cfg.Processing.EnableFrameIndex {
		sessionCfg.IndexDir = cfg.Storage.IndexDirectory
	}
	sessionMgr := session.NewManager(sessionCfg, log)
	uploadMgr := upload.NewManager(fileStore, log)

	e := echo.New()
	api.SetupMiddleware(e, log, api.MiddlewareConfig{
		RequestLogging:   cfg.Logging.EnableRequestLogging,
		ShowErrorDetails: cfg.Server.ShowErrorDetails,
		EnableCORS:       cfg.Server.EnableCORS,
		AllowOrigins:     cfg.Server.AllowOrigins,
		BodyLimit:        cfg.Server.BodyLimit,
		Compression:      cfg.Processing.EnableCompression,
		CompressionLevel: cfg.Processing.CompressionLevel,
		RequestTimeout:   time.Duration(cfg.Server.ReadTimeout) * time.Second,
	})
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:    fileStore,
		Sessions: sessionMgr,
		Jobs:     uploadMgr,
		Log:      log,
		Version:  Version,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runCleanup(ctx, cfg, sessionMgr, uploadMgr, log)

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("config", configPath).
		Str("listen", cfg.GetServerAddr()).
		Str("data_dir", cfg.Storage.DataDirectory).
		Bool("frame_index", cfg.Processing.EnableFrameIndex).
		Msg("CANopen trace filter server starting")

	go func() {
		if err := e.StartServer(s); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	sessionMgr.Close()
}

// resolveConfigPath prefers CANTRACE_CONFIG, then cantrace.yaml next to
// the executable.
func resolveConfigPath() (string, error) {
	if p := os.Getenv("CANTRACE_CONFIG"); p != "" {
		return p, nil
	}
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exePath), "cantrace.yaml"), nil
}

func setMaxProcs(cfg *config.AppConfig, log *logger.Logger) {
	if cfg.Runtime.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.Runtime.GoMaxProcs)
		log.Info().Int("gomaxprocs", cfg.Runtime.GoMaxProcs).Msg("GOMAXPROCS set from config")
		return
	}
	if _, err := maxprocs.Set(maxprocs.Logger(log.Printf)); err != nil {
		log.Error().Err(err).Msg("failed to set automaxprocs")
	}
}

func runCleanup(ctx context.Context, cfg *config.AppConfig, sessions *session.Manager, jobs *upload.Manager, log *logger.Logger) {
	maxAge := time.Duration(cfg.Processing.SessionTimeoutMinutes) * time.Minute
	ticker := time.NewTicker(time.Duration(cfg.Processing.CleanupIntervalMinutes) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := sessions.CleanupOldSessions(maxAge); n > 0 {
				log.Info().Int("removed", n).Msg("expired sessions removed")
			}
			jobs.CleanupOldJobs(maxAge)
		case <-ctx.Done():
			return
		}
	}
}
