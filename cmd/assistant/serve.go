package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aethrix-hub/assistant/internal/config"
	"github.com/aethrix-hub/assistant/internal/handlers"
	"github.com/aethrix-hub/assistant/internal/i18n"
	"github.com/aethrix-hub/assistant/internal/middleware"
	"github.com/aethrix-hub/assistant/internal/services/ai"
	"github.com/aethrix-hub/assistant/internal/services/auth"
	"github.com/aethrix-hub/assistant/internal/services/chat"
	settingscfg "github.com/aethrix-hub/assistant/internal/services/config"
	"github.com/aethrix-hub/assistant/internal/services/knowledge"
	"github.com/aethrix-hub/assistant/internal/services/prompt"
	"github.com/aethrix-hub/assistant/internal/services/rotation"
	"github.com/aethrix-hub/assistant/internal/services/storage"
	"github.com/aethrix-hub/assistant/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout      = 10 * time.Second
	limiterSweepInterval = 10 * time.Minute
	writeTimeoutMargin   = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, v, log, err := loadRuntime()
	if err != nil {
		return err
	}

	log.Info("Starting assistant...")

	// Log level follows the config file
	v.OnConfigChange(func(e fsnotify.Event) {
		level := v.GetString("logging.level")
		if err := logger.SetLevel(log, level); err != nil {
			log.WithError(err).Warn("Ignoring invalid log level")
			return
		}
		log.WithFields(logrus.Fields{"file": e.Name, "level": level}).Info("Config reloaded")
	})
	v.WatchConfig()

	storageManager, err := storage.NewManager(cfg, log)
	if err != nil {
		return err
	}
	defer storageManager.Close()

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		return err
	}

	ledger, err := rotation.NewLedgerStore(cfg, storageManager.GetRedisClient(), log)
	if err != nil {
		return err
	}
	selector := rotation.NewSelector(ledger, log)

	sessions, err := auth.NewSessionResolver(cfg, storageManager.GetRedisClient(), log)
	if err != nil {
		return err
	}

	metrics := middleware.NewMetrics()
	storageManager.SetObserver(metrics.RecordStorageOperation)

	settings := settingscfg.NewSettingsService(cfg.Data.Dir, cfg.Chat.DefaultEndpoint, log)
	client := ai.NewClient(nil, log)
	composer := prompt.NewComposer(knowledge.NewFileStore(cfg.Data.Dir, log), cfg.Chat.PersonaName, log)
	relay := chat.NewRelay(cfg.Chat, selector, composer, client, storageManager, localizer, metrics, log)
	rateLimiter := middleware.NewRateLimiter(cfg, log)

	chatHandler := handlers.NewChatHandler(
		relay,
		settings,
		sessions,
		storageManager,
		rateLimiter,
		metrics,
		localizer,
		cfg.Auth.CookieName,
		cfg.Chat.Language,
		log,
	)
	adminHandler := handlers.NewAdminHandler(
		settings,
		client,
		auth.NewAdminVerifier(cfg.Admin.JWTSecret),
		localizer,
		cfg.Chat.Language,
		log,
	)
	if cfg.Admin.JWTSecret == "" {
		log.Warn("admin.jwt_secret is empty, admin endpoints will reject every request")
	}

	servers := []*http.Server{{
		Addr:         cfg.Server.Addr,
		Handler:      handlers.NewRouter(chatHandler, adminHandler, metrics, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: serverWriteTimeout(cfg.Server.WriteTimeout),
	}}
	if cfg.Monitoring.Metrics.Enabled {
		log.WithFields(logrus.Fields{
			"port": cfg.Monitoring.Metrics.Port,
			"path": cfg.Monitoring.Metrics.Path,
		}).Info("Starting metrics server")
		servers = append(servers, middleware.NewMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		g.Go(func() error {
			log.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	g.Go(func() error {
		rateLimiter.Run(gctx, limiterSweepInterval)
		return nil
	})

	g.Go(func() error {
		startPruning(gctx, selector, cfg.Rotation, log)
		return nil
	})

	err = g.Wait()
	log.Info("Assistant stopped")
	return err
}

// startPruning drops idle ledger entries every prune interval
// serverWriteTimeout keeps the API server from cutting a reply off while the
// upstream call is still inside the longest timeout an admin may set.
func serverWriteTimeout(configured time.Duration) time.Duration {
	floor := time.Duration(settingscfg.MaxTimeoutMs)*time.Millisecond + writeTimeoutMargin
	if configured < floor {
		return floor
	}
	return configured
}

func startPruning(ctx context.Context, selector *rotation.Selector, cfg config.RotationConfig, log *logrus.Logger) {
	if cfg.MaxIdle <= 0 || cfg.PruneInterval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := selector.Prune(ctx, cfg.MaxIdle)
			if err != nil {
				log.WithError(err).Error("Failed to prune rotation ledger")
				continue
			}
			if removed > 0 {
				log.WithField("removed", removed).Info("Pruned idle rotation ledger entries")
			}
		}
	}
}
