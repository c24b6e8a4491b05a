package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nortal/cmz-chatbots/internal/config"
	"github.com/nortal/cmz-chatbots/internal/guardrails"
	"github.com/nortal/cmz-chatbots/internal/jobs"
	"github.com/nortal/cmz-chatbots/internal/profile"
	"github.com/nortal/cmz-chatbots/internal/server"
	"github.com/nortal/cmz-chatbots/internal/tenant"
	"github.com/nortal/cmz-chatbots/internal/validator"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with scheduled retention jobs",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var cl closers
	defer cl.Close()

	store, err := openGuardrails(cfg)
	if err != nil {
		return err
	}
	cl.add(store.Close)
	if n, err := store.CountActive(ctx, guardrails.Scope{}); err == nil && n == 0 {
		log.Warn().Msg("no default guardrails configuration; run 'cmz guardrails apply --default' before serving traffic")
	}
	resolver := guardrails.NewResolver(store, guardrails.DefaultPropagationDelay)

	astore, closeStore, err := openAnalyticsStore(cfg)
	if err != nil {
		return fmt.Errorf("initializing analytics: %w", err)
	}
	cl.add(closeStore)
	agg := newAggregator(cfg, astore)
	emitter, err := newEmitter(cfg, agg, &cl)
	if err != nil {
		return err
	}

	v, err := newValidator(ctx, cfg, resolver, validator.WithEventSink(emitter))
	if err != nil {
		return err
	}

	completion, err := newCompletion(cfg)
	if err != nil {
		return fmt.Errorf("completion provider: %w", err)
	}
	profiles, pstore, err := openProfiles(cfg, completion)
	if err != nil {
		return err
	}
	cl.add(pstore.Close)

	scheduler, err := retentionScheduler(cfg, agg, pstore)
	if err != nil {
		return err
	}
	scheduler.RunNow()
	scheduler.Start()
	defer scheduler.Stop()

	keys := apiKeys(cfg)
	if len(keys) == 0 {
		log.Warn().Msg("CMZ_API_KEYS not set; all /v1 endpoints will return 401")
	}

	srv := server.NewServer(v, agg, store, resolver, profiles, keys,
		server.WithLimiter(tenant.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)))

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("analytics_backend", cfg.Analytics.Backend).
		Str("analytics_transport", cfg.Analytics.Transport).
		Bool("completion", completion != nil).
		Int("cron_entries", scheduler.Entries()).
		Msg("cmz_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}

type pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// retentionScheduler registers analytics and archive retention on the
// configured schedule.
func retentionScheduler(cfg *config.Config, analyticsPruner pruner, archives *profile.Store) (*jobs.Scheduler, error) {
	s := jobs.NewScheduler()
	err := s.Register("analytics_retention", cfg.Retention.Schedule, func(ctx context.Context) error {
		_, err := analyticsPruner.Prune(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	archiveRetention := time.Duration(cfg.Retention.ArchiveDays) * 24 * time.Hour
	err = s.Register("archive_retention", cfg.Retention.Schedule, func(ctx context.Context) error {
		profile.RunRetention(ctx, archives, archiveRetention)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
