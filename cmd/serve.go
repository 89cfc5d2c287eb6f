package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/adaptiq/internal/assessment"
	"github.com/abhisek/adaptiq/internal/coach"
	"github.com/abhisek/adaptiq/internal/config"
	"github.com/abhisek/adaptiq/internal/httpapi"
	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/llm"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assessment HTTP API",
	RunE:  runServe,
}

func init() {
	config.RegisterServeFlags(serveCmd)
	config.RegisterEngineFlags(serveCmd)
}

// runServe opens the store, builds dependencies and serves until
// interrupted.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var backend itembank.Backend
	if cfg.RedisAddr != "" {
		rb, err := itembank.NewRedisBackend(ctx, cfg.RedisAddr, cfg.CacheTTL)
		if err != nil {
			return fmt.Errorf("connect item cache: %w", err)
		}
		defer rb.Close()
		backend = rb
	}
	cache := itembank.NewCache(st.Items(), backend, logger)

	// Study plans fall back to rules without a provider.
	provider, err := llm.NewProvider(ctx, cfg.LLM, st.EventRepo(), logger)
	if err != nil {
		logger.Warn("LLM provider not configured, study plans use rules only", "error", err)
		provider = nil
	}

	svc, err := assessment.NewService(cfg.Engine,
		&itembank.CachedSource{Cache: cache, Counter: st.Items()},
		st.Attempts(),
		assessment.WithLogger(logger),
		assessment.WithQuarantine(&assessment.CacheQuarantine{Quarantine: st.Items(), Cache: cache}),
		assessment.WithCoach(coach.New(provider, coach.DefaultConfig(), logger)),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.New(svc, st.Attempts(), logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("listening", "addr", cfg.Addr, "db", cfg.DB, "shared_cache", backend != nil)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "live_attempts", svc.Live())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
