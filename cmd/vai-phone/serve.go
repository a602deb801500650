package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-phone/pkg/core/voice"
	"github.com/vango-go/vai-phone/pkg/core/voice/deepgram"
	"github.com/vango-go/vai-phone/pkg/gateway/agentconfig"
	"github.com/vango-go/vai-phone/pkg/gateway/config"
	"github.com/vango-go/vai-phone/pkg/gateway/live/session"
	"github.com/vango-go/vai-phone/pkg/gateway/metrics"
	gatewayserver "github.com/vango-go/vai-phone/pkg/gateway/server"
	"github.com/vango-go/vai-phone/pkg/gateway/store"
	"github.com/vango-go/vai-phone/pkg/gateway/summarize"
	"github.com/vango-go/vai-phone/pkg/gateway/sweeper"
	"github.com/vango-go/vai-phone/pkg/gateway/tools"
)

type serveDeps struct {
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and media-stream server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			return runServe(cmd.Context(), cfg, logger, defaultServeDeps())
		},
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

// buildSummarizer returns nil when no Gemini key is configured.
func buildSummarizer(ctx context.Context, cfg config.Config, st summarize.Store, logger *slog.Logger) (*summarize.Service, error) {
	if !cfg.SummariesEnabled() {
		logger.Info("conversation summaries disabled", "reason", "no gemini api key")
		return nil, nil
	}
	gen, err := summarize.NewGemini(ctx, summarize.GeminiConfig{APIKey: cfg.GeminiAPIKey, Model: cfg.SummaryModel})
	if err != nil {
		return nil, err
	}
	return summarize.New(summarize.Config{
		Store:     st,
		Generator: gen,
		Timeout:   cfg.SummaryTimeout,
		Logger:    logger.With("component", "summarize"),
	})
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger, deps serveDeps) error {
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.DeepgramAPIKey) == "" {
		return fmt.Errorf("VAI_PHONE_DEEPGRAM_API_KEY is required")
	}

	st, err := store.Open(ctx, store.Options{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseDSN, Logger: logger})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	m := metrics.New(metrics.DefaultNamespace)
	registry, err := tools.NewDefaultRegistry(st)
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	logger.Info("tools registered", "tools", registry.Names())
	executor := tools.NewExecutor(tools.ExecutorConfig{
		Registry: registry,
		Calls:    st,
		Observer: m,
		Logger:   logger.With("component", "tools"),
	})
	builder := agentconfig.NewBuilder(agentconfig.Config{
		Data:             st,
		Registry:         registry,
		BusinessName:     cfg.BusinessName,
		DefaultVoice:     cfg.DefaultVoice,
		ListenModel:      cfg.ListenModel,
		ThinkProvider:    cfg.ThinkProvider,
		ThinkModel:       cfg.ThinkModel,
		ThinkTemperature: cfg.ThinkTemperature,
		Logger:           logger,
	})
	speech := deepgram.NewClient(deepgram.ClientConfig{
		APIKey:           cfg.DeepgramAPIKey,
		URL:              cfg.DeepgramURL,
		HandshakeTimeout: cfg.WSHandshakeTimeout,
		WriteTimeout:     cfg.WSWriteTimeout,
		Logger:           logger,
	})

	summaries, err := buildSummarizer(ctx, cfg, st, logger)
	if err != nil {
		return fmt.Errorf("build summarizer: %w", err)
	}
	var summarizer session.Summarizer
	if summaries != nil {
		summarizer = summaries
	}

	gw := gatewayserver.New(cfg, gatewayserver.Deps{
		Store:      st,
		Recorder:   voice.NewRecorder(cfg.AudioDir),
		Speech:     session.DeepgramDialer{Client: speech},
		Settings:   builder,
		Tools:      executor,
		Summarizer: summarizer,
		Metrics:    m,
	}, logger)

	sweep, err := sweeper.New(sweeper.Config{
		Store:      st,
		Live:       gw.Sessions(),
		Summarizer: summarizer,
		Observer:   m,
		StaleAfter: cfg.StaleAfter,
		Schedule:   cfg.SweepSchedule,
		Logger:     logger.With("component", "sweeper"),
	})
	if err != nil {
		return fmt.Errorf("build sweeper: %w", err)
	}
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweep.Run(sweepCtx)
	}()
	defer func() {
		stopSweep()
		<-sweepDone
	}()

	httpSrv := buildHTTPServer(cfg, gw.Handler())
	logger.Info("starting phone gateway",
		"addr", cfg.Addr,
		"database", cfg.DatabaseDriver,
		"audio_dir", cfg.AudioDir,
		"summaries", summaries != nil,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context done, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	gw.WarnLiveSessionsDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		gw.CancelLiveSessions()
		// Cancelled calls still end their conversations.
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), cfg.PersistTimeout)
		gw.WaitLiveSessions(cleanupCtx)
		cleanupCancel()
	}

	if summaries != nil {
		sumCtx, sumCancel := context.WithTimeout(context.Background(), cfg.SummaryTimeout)
		if !summaries.Wait(sumCtx) {
			logger.Warn("pending summaries abandoned at shutdown")
		}
		sumCancel()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("phone gateway stopped")
	return nil
}
