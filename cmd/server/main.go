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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/voicebot/internal/adapters/http"
	"github.com/dkeye/voicebot/internal/adapters/grpcsignal"
	"github.com/dkeye/voicebot/internal/adapters/rtc"
	bridge "github.com/dkeye/voicebot/internal/adapters/signal"
	"github.com/dkeye/voicebot/internal/app"
	"github.com/dkeye/voicebot/internal/app/orch"
	"github.com/dkeye/voicebot/internal/auth"
	"github.com/dkeye/voicebot/internal/config"
	"github.com/dkeye/voicebot/internal/handler"
)

func main() {
	os.Exit(run())
}

func setupLogger(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Err(err).Str("level", cfg.LogLevel).Msg("bad log level, using info")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return 2
	}
	setupLogger(cfg)
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid config")
		return 2
	}

	tokens := auth.NewTokenProvider(auth.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scope:        cfg.TokenScope,
	})
	cc, err := grpcsignal.Dial(grpcsignal.Config{
		Target:    cfg.GRPCTarget,
		Tokens:    tokens,
		Insecure:  cfg.GRPCInsecure,
		Keepalive: cfg.GRPCKeepalive,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create signaling client")
		return 1
	}
	defer cc.Close()

	// The stream outlives ctx so the bridge, not the signal, decides when it closes.
	streamCtx, streamCancel := context.WithCancel(context.Background())
	defer streamCancel()
	stream, err := grpcsignal.Open(streamCtx, cc, cfg.MSISDN)
	if err != nil {
		log.Error().Err(err).Msg("failed to open signaling stream")
		return 1
	}

	media, err := rtc.NewTransport(rtc.Config{})
	if err != nil {
		log.Error().Err(err).Msg("failed to set up media transport")
		return 1
	}

	template := handler.NewTemplate(handler.Options{
		OpenAI: handler.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel, URL: cfg.OpenAIURL},
		Gemini: handler.GeminiConfig{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel, Voice: cfg.GeminiVoice},
	})
	reg := app.NewRegistry(template, app.SessionConfig{
		QueueSize:       cfg.QueueSize,
		ShutdownTimeout: cfg.HandlerShutdownTimeout,
	})
	outbox := bridge.NewOutboundQueue()
	o := orch.New(reg, media, app.ByePolicy{OnFailure: cfg.SendByeOnFailure}, outbox, cfg.NegotiationTimeout)

	limiter := bridge.NewOfferLimiter(cfg.OfferRateLimit, cfg.OfferRateWindow)
	b := bridge.NewBridge(stream, o, outbox, limiter)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.SetupRouter(cfg, o),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("backend", cfg.Backend()).Msg("voicebot started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("status server forced to shutdown")
		}
		return nil
	})
	runErr := g.Wait()

	log.Info().Int("calls", reg.Len()).Msg("shutting down, closing calls")
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer drainCancel()
	if err := o.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("calls did not close in time")
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("exiting after fatal error")
		return 1
	}
	log.Info().Msg("voicebot exited gracefully")
	return 0
}
