package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/prokashpul/prompts/core"
	"github.com/prokashpul/prompts/core/llm"
	"github.com/prokashpul/prompts/platforms/discord"
	"github.com/prokashpul/prompts/platforms/matrix"
)

func loadDotEnv(logger zerolog.Logger) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Err(err).Msg("failed to load .env")
	}
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "gen" {
		os.Exit(runGen(os.Args[2:], os.Stdout, os.Stderr))
	}

	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	flag.Parse()

	loadDotEnv(newLogger(LogConfig{}, os.Stderr))

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("bot stopped")
	}
	logger.Info().Msg("bye")
}

func run(ctx context.Context, cfg *Config, logger zerolog.Logger) error {
	adapter := llm.New(cfg.LLM, llm.WithLogger(logger.With().Str("component", "llm").Logger()))
	if !adapter.NativeKeyAvailable() {
		logger.Warn().Msg("GEMINI_API_KEY is not set; gemini requests will fail until it is")
	}

	defaultProvider, _ := llm.ParseProvider(cfg.LLM.DefaultProvider)
	keys, err := core.NewKeyStore(cfg.Keys, core.Settings{Provider: defaultProvider, Count: cfg.LLM.DefaultCount}, logger.With().Str("component", "keys").Logger())
	if err != nil {
		return err
	}
	defer func() {
		if err := keys.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to save key store")
		}
	}()

	limiter := core.NewRateLimiter(cfg.Bot.RatePerMinute, cfg.Bot.RateBurst)
	limiter.StartCleanup(ctx)

	bot := core.NewBot(adapter, &cfg.Bot, keys, core.NewHistoryManager(cfg.Bot.HistorySize), limiter, logger.With().Str("component", "bot").Logger())
	bot.OperatorKeys = cfg.OperatorKeys()
	core.RegisterDefaultCommands(bot)

	if cfg.Metrics.ListenAddr != "" {
		go serveMetrics(ctx, cfg.Metrics.ListenAddr, logger)
	}

	if !cfg.Matrix.Enabled && !cfg.Discord.Enabled {
		return errors.New("no platform enabled; set matrix.enabled or discord.enabled")
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	if cfg.Discord.Enabled {
		da, err := discord.NewDiscordAdapter(cfg.Discord, bot, logger)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		if err := da.Start(ctx); err != nil {
			return err
		}
		defer da.Close()
	}

	if cfg.Matrix.Enabled {
		ma, err := startMatrix(ctx, cfg, bot, logger)
		if err != nil {
			return fmt.Errorf("matrix: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ma.Start(ctx); err != nil {
				errs <- fmt.Errorf("matrix: %w", err)
			}
		}()
	}

	logger.Info().Str("name", cfg.Bot.Name).Str("default_provider", cfg.LLM.DefaultProvider).Msg("bot running")

	select {
	case <-ctx.Done():
	case err := <-errs:
		return err
	}
	wg.Wait()
	return nil
}

func startMatrix(ctx context.Context, cfg *Config, bot *core.Bot, logger zerolog.Logger) (*matrix.MatrixAdapter, error) {
	log := logger.With().Str("platform", "matrix").Logger()

	client, err := matrix.GetMatrixClient(ctx, &cfg.Matrix, log)
	if err != nil {
		return nil, fmt.Errorf("auth failed: %w", err)
	}
	log.Info().Str("user", cfg.Matrix.UserID).Str("device", string(client.DeviceID)).Msg("logged in")

	if err := matrix.InitCrypto(ctx, client, cfg.Matrix.CryptoDBPath, cfg.Matrix.PickleKey, log); err != nil {
		return nil, err
	}

	if name := cfg.Matrix.DisplayName; name != "" {
		if err := client.SetDisplayName(ctx, name); err != nil {
			log.Warn().Err(err).Msg("failed to set display name")
		}
	}

	return matrix.NewMatrixAdapter(client, bot, cfg.Matrix.AutoJoinInvites, logger), nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}
