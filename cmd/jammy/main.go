// Package main provides the Jammy service entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"jammy/internal/auth"
	"jammy/internal/core"
	httpserver "jammy/internal/http"
	"jammy/internal/library"
	"jammy/internal/player"
	"jammy/internal/recommend"
	"jammy/internal/spotify"
	"jammy/internal/store"
)

const defaultServerHost = "0.0.0.0"

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "jammy",
	Short: "Jammy - Spotify playback and recommendation service",
	Long: `Jammy authorizes against the Spotify accounts service with PKCE, plays
tracks on the user's active device (falling back to preview clips for free
accounts) and fetches popularity-tuned recommendations.`,
	RunE: runJammy,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("spotify-client-id", "", "Spotify client ID")
	rootCmd.PersistentFlags().String("spotify-client-secret", "", "Spotify client secret")
	rootCmd.PersistentFlags().String("spotify-redirect-url", "", "OAuth redirect URL")
	rootCmd.PersistentFlags().String("spotify-store-path", "", "credential store path")
	rootCmd.PersistentFlags().Bool("prefer-preview-only", false, "Always play preview clips")
	rootCmd.PersistentFlags().String("recommend-market", "US", "Recommendation market code")
	rootCmd.PersistentFlags().Int("recommend-limit", 20, "Recommendation page size")
	rootCmd.PersistentFlags().String("server-host", defaultServerHost, "HTTP server host")
	rootCmd.PersistentFlags().Int("server-port", 8080, "HTTP server port")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	// Load .env file explicitly using gotenv
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		// Don't exit if .env file doesn't exist, just warn
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix("JAMMY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	if v := viper.GetString("spotify-redirect-url"); v != "" {
		cfg.Spotify.RedirectURL = v
	}
	if v := viper.GetString("spotify-store-path"); v != "" {
		cfg.Spotify.StorePath = v
	}

	cfg.Player.PreferPreviewOnly = viper.GetBool("prefer-preview-only")

	if v := viper.GetString("recommend-market"); v != "" {
		cfg.Recommend.Market = v
	}
	if v := viper.GetInt("recommend-limit"); v > 0 {
		cfg.Recommend.Limit = v
	}

	if v := viper.GetString("server-host"); v != "" {
		cfg.Server.Host = v
	}
	if v := viper.GetInt("server-port"); v > 0 {
		cfg.Server.Port = v
	}

	cfg.Log.Level = viper.GetString("log-level")

	return cfg
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runJammy(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info("Starting Jammy",
		zap.String("redirect_url", config.Spotify.RedirectURL),
		zap.String("market", config.Recommend.Market))

	tokenStore, err := auth.NewTokenStore(config.Spotify.StorePath, logger.Named("tokenstore"))
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer tokenStore.Close()

	flow := auth.NewFlow(&config.Spotify, tokenStore, logger.Named("auth"))
	metrics := httpserver.NewMetrics()

	apiClient := spotify.NewClient(&config.Spotify, flow, logger.Named("spotify"))
	previewPlayer := player.NewStreamPlayer(io.Discard, logger.Named("preview"))
	orchestrator := player.NewOrchestrator(apiClient, previewPlayer, config.Player, metrics, logger.Named("player"))

	dedup := store.NewDedupStore(config.Recommend.DedupCapacity, config.Recommend.DedupFalsePositiveRate)
	fetcher := recommend.NewFetcher(apiClient, dedup, config.Recommend, metrics, logger.Named("recommend"))

	lib := library.New(flow, logger.Named("library"))

	httpServer := httpserver.NewServer(&config.Server, httpserver.Deps{
		Flow:               flow,
		Player:             orchestrator,
		Recommender:        fetcher,
		Library:            lib,
		Tiers:              flow,
		RemoteAppInstalled: config.Player.RemoteAppInstalled,
		PreferPreviewOnly:  config.Player.PreferPreviewOnly,
	}, metrics, logger.Named("http"))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Start(gCtx)
	})

	g.Go(func() error {
		return ensureAuthorized(gCtx, flow)
	})

	logger.Info("Jammy started",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("Jammy stopped with error", zap.Error(err))
		return err
	}

	logger.Info("Jammy stopped gracefully")
	return nil
}

// ensureAuthorized starts the PKCE flow when no stored credential exists and
// waits for the redirect callback to complete it.
func ensureAuthorized(ctx context.Context, flow *auth.Flow) error {
	if flow.State() == auth.StateAuthorized {
		logger.Info("Using stored credential")
		return nil
	}

	authURL, err := flow.Authorize()
	if err != nil {
		return fmt.Errorf("failed to start authorization: %w", err)
	}

	fmt.Printf("Please visit the following URL to authorize Jammy:\n%s\n", authURL)

	select {
	case <-flow.AuthorizedSignal():
		logger.Info("Authorization complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validateConfig() error {
	if config.Spotify.ClientID == "" {
		return fmt.Errorf("spotify client ID is required")
	}
	if config.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client secret is required")
	}
	if config.Spotify.RedirectURL == "" {
		return fmt.Errorf("spotify redirect URL is required")
	}
	return nil
}
