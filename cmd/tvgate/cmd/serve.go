package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tvgate/tvgate/internal/auth"
	internalhttp "github.com/tvgate/tvgate/internal/http"
	"github.com/tvgate/tvgate/internal/http/handlers"
	"github.com/tvgate/tvgate/internal/httpclient"
	"github.com/tvgate/tvgate/internal/observability"
	"github.com/tvgate/tvgate/internal/registry"
	"github.com/tvgate/tvgate/internal/relay"
	"github.com/tvgate/tvgate/internal/session"
	"github.com/tvgate/tvgate/internal/source"
	"github.com/tvgate/tvgate/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tvgate server",
	Long: `Start the tvgate HTTP server.

The server provides:
- The aggregated playlist at /m3u and /m3u/{user}
- Channel stream relaying at /{channelId}/...
- A status API under /api/v1 with OpenAPI documentation at /api/v1/docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("base-url", "", "Externally visible base URL for playlist entries")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("base-url") {
		cfg.Server.BaseURL, _ = flags.GetString("base-url")
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Each source gets its own fetch client so one provider's failures
	// trip only its own circuit breaker.
	fetchCfg := httpclient.DefaultConfig()
	fetchCfg.Timeout = cfg.Upstream.ConnectTimeout
	fetchCfg.RetryAttempts = cfg.Upstream.RetryAttempts
	fetchCfg.RetryDelay = cfg.Upstream.RetryDelay
	fetchCfg.MaxResponseSize = cfg.Upstream.MaxPlaylistBytes
	fetchCfg.Logger = observability.WithComponent(logger, "httpclient")

	sources := make([]*source.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		sources = append(sources, source.New(sc, httpclient.New(fetchCfg), logger))
	}

	reg := registry.New(sources, cfg.Refresh, logger)
	sessions := session.NewTable(cfg.Sessions, logger)
	authn := auth.New(cfg.Proxy.TokenSalt)

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	baseURL := cfg.Server.EffectiveBaseURL()
	playlistHandler := handlers.NewPlaylistHandler(reg, authn, cfg.Proxy, baseURL, logger)
	streamHandler := handlers.NewStreamHandler(reg, authn, sessions,
		relay.NewStreamClient(cfg.Upstream.ConnectTimeout), cfg.Proxy.ForwardUserHeader, logger)

	server.Router().Get("/m3u", playlistHandler.ServeM3U)
	server.Router().Get("/m3u/{user}", playlistHandler.ServeM3U)
	server.Router().Get("/{channelID}/*", streamHandler.ServeStream)

	handlers.NewStatusHandler(reg, sessions).Register(server.API())

	go reg.Run(ctx)
	go sessions.Run(ctx)

	logger.Info("tvgate starting",
		slog.String("version", version.Version),
		slog.String("base_url", baseURL),
		slog.Int("sources", len(sources)),
		slog.Int("users", len(cfg.Proxy.Users)),
		slog.Bool("allow_anonymous", cfg.Proxy.AllowAnonymous),
	)

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("running server: %w", err)
	}

	logger.Info("tvgate stopped")
	return nil
}
