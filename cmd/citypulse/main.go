package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	httpadapter "github.com/couchcryptid/city-pulse/internal/adapter/http"
	"github.com/couchcryptid/city-pulse/internal/aggregator"
	"github.com/couchcryptid/city-pulse/internal/config"
	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/mapstate"
	"github.com/couchcryptid/city-pulse/internal/observability"
	"github.com/couchcryptid/city-pulse/internal/relay"
)

// sessionSweepInterval is how often idle sessions are expired.
const sessionSweepInterval = time.Minute

func main() {
	root := &cobra.Command{
		Use:           "citypulse",
		Short:         "Live city dashboard backend: map layers, search and relays",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	})

	openapiCmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document (JSON by default, --yaml for YAML)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			useYAML, _ := cmd.Flags().GetBool("yaml")
			out, err := openAPIDocument(useYAML)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	openapiCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	root.AddCommand(openapiCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("citypulse failed", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()
	domain.SetCityCenter(cfg.CityCenter)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	feed, err := openFeed(cfg, logger)
	if err != nil {
		return err
	}

	geocoder, segments := newMapbox(cfg, metrics, logger)

	agg := aggregator.New(aggregator.Deps{
		Store:        store.Store,
		Feed:         feed,
		Hubs:         newHubSource(cfg, logger),
		Segments:     segments,
		Geocoder:     geocoder,
		FetchTimeout: cfg.FetchTimeout,
		Clock:        clock,
		Logger:       logger,
		Metrics:      metrics,
	})

	sessions := mapstate.NewSessions(cfg.SessionTTL, clock)
	handler := httpadapter.NewHandler(httpadapter.Deps{
		Aggregator:   agg,
		Sessions:     sessions,
		Geocoder:     geocoder,
		Community:    relay.NewCommunity(cfg.CommunityWebhookURL, cfg.RelayTimeout, geocoder, logger, metrics),
		Chat:         relay.NewChat(cfg.ChatWebhookURL, cfg.RelayTimeout, clock, logger, metrics),
		Integrations: integrations(cfg),
		Clock:        clock,
		Logger:       logger,
		Metrics:      metrics,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, agg, logger)
	handler.Register(srv.API())

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := agg.Load(ctx); err != nil {
			logger.Error("initial load interrupted", "error", err)
			return
		}
		if err := agg.Run(ctx); err != nil {
			logger.Error("realtime merge error", "error", err)
		}
	}()

	go sessions.RunJanitor(ctx, sessionSweepInterval)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func integrations(cfg *config.Config) httpadapter.Integrations {
	return httpadapter.Integrations{
		Map:            cfg.MapboxEnabled,
		TrafficTiles:   cfg.TrafficTilesEnabled,
		EvHubs:         cfg.OpenChargeMapKey != "",
		Chat:           cfg.ChatWebhookURL != "",
		Community:      cfg.CommunityWebhookURL != "",
		BackendDriver:  cfg.BackendDriver,
		RealtimeDriver: cfg.RealtimeDriver,
		Center:         cfg.CityCenter,
	}
}

// openAPIDocument registers every route on a detached API and renders its
// document. No backend is contacted.
func openAPIDocument(useYAML bool) ([]byte, error) {
	api := humago.New(http.NewServeMux(), httpadapter.NewAPIConfig())
	httpadapter.NewHandler(httpadapter.Deps{
		Aggregator: aggregator.New(aggregator.Deps{}),
		Sessions:   mapstate.NewSessions(0, clockwork.NewRealClock()),
		Logger:     slog.Default(),
	}).Register(api)

	doc, err := json.MarshalIndent(api.OpenAPI(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal openapi: %w", err)
	}
	if !useYAML {
		return doc, nil
	}
	return jsonToYAML(doc)
}

// jsonToYAML re-encodes JSON as block-style YAML, keeping key order.
func jsonToYAML(doc []byte) ([]byte, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(doc, &node); err != nil {
		return nil, fmt.Errorf("parse openapi: %w", err)
	}
	blockStyle(&node)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, fmt.Errorf("encode openapi yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode openapi yaml: %w", err)
	}
	return buf.Bytes(), nil
}

func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	if n.Kind == yaml.ScalarNode && n.Style == yaml.DoubleQuotedStyle && n.Tag == "!!str" {
		n.Style = 0
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}
