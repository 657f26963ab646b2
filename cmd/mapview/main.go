package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/biq-mapview/internal/api"
	"github.com/mohammed-shakir/biq-mapview/internal/cache/redisstore"
	"github.com/mohammed-shakir/biq-mapview/internal/catalog"
	"github.com/mohammed-shakir/biq-mapview/internal/core/config"
	"github.com/mohammed-shakir/biq-mapview/internal/core/health"
	"github.com/mohammed-shakir/biq-mapview/internal/core/httpclient"
	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
	"github.com/mohammed-shakir/biq-mapview/internal/core/server"
	"github.com/mohammed-shakir/biq-mapview/internal/coverage"
	"github.com/mohammed-shakir/biq-mapview/internal/logger"
	"github.com/mohammed-shakir/biq-mapview/internal/mapview"
	"github.com/mohammed-shakir/biq-mapview/internal/metrics"
	"github.com/mohammed-shakir/biq-mapview/internal/overlay"
	"github.com/mohammed-shakir/biq-mapview/internal/refresh"
	"github.com/mohammed-shakir/biq-mapview/internal/selection"
	"github.com/mohammed-shakir/biq-mapview/internal/selectionevents"
	"github.com/mohammed-shakir/biq-mapview/internal/workspace"
)

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

type rootFlags struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	root := &cobra.Command{
		Use:           "mapview",
		Short:         "Billboard map view service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "YAML config file (environment overrides it)")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newServeCmd(&f), newSelectCmd(&f), newConfigCmd(&f))
	return root
}

func loadConfig(f *rootFlags) (config.Config, error) {
	if f.envFile != "" {
		if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load %s: %w", f.envFile, err)
		}
	}
	return config.Load(f.configPath)
}

func userAgent() string { return "biq-mapview/" + Version }

func buildLogger(cfg config.Config, component string) *slog.Logger {
	return logger.New(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "mapview",
		Component: component,
	}, os.Stdout)
}

func newServeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the map view HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, buildLogger(cfg, "server"))
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	p := metrics.Init(metrics.Config{Build: metrics.BuildInfo{Version: Version, Revision: Revision, BuildDate: BuildDate}})
	log.Info("starting mapview",
		"addr", cfg.Addr,
		"version", Version,
		"optimizer", cfg.OptimizerURL,
		"workspace", cfg.WorkspaceURL,
		"candidates", cfg.CandidatesSource)

	deps, checks, cleanup, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()
	for name, c := range checks {
		p.WatchDependency(name, c)
	}

	views, err := mapview.NewRegistry(cfg.MaxViews, deps, viewOptions(cfg))
	if err != nil {
		return err
	}
	defer views.Close()

	h := server.NewRouter(log, server.Routes{
		API:     api.New(log, views),
		Metrics: p.Handler(),
		Checks:  checks,
	})
	return server.Run(ctx, cfg.Addr, log, h)
}

func viewOptions(cfg config.Config) mapview.Options {
	return mapview.Options{
		Center:      model.LatLng{Lat: cfg.InitLat, Lng: cfg.InitLng},
		Zoom:        cfg.InitZoom,
		MaxZoom:     cfg.MaxZoom,
		Order:       overlay.ParseOrder(cfg.OverlayOrder),
		MaxLayers:   cfg.OverlayMaxLayers,
		LoadTimeout: cfg.LoadTimeout,
	}
}

// buildDeps wires the collaborators shared by every view. Optional pieces
// (redis, kafka, s3) are skipped when not configured.
func buildDeps(ctx context.Context, cfg config.Config, log *slog.Logger) (mapview.Deps, map[string]health.Check, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	checks := map[string]health.Check{}
	client := httpclient.NewOutbound(httpclient.Options{UserAgent: userAgent()})

	wsProvider, err := workspace.New(log, client, cfg.WorkspaceURL)
	if err != nil {
		return mapview.Deps{}, nil, cleanup, err
	}
	var ws workspace.Loader = wsProvider
	var wsCache refresh.WorkspaceInvalidator
	if cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr, redisstore.WithKeyPrefix(cfg.RedisPrefix))
		if err != nil {
			log.Warn("redis unavailable; workspace cache disabled", "addr", cfg.RedisAddr, "err", err)
		} else {
			closers = append(closers, func() { _ = rc.Close() })
			checks["redis"] = rc.Ping
			cached := workspace.NewCached(wsProvider, rc, cfg.WorkspaceCacheTTL, log)
			ws, wsCache = cached, cached
		}
	}

	opts := catalog.SourceOptions{HTTPClient: client}
	if cfg.S3.Endpoint != "" {
		s3c, err := catalog.NewS3Client(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.UseSSL)
		if err != nil {
			return mapview.Deps{}, nil, cleanup, err
		}
		opts.S3 = s3c
	}
	src, err := catalog.NewSource(cfg.CandidatesSource, opts)
	if err != nil {
		return mapview.Deps{}, nil, cleanup, err
	}
	cat, err := catalog.NewLoader(src, log, cfg.CatalogMemoSize)
	if err != nil {
		return mapview.Deps{}, nil, cleanup, err
	}

	sel, err := selection.New(log, client, cfg.OptimizerURL, cfg.SelectionTimeout)
	if err != nil {
		return mapview.Deps{}, nil, cleanup, err
	}

	cov, err := coverage.New(cfg.CoverageRes)
	if err != nil {
		return mapview.Deps{}, nil, cleanup, err
	}

	deps := mapview.Deps{
		Logger:     log,
		Workspaces: ws,
		Catalog:    cat,
		Selector:   sel,
		Coverage:   cov,
	}

	if cfg.Events.Enabled {
		pub, err := selectionevents.NewPublisher(log, cfg.Events.BrokerList(), cfg.Events.Topic, cfg.Events.QueueSize)
		if err != nil {
			log.Warn("selection events disabled", "err", err)
		} else {
			closers = append(closers, func() {
				if err := pub.Close(); err != nil {
					log.Warn("close selection events", "err", err)
				}
			})
			deps.Events = pub
		}
	}

	if cfg.Refresh.Enabled {
		consumer := refresh.New(refresh.Config{
			Brokers: cfg.Events.BrokerList(),
			Topic:   cfg.Refresh.Topic,
			GroupID: cfg.Refresh.GroupID,
		}, log, wsCache, cat)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error("refresh consumer stopped", "err", err)
			}
		}()
	}
	return deps, checks, cleanup, nil
}

// selectParamFlags are all required; the optimizer has no defaults.
var selectParamFlags = []string{
	"username", "radius", "max-bb-num", "pricing-field", "max-total-cost", "demand-field", "method",
}

type selectFlags struct {
	params model.SelectionParams
}

func newSelectCmd(f *rootFlags) *cobra.Command {
	var sf selectFlags
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Send one selection request to the optimizer and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			log := buildLogger(cfg, "select")
			c, err := selection.New(log, httpclient.NewOutbound(httpclient.Options{UserAgent: userAgent()}), cfg.OptimizerURL, cfg.SelectionTimeout)
			if err != nil {
				return err
			}
			layer, err := c.RequestSelection(cmd.Context(), sf.params)
			if err != nil {
				return err
			}
			if cov, err := coverage.New(cfg.CoverageRes); err == nil {
				if cells, err := cov.Cells(layer.Sites, sf.params.Radius); err == nil {
					layer.CoverageCells = cells
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(layer)
		},
	}
	p := &sf.params
	fs := cmd.Flags()
	fs.StringVar(&p.Username, "username", "", "optimizer user name")
	fs.Float64Var(&p.Radius, "radius", 0, "coverage radius in metres")
	fs.IntVar(&p.MaxBBNum, "max-bb-num", 0, "maximum number of billboards")
	fs.StringVar(&p.BBPricingField, "pricing-field", "", "candidate property holding the price")
	fs.Float64Var(&p.MaxTotalCost, "max-total-cost", 0, "budget; 0 means unlimited")
	fs.StringVar(&p.DemandField, "demand-field", "", "demand attribute")
	fs.StringVar(&p.Method, "method", "", "optimizer method")
	for _, name := range selectParamFlags {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newConfigCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
