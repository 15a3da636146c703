package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"market-engine/config"
	"market-engine/fetcher"
	"market-engine/metrics"
	"market-engine/models"
	"market-engine/services"
	"market-engine/storage"
	"market-engine/utils"
)

// app holds the dependencies shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *utils.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	db      *sql.DB
	fetcher *fetcher.Fetcher
}

func newApp(cfg *config.Config) (*app, error) {
	opts := utils.LogOptions{Level: cfg.LogLevel, Format: cfg.LogFormat, FluentTag: cfg.FluentTag}
	if cfg.FluentHost != "" {
		client, err := utils.NewFluentClient(cfg.FluentHost, cfg.FluentPort)
		if err != nil {
			utils.NewLogger().Warn("[main] fluentd disabled: %v", err)
		} else {
			opts.Fluent = client
		}
	}
	logger := utils.NewLoggerWithOptions(opts)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	db, err := storage.OpenPostgres(cfg.DSN())
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		logger.Close()
		return nil, err
	}

	f := fetcher.New(storage.NewPostgresSource(db), fetcher.Options{
		PageSize:    cfg.PageSize,
		MaxRetries:  cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay,
		RateLimitMs: cfg.RateLimitMs,
	}, logger, m)

	return &app{cfg: cfg, logger: logger, reg: reg, metrics: m, db: db, fetcher: f}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("[main] closing database: %v", err)
	}
	a.logger.Close()
}

func (a *app) aliases() (*services.AliasResolver, error) {
	return services.NewAliasResolver(a.fetcher, a.logger, a.metrics)
}

// serveMetrics exposes the registry on addr until ctx is cancelled.
func (a *app) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{Registry: a.reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("[main] Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("[main] metrics server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	var a *app

	root := &cobra.Command{
		Use:           "market-engine",
		Short:         "Owner resolution and market analytics over real-estate transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(config.Load())
			return err
		},
	}
	root.AddCommand(rebuildCmd(&a), aliasCmd(&a), analyticsCmd(&a))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	if a != nil {
		a.close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func rebuildCmd(a **app) *cobra.Command {
	var snapshotPath, metricsAddr string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute owners and property states from the full transaction history",
		RunE: func(cmd *cobra.Command, args []string) error {
			env := *a
			cfg := env.cfg
			ctx := cmd.Context()

			if !cmd.Flags().Changed("snapshot") {
				snapshotPath = cfg.SnapshotPath
			}
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = cfg.MetricsAddr
			}
			env.serveMetrics(ctx, metricsAddr)

			env.logger.Info("=== Market rebuild starting ===")
			env.logger.Info("Config | page size: %d | retries: %d | fuzzy threshold: %.0f | rate: %dms",
				cfg.PageSize, cfg.MaxRetries, cfg.FuzzyThreshold, cfg.RateLimitMs)

			writer, err := storage.NewPostgresWriter(env.db)
			if err != nil {
				return fmt.Errorf("prepare schema: %w", err)
			}

			opts := services.RebuildOptions{FuzzyThreshold: cfg.FuzzyThreshold}
			if snapshotPath != "" {
				csvWriter, err := storage.NewCSVWriter(snapshotPath)
				if err != nil {
					return fmt.Errorf("create snapshot: %w", err)
				}
				defer csvWriter.Close()
				opts.Snapshot = csvWriter
			}

			summary, err := services.NewRebuildPipeline(env.fetcher, writer, writer, opts, env.logger, env.metrics).Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "write fetched transactions to this CSV file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	return cmd
}

func aliasCmd(a **app) *cobra.Command {
	var aliasType string

	cmd := &cobra.Command{
		Use:   "alias",
		Short: "Resolve community and building names",
	}

	resolve := &cobra.Command{
		Use:   "resolve <name>",
		Short: "Print the canonical form of a name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := (*a).aliases()
			if err != nil {
				return err
			}
			name := strings.Join(args, " ")
			canonical, err := r.Resolve(cmd.Context(), name, models.AliasType(aliasType))
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"input": name, "type": aliasType, "canonical": canonical})
		},
	}
	resolve.Flags().StringVar(&aliasType, "type", string(models.AliasCommunity), "alias type: community or building")

	infer := &cobra.Command{
		Use:   "infer <text>",
		Short: "Find the community mentioned in free text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := (*a).aliases()
			if err != nil {
				return err
			}
			community, err := r.InferFromText(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"community": community})
		},
	}

	list := &cobra.Command{
		Use:   "list <canonical>",
		Short: "List every alias of a canonical name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := (*a).aliases()
			if err != nil {
				return err
			}
			all, err := r.AllAliases(cmd.Context(), strings.Join(args, " "), models.AliasType(aliasType))
			if err != nil {
				return err
			}
			return printJSON(cmd, all)
		},
	}
	list.Flags().StringVar(&aliasType, "type", string(models.AliasCommunity), "alias type: community or building")

	cmd.AddCommand(resolve, infer, list)
	return cmd
}

func analyticsCmd(a **app) *cobra.Command {
	var params string

	names := make([]string, 0)
	for _, op := range services.Operations() {
		names = append(names, op.String())
	}

	cmd := &cobra.Command{
		Use:       "analytics <operation>",
		Short:     "Run one analytics operation and print its JSON result",
		Long:      "Operations: " + strings.Join(names, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := *a
			op, err := services.ParseOperation(args[0])
			if err != nil {
				return err
			}
			req, err := services.NewRequest(op)
			if err != nil {
				return err
			}
			if params != "" {
				dec := json.NewDecoder(strings.NewReader(params))
				dec.DisallowUnknownFields()
				if err := dec.Decode(req); err != nil {
					return fmt.Errorf("decode --params: %w", err)
				}
			}

			aliases, err := env.aliases()
			if err != nil {
				return err
			}
			if err := aliases.Preload(cmd.Context()); err != nil {
				env.logger.Warn("[main] alias preload: %v", err)
			}
			engine := services.NewAnalyticsEngine(env.fetcher, aliases, services.EngineOptions{MinSizeSqft: env.cfg.MinSizeSqft}, env.logger)
			out, err := engine.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&params, "params", "", `operation parameters as JSON, e.g. '{"community":"Dubai Marina"}'`)
	return cmd
}
