package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "kybmon/internal/adapters/http"
	pg "kybmon/internal/adapters/postgres"
	"kybmon/internal/config"
	"kybmon/internal/connectors"
	"kybmon/internal/domain"
	"kybmon/internal/workers/cycle"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "kybmon",
		Short:         "Continuous compliance monitoring of business counterparties",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a config file (env KYBMON_* overrides it)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newRunCycleCmd(opts),
		newEnqueueDueCmd(opts),
		newPurgeCmd(opts),
		newCheckCmd(opts),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, cycle workers, due-subject enqueuer and retention sweeps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := newApp(ctx, opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	sources := make(map[domain.CheckType]httpadapter.BatchChecker, len(a.adapters))
	for ct, ad := range a.adapters {
		sources[ct] = ad
	}
	api := httpadapter.New(httpadapter.Deps{
		Cycles:      a.runner,
		Retry:       a.retryPolicy(),
		Jobs:        a.db,
		Alerts:      a.alerts,
		Sources:     sources,
		Gatherer:    a.registry,
		Log:         a.log,
		WaitTimeout: cfg.Server.WaitTimeout,
	})
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: api.Routes(), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.WithField("addr", cfg.Server.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Workers.Concurrency > 0 {
		g.Go(func() error {
			cycle.Run(gctx, a.db, a.runner, cycle.PoolConfig{
				Concurrency:  cfg.Workers.Concurrency,
				PollInterval: cfg.Workers.PollInterval,
				TaskTimeout:  cfg.Workers.TaskTimeout,
				Retry:        a.retryPolicy(),
			}, a.log)
			return nil
		})
		a.log.WithField("workers", cfg.Workers.Concurrency).Info("cycle workers started")
	}
	if cfg.Workers.EnqueueInterval > 0 {
		g.Go(func() error {
			every(gctx, cfg.Workers.EnqueueInterval, func(ctx context.Context) {
				if _, err := cycle.EnqueueDue(ctx, a.db, a.db, time.Now().UTC(), cfg.Workers.EnqueueBatch, a.log); err != nil && ctx.Err() == nil {
					a.log.WithError(err).Error("enqueue due subjects")
				}
			})
			return nil
		})
	}
	if cfg.Workers.RetentionEvery > 0 {
		g.Go(func() error {
			every(gctx, cfg.Workers.RetentionEvery, func(ctx context.Context) {
				if _, err := a.retention.Purge(ctx); err != nil && ctx.Err() == nil {
					a.log.WithError(err).Error("retention purge")
				}
			})
			return nil
		})
	}
	err := g.Wait()
	a.log.Info("shut down")
	return err
}

// every runs fn immediately and then on each tick until ctx ends.
func every(ctx context.Context, d time.Duration, fn func(ctx context.Context)) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			log := cfg.NewLogger()
			db, err := connectDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := pg.Migrate(ctx, db.Pool, log); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}

func newRunCycleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run-cycle SUBJECT_ID",
		Short: "Run one monitoring cycle synchronously and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := newApp(ctx, opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := cycle.ProcessInline(ctx, a.runner, a.retryPolicy(), args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func newEnqueueDueCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "enqueue-due",
		Short: "Queue cycle jobs for every subject whose next check is due",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			db, err := connectDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := cycle.EnqueueDue(ctx, db, db, time.Now().UTC(), limit, cfg.NewLogger())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum subjects to queue (0 = all)")
	return cmd
}

func newPurgeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Apply snapshot and alert retention for every tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := newApp(ctx, opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.retention.Purge(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var failFast bool
	var options map[string]string
	cmd := &cobra.Command{
		Use:   "check CHECK_TYPE IDENTIFIER...",
		Short: "Query one source directly through the resilient adapter",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			log := cfg.NewLogger()
			st, err := openKV(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			adapters, err := buildAdapters(cfg, st, nil, log)
			if err != nil {
				return err
			}
			ad, ok := adapters[domain.CheckType(args[0])]
			if !ok {
				return fmt.Errorf("unknown check type %q", args[0])
			}
			results, err := ad.CheckBatch(ctx, args[1:], connectors.Options(options), failFast)
			if perr := printJSON(results); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first failed identifier")
	cmd.Flags().StringToStringVar(&options, "opt", nil, "source option, e.g. --opt country=DE")
	return cmd
}
