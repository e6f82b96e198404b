package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/weft/internal/api"
	"github.com/roach88/weft/internal/engine"
	"github.com/roach88/weft/internal/lock"
	"github.com/roach88/weft/internal/store"
)

// shutdownTimeout bounds how long in-flight requests get after a signal.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	StoreOptions
	Address   string
	Ephemeral bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "serve <program>",
		Short: "Serve the lock manager and engine over HTTP",
		Long: `Load a program and serve it to agents over HTTP.

Agents open a session, take read and write locks on functions, commit
mutation batches and trigger builds through the /v1 API. Prometheus
metrics are served on /metrics. Expired locks are swept in the background.

Unless --ephemeral is set, commits and build snapshots are recorded in the
SQLite store (created if missing) and the last build is restored on start.

Examples:
  weft serve ./program
  weft serve ./program --addr :7411 --db /var/lib/weft/weft.db
  weft serve ./program --ephemeral --log-level debug`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args[0], cmd)
		},
	}

	opts.bindFlags(cmd)
	cmd.Flags().StringVar(&opts.Address, "addr", "", "listen address (default server.address from config)")
	cmd.Flags().BoolVar(&opts.Ephemeral, "ephemeral", false, "keep no store: commits and builds are not recorded")

	return cmd
}

func (o *ServeOptions) address() string {
	if o.Address != "" {
		return o.Address
	}
	return o.Config.Server.Address
}

func runServe(opts *ServeOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger()
	cfg := opts.Config

	var (
		st  *store.Store
		err error
	)
	if !opts.Ephemeral {
		st, err = opts.openStore(formatter)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("close store", "error", err)
			}
		}()
		logger.Info("store ready", "path", opts.storePath())
	}

	var prog *loadedProgram
	if st != nil {
		prog, err = loadStoredGraph(cmd.Context(), formatter, path, st, true)
	} else {
		prog, err = loadGraph(formatter, path)
	}
	if err != nil {
		return err
	}
	g := prog.Graph
	logger.Info("program loaded", "path", path, "functions", len(g.Functions()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	locks := lock.NewManager(
		lock.WithDefaultTTL(cfg.Lock.TTL),
		lock.WithShards(cfg.Lock.Shards),
		lock.WithLogger(logger),
		lock.WithMetrics(lock.NewMetrics(reg)),
	)
	lock.RegisterHeldGauge(reg, locks)

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithSnapshotLabel(opts.label()),
		engine.WithHashWorkers(cfg.Hashing.Workers),
	}
	if st != nil {
		engOpts = append(engOpts, engine.WithStore(st))
	}
	eng := engine.New(g, locks, engOpts...)
	if err := eng.Restore(cmd.Context()); err != nil {
		return outputCommandError(formatter, ErrCodeStore, err.Error(), nil)
	}

	gin.SetMode(gin.ReleaseMode)
	handlers := api.NewHandlers(eng).WithIDAllocator(g).WithLogger(logger)
	srv := &http.Server{
		Addr:              opts.address(),
		Handler:           api.NewRouter(handlers, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		if err := locks.Run(ctx, cfg.Lock.SweepInterval); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if !formatter.IsJSON() {
		fmt.Fprintf(formatter.Writer, "Serving %d function(s) on %s. Press Ctrl-C to stop.\n", len(g.Functions()), srv.Addr)
	}

	if err := grp.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped")
	return nil
}
