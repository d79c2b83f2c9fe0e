package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlhealthz "sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
	"github.com/bayleafwalker/bindery-runtime/internal/config"
	"github.com/bayleafwalker/bindery-runtime/internal/events"
	"github.com/bayleafwalker/bindery-runtime/internal/healthz"
	"github.com/bayleafwalker/bindery-runtime/internal/manifest"
	"github.com/bayleafwalker/bindery-runtime/internal/otel"
	"github.com/bayleafwalker/bindery-runtime/internal/profile"
	binderyruntime "github.com/bayleafwalker/bindery-runtime/internal/runtime"
)

var setupLog = ctrl.Log.WithName("setup")

type options struct {
	metricsAddr string
	probeAddr   string
	manifestDir string
	profilePath string
	vars        map[string]string
	zap         zap.Options
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		setupLog.Error(err, "bindery-runtime failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{zap: zap.Options{Development: true}}

	cmd := &cobra.Command{
		Use:   "bindery-runtime",
		Short: "Capability-gated module runtime",
		Long: `Loads module manifests, resolves capabilities from the business profile
and bootstraps every enabled module in dependency order. Metrics are served on
/metrics and per-module health on /healthz.`,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts.zap)))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(ctrl.SetupSignalHandler(), opts)
		},
	}

	goFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.zap.BindFlags(goFlags)
	cmd.PersistentFlags().AddGoFlagSet(goFlags)

	cmd.PersistentFlags().StringVar(&opts.manifestDir, "manifests", "", "Directory of *.hcl module manifests. Overrides BINDERY_MANIFEST_DIR.")
	cmd.PersistentFlags().StringVar(&opts.profilePath, "profile", "", "YAML business profile. Overrides BINDERY_PROFILE_PATH.")
	cmd.PersistentFlags().StringToStringVar(&opts.vars, "var", nil, "Manifest variables as key=value, available as var.<key>.")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	cmd.Flags().StringVar(&opts.probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")

	cmd.AddCommand(newPlanCommand(opts))
	return cmd
}

func newPlanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the bootstrap plan for the current manifests and profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			rt, err := binderyruntime.New(binderyruntime.Options{Config: cfg, Logger: ctrl.Log})
			if err != nil {
				return err
			}
			defer rt.Close()
			_, cancel, err := setup(cmd.Context(), rt, cfg, opts)
			if err != nil {
				return err
			}
			defer cancel()

			plan := rt.Plan()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "business model: %s\n", rt.BusinessModel())
			for i, level := range plan.Levels {
				fmt.Fprintf(out, "level %d: %v\n", i, level)
			}
			for _, id := range plan.Skipped {
				fmt.Fprintf(out, "skipped %s: %v\n", id, plan.Reasons[id])
			}
			return nil
		},
	}
}

func loadConfig(opts *options) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if opts.manifestDir != "" {
		cfg.ManifestDir = opts.manifestDir
	}
	if opts.profilePath != "" {
		cfg.ProfilePath = opts.profilePath
	}
	return cfg, nil
}

// declared is the instance of a manifest module that has no remote: it carries
// its definition and contributes its slots, nothing more.
type declared struct {
	*binderyv1alpha1.Module
}

// setup registers the manifest modules and applies the profile. The returned
// cancel stops following profile changes.
func setup(ctx context.Context, rt *binderyruntime.Runtime, cfg config.Config, opts *options) (*profile.FileStore, func(), error) {
	if cfg.ManifestDir != "" {
		mods, err := manifest.LoadDir(cfg.ManifestDir, opts.vars)
		if err != nil {
			return nil, nil, err
		}
		for _, m := range mods {
			if err := rt.RegisterModule(m); err != nil {
				return nil, nil, err
			}
			if m.Remote == "" {
				rt.AddFactory(m.ID, func(_ context.Context, def *binderyv1alpha1.Module) (any, error) {
					return declared{def}, nil
				})
			}
		}
		setupLog.Info("registered manifest modules", "dir", cfg.ManifestDir, "count", len(mods))
	}
	if cfg.ProfilePath == "" {
		return nil, func() {}, nil
	}
	store := profile.NewFileStore(cfg.ProfilePath, ctrl.Log)
	cancel, err := rt.SyncProfile(ctx, store)
	if err != nil {
		return nil, nil, err
	}
	return store, cancel, nil
}

func serve(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	shutdownTracing, err := otel.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			setupLog.Error(err, "flush traces")
		}
	}()

	rtOpts := binderyruntime.Options{
		Config:     cfg,
		Registerer: metrics.Registry,
		Logger:     ctrl.Log,
	}
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			return err
		}
		rtOpts.Publisher = pub
	}
	rt, err := binderyruntime.New(rtOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			setupLog.Error(err, "close runtime")
		}
	}()

	store, cancel, err := setup(ctx, rt, cfg, opts)
	if err != nil {
		return err
	}
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if store != nil {
		g.Go(func() error { return store.Watch(ctx) })
	}

	var ready atomic.Bool
	g.Go(func() error {
		rt.Run(ctx)
		return nil
	})
	g.Go(func() error {
		res := rt.Bootstrap(ctx)
		for id, reason := range res.Reasons {
			setupLog.Info("module not initialized", "module", id, "reason", reason.Error())
		}
		ready.Store(true)
		return nil
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	probeMux := http.NewServeMux()
	probeMux.Handle("/healthz/", http.StripPrefix("/healthz", healthz.Handler(rt)))
	probeMux.Handle("/readyz/", http.StripPrefix("/readyz", &ctrlhealthz.Handler{Checks: map[string]ctrlhealthz.Checker{
		"bootstrap": func(*http.Request) error {
			if !ready.Load() {
				return errors.New("bootstrap in progress")
			}
			return nil
		},
	}}))

	for _, srv := range []*http.Server{
		{Addr: opts.metricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second},
		{Addr: opts.probeAddr, Handler: probeMux, ReadHeaderTimeout: 5 * time.Second},
	} {
		g.Go(func() error {
			setupLog.Info("serving", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	setupLog.Info("starting runtime", "service", cfg.ServiceName)
	return g.Wait()
}
