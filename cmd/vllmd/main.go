package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sakura4036/vllm-server/internal/config"
	"github.com/Sakura4036/vllm-server/internal/httpapi"
	"github.com/Sakura4036/vllm-server/internal/instance"
	"github.com/Sakura4036/vllm-server/internal/proxy"
	"github.com/Sakura4036/vllm-server/internal/store"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		cfgPath  string
		addr     string
		pgDSN    string
		logLevel string
	)
	root := &cobra.Command{
		Use:           "vllmd",
		Short:         "Control plane managing and proxying vllm model instances",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			if cfgPath != "" {
				var err error
				if cfg, err = config.Load(cfgPath); err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			cfg = config.FromEnv(cfg)
			if addr != "" {
				cfg.Addr = addr
			}
			if pgDSN != "" {
				cfg.PostgresDSN = pgDSN
			}
			cfg = config.Defaults(cfg)
			return run(cmd.Context(), cfg, logLevel)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", "", "Path to config file (.yaml/.json/.toml)")
	root.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :5000 (defaults VLLMD_ADDR or :5000)")
	root.Flags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN for the shared store (empty = in-memory store)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	return root
}

func run(ctx context.Context, cfg config.Config, logLevel string) error {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).With().Timestamp().Logger()
	httpapi.SetLogger(log)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins,
		[]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}, []string{"*"})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		st = pg
		log.Info().Msg("using shared postgres store")
	} else {
		st = store.NewMemory()
		log.Info().Msg("using in-memory store")
	}
	defer st.Close()

	sup := instance.NewSupervisor(cfg.LaunchCommand, cfg.WorkerEnv(), log)
	mgr := instance.NewManager(instance.ManagerConfig{
		Store:         st,
		Launcher:      sup,
		Health:        instance.NewHealthGate(),
		BasePort:      cfg.BasePort,
		MaxInstances:  cfg.MaxInstances,
		DefaultParams: cfg.DefaultParams(),
		IdleTimeout:   cfg.DefaultTimeout,
		ReadyTimeout:  time.Duration(cfg.ReadyTimeout) * time.Second,
		Logger:        log,
	})
	reaper := instance.NewReaper(mgr, time.Duration(cfg.ReaperInterval)*time.Second, log)
	router := proxy.NewRouter(mgr, log)

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(mgr, router)}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := reaper.Run(gCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Int("base_port", cfg.BasePort).
			Int("max_instances", cfg.MaxInstances).Msg("vllmd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
