// dispatchd runs a dispatcher pool behind an HTTP admin API: jobs are
// registered at startup and submitted via POST /submit, with pool stats,
// health and Prometheus metrics alongside.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dispatchio/dispatch/pkg/config"
	"github.com/dispatchio/dispatch/pkg/core"
	"github.com/dispatchio/dispatch/pkg/dispatch"
	"github.com/dispatchio/dispatch/pkg/observability/prometheus"
	"github.com/dispatchio/dispatch/pkg/observability/tracing"
	"github.com/dispatchio/dispatch/pkg/web"
)

// Config is the daemon configuration, loadable from YAML/JSON with
// DISPATCH_* env overrides.
type Config struct {
	Pool struct {
		Workers int    `yaml:"workers" json:"workers"`
		Name    string `yaml:"name" json:"name"`
	} `yaml:"pool" json:"pool"`

	HTTP struct {
		Addr         string        `yaml:"addr" json:"addr"`
		ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	} `yaml:"http" json:"http"`

	Tracing struct {
		Enabled bool `yaml:"enabled" json:"enabled"`
	} `yaml:"tracing" json:"tracing"`
}

func defaultDaemonConfig() *Config {
	cfg := &Config{}
	cfg.Pool.Workers = 4
	cfg.Pool.Name = "background"
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ReadTimeout = 10 * time.Second
	cfg.HTTP.WriteTimeout = 10 * time.Second
	return cfg
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultDaemonConfig()

	if path != "" {
		if err := config.LoadWithEnv(path, "DISPATCH", cfg); err != nil {
			return nil, err
		}
	} else if err := config.ApplyEnvOverrides("DISPATCH", cfg); err != nil {
		return nil, err
	}

	if err := config.Validate(cfg,
		config.MinValue("Pool.Workers", 1),
		config.RequiredFields("Pool.Name", "HTTP.Addr"),
	); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to YAML/JSON configuration file")
	flag.Parse()

	logger := core.NewDefaultLogger()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Errorf("loading configuration: %v", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Errorf("dispatchd: %v", err)
		os.Exit(1)
	}
}

func run(cfg *Config, logger core.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init("dispatchd", os.Stdout)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warnf("tracer shutdown: %v", err)
			}
		}()
	}

	// The pool gets its own lifetime: in-flight tasks should only see
	// cancellation once Close runs, not at the first signal.
	pool, err := dispatch.NewDispatcher(context.Background(), dispatch.Config{
		Workers:  cfg.Pool.Workers,
		Name:     cfg.Pool.Name,
		Observer: prometheus.NewObserver(nil),
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	logger.Infof("pool %s started with %d workers", cfg.Pool.Name, cfg.Pool.Workers)

	serverCfg := web.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	server := web.NewServer(serverCfg, pool, logger, prometheus.Handler())
	registerJobs(server, logger, cfg.Tracing.Enabled)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		pool.Close()
		return fmt.Errorf("admin server: %w", err)
	}

	// Stop accepting HTTP submissions first, then drain the pool.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("server shutdown: %v", err)
	}
	pool.Close()

	stats := pool.Stats()
	logger.Infof("pool %s stopped: %d completed, %d dropped", cfg.Pool.Name, stats.Completed, stats.Dropped)
	return nil
}

// registerJobs wires the built-in operational jobs. Real deployments replace
// these with their own workloads.
func registerJobs(server *web.Server, logger core.Logger, traced bool) {
	jobs := map[string]web.JobFunc{
		"ping": func(ctx context.Context) error {
			logger.WithFields(map[string]interface{}{
				"task_id": core.GetTaskID(ctx),
			}).Info("pong")
			return nil
		},
		"sleep": func(ctx context.Context) error {
			select {
			case <-time.After(time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	for name, fn := range jobs {
		if traced {
			name, fn := name, fn
			server.RegisterJob(name, func(ctx context.Context) error {
				return tracing.WrapTask(nil, dispatch.NewNamedTask(name, dispatch.TaskFunc(fn))).Execute(ctx)
			})
			continue
		}
		server.RegisterJob(name, fn)
	}
}
