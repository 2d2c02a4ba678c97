package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"

	"kubeware-go/internal/client"
	"kubeware-go/internal/config"
	"kubeware-go/internal/handler"
	"kubeware-go/internal/metrics"
	"kubeware-go/internal/middleware"
	"kubeware-go/internal/service"
	"kubeware-go/internal/telemetry"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// chainDrainTimeout is how long a replaced chain stays open for requests
// that started before a reload.
const chainDrainTimeout = 30 * time.Second

func main() {
	// A missing .env is fine; the environment and flags still apply.
	_ = godotenv.Load()

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("kubeware"),
		kong.Description("HTTP gateway that runs every request through a chain of gRPC middleware."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newChain,
			client.NewUpstreamClient,
			newProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			newEcho,
		),
		fx.Invoke(
			startTracing,
			handler.RegisterRoutes,
			registerMetrics,
			warnConfigPermissions,
			startServer,
			watchReload,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newChain(cfg *config.Config, logger *slog.Logger) (*service.Chain, error) {
	chain, err := service.BuildChain(cfg.Middlewares)
	if err != nil {
		return nil, fmt.Errorf("build middleware chain: %w", err)
	}
	for _, m := range cfg.Middlewares {
		logger.Info("middleware configured",
			"name", m.Name,
			"url", m.URL,
			"request", m.InRequestPhase(),
			"response", m.InResponsePhase(),
			"failure_policy", m.FailurePolicy,
		)
	}
	return chain, nil
}

// newProxyService also owns shutdown of whichever chain is current at the
// time, which after a reload is no longer the one newChain built.
func newProxyService(lc fx.Lifecycle, cfg *config.Config, chain *service.Chain, up *client.UpstreamClient, logger *slog.Logger, m *metrics.Metrics) *service.ProxyService {
	svc := service.NewProxyService(chain, up, cfg.Gateway.StopDefaultStatus, logger, m)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return svc.Chain().Close() },
	})
	return svc
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks. WriteTimeout stays
	// off: the chain and the upstream have their own timeouts.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	if cfg.Tracing.Enabled {
		e.Use(echo.WrapMiddleware(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "kubeware")
		}))
	}
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(middleware.StripHopByHop())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func startTracing(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.Tracing.Enabled {
		return nil
	}
	shutdown, err := telemetry.InitTracer(cfg.Tracing.ServiceName, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	lc.Append(fx.Hook{OnStop: shutdown})
	return nil
}

func registerMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"backend", cfg.Backend.URL,
				"middlewares", len(cfg.Middlewares),
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}

// watchReload rebuilds the middleware chain from the config file on SIGHUP.
// Server, backend and logging settings are only read at startup.
func watchReload(lc fx.Lifecycle, cli *config.CLI, cfg *config.Config, svc *service.ProxyService, logger *slog.Logger) {
	sig := make(chan os.Signal, 1)
	done := make(chan struct{})

	reload := func() {
		next, err := cfg.Reload(cli)
		if err != nil {
			logger.Error("reload failed, keeping current chain", "err", err)
			return
		}
		chain, err := service.BuildChain(next.Middlewares)
		if err != nil {
			logger.Error("reload failed, keeping current chain", "err", err)
			return
		}
		old := svc.SwapChain(chain)
		logger.Info("middleware chain reloaded", "middlewares", chain.Len())
		time.AfterFunc(chainDrainTimeout, func() {
			if err := old.Close(); err != nil {
				logger.Warn("closing previous chain", "err", err)
			}
		})
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			signal.Notify(sig, syscall.SIGHUP)
			go func() {
				for {
					select {
					case <-sig:
						reload()
					case <-done:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			signal.Stop(sig)
			close(done)
			return nil
		},
	})
}
