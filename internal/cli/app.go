package cli

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"vidsight/internal/api"
	"vidsight/internal/config"
	"vidsight/internal/logging"
	"vidsight/internal/poller"
	"vidsight/internal/telemetry"
)

// commonFlags are accepted by every command that talks to the backend.
type commonFlags struct {
	config   *string
	apiURL   *string
	logLevel *string
	logFile  *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config:   fs.String("config", config.DefaultPath, "config file path"),
		apiURL:   fs.String("api-url", "", "backend base URL (overrides config and env)"),
		logLevel: fs.String("log-level", "", "log level: debug|info|warn|error"),
		logFile:  fs.String("log-file", "", "write logs to this file instead of stderr"),
	}
}

// app bundles what a command needs to reach the backend.
type app struct {
	cfg     config.Config
	log     *zap.SugaredLogger
	client  *api.Client
	sched   *poller.Scheduler
	metrics *telemetry.Collector
	reg     *prometheus.Registry

	metricsSrv *echo.Echo
}

// openApp loads config and builds the logger, API client, metrics and a
// shared poll scheduler. tui sends logs to a file unless one is given.
func openApp(f commonFlags, tui bool) (*app, error) {
	config.LoadDotEnv()
	cfg, err := config.Load(strings.TrimSpace(*f.config))
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(*f.apiURL); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(*f.logLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(*f.logFile); v != "" {
		cfg.LogFile = v
	}
	cfg = config.Normalize(cfg)

	logFile := cfg.LogFile
	if tui && logFile == "" {
		logFile = logging.DefaultFile()
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, File: logFile})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)
	a := &app{
		cfg: cfg,
		log: log,
		client: api.New(api.Options{
			BaseURL: cfg.APIURL,
			Token:   cfg.Token,
			Timeout: cfg.RequestTimeout,
			Logger:  log.Named("api"),
		}),
		sched:   poller.New(poller.Options{Logger: log.Named("poller"), Observer: metrics}),
		metrics: metrics,
		reg:     reg,
	}
	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}
	return a, nil
}

func (a *app) serveMetrics(addr string) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(telemetry.Handler(a.reg)))
	a.metricsSrv = e
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warnw("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	a.log.Infow("serving metrics", "addr", addr)
}

func (a *app) Close() {
	a.sched.CancelAll()
	a.sched.Wait()
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsSrv.Shutdown(ctx)
		cancel()
	}
	_ = a.log.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
