// cmd/fra-automation/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/tamzrod/frequency-response-automation/internal/config"
	"github.com/tamzrod/frequency-response-automation/internal/logging"
	"github.com/tamzrod/frequency-response-automation/internal/metrics"
	"github.com/tamzrod/frequency-response-automation/internal/orchestrator"
)

const appName = "fra_automation"

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional
	_ = godotenv.Load()

	var (
		configPath    = kingpin.Flag("config", "Path to the YAML configuration.").Default("fra.yaml").Envar("FRA_CONFIG").String()
		logLevel      = kingpin.Flag("log.level", "Log level, overrides the configuration.").Envar("FRA_LOG_LEVEL").String()
		offline       = kingpin.Flag("offline", "Use the simulated axis and engine.").Envar("FRA_OFFLINE").Bool()
		outputDir     = kingpin.Flag("output.dir", "Result directory, overrides the configuration.").Envar("FRA_OUTPUT_DIR").String()
		listenAddress = kingpin.Flag("web.listen-address", "Address to expose metrics on, overrides the configuration.").Envar("FRA_LISTEN_ADDRESS").String()
	)

	kingpin.Version(version.Print(appName))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Errorf("config load failed: %v", err)
		return 1
	}

	if *logLevel != "" {
		cfg.FRA.LogLevel = *logLevel
	}
	if *offline {
		cfg.FRA.Axis.Driver = config.DriverSim
	}
	if *outputDir != "" {
		cfg.FRA.OutputDir = *outputDir
	}
	if *listenAddress != "" {
		cfg.FRA.Metrics.ListenAddress = *listenAddress
	}

	if err := config.Validate(cfg); err != nil {
		logrus.Errorf("config validation failed: %v", err)
		return 1
	}
	config.Normalize(cfg)

	log := logging.New(cfg.FRA.LogLevel)
	log.Infoln("Starting", appName, version.Info())
	log.Infoln("Build context", version.BuildContext())

	// --------------------
	// Metrics
	// --------------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(version.NewCollector(appName))
	m := metrics.New(reg)

	if addr := cfg.FRA.Metrics.ListenAddress; addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.FRA.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			log.Infoln("Listening on", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics endpoint stopped")
			}
		}()
		defer srv.Close()
	}

	// --------------------
	// Build + run
	// --------------------

	orch, plan, closeDevices, err := orchestrator.Build(cfg, log, m)
	if err != nil {
		log.WithError(err).Error("build failed")
		return 1
	}
	defer func() {
		if err := closeDevices(); err != nil {
			log.WithError(err).Error("closing drive connection failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reports, runErr := orch.Run(ctx, plan)
	for i, rep := range reports {
		entry := log.WithFields(logrus.Fields{
			"position_index": i,
			"duration":       rep.Duration,
		})
		switch {
		case rep.TimedOut:
			entry.Warn("measurement timed out")
		default:
			entry.WithField("path", rep.Outcome.ResultPath).Infof("measurement %s", rep.Outcome.Status)
		}
	}

	// always leave the drive powered down
	if err := orch.Shutdown(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	if runErr != nil {
		log.WithError(runErr).Error("run failed")
		return 1
	}
	log.Info("run finished")
	return 0
}
