package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/sqlstream/internal/pipeline"
	"github.com/ajitpratap0/sqlstream/pkg/config"
	"github.com/ajitpratap0/sqlstream/pkg/connector/destinations/kinesis"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
	"github.com/ajitpratap0/sqlstream/pkg/logger"
	"github.com/ajitpratap0/sqlstream/pkg/metrics"
)

var version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "sqlstream",
		Short: "Stream relational table rows into Amazon Kinesis",
		Long: `sqlstream polls database tables incrementally and delivers every new row
to a Kinesis data stream. Progress is checkpointed per table so a restart
resumes where the previous run stopped.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sqlstream v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var configFile string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the configured tables until interrupted",
		Example: `  sqlstream run --config /etc/sqlstream/config.yml
  SQLSTREAM_SOURCE_PASSWORD=secret sqlstream run -c config.yml --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile, logLevel)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the YAML configuration file (required)")
	_ = runCmd.MarkFlagRequired("config")
	root.AddCommand(runCmd)

	var validateFile string
	var checkStream bool
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validate(cmd.Context(), validateFile, logLevel, checkStream)
		},
	}
	validateCmd.Flags().StringVarP(&validateFile, "config", "c", "", "Path to the YAML configuration file (required)")
	validateCmd.Flags().BoolVar(&checkStream, "check-stream", false, "Also describe the Kinesis stream")
	_ = validateCmd.MarkFlagRequired("config")
	root.AddCommand(validateCmd)

	return root
}

// loadConfig reads the configuration and initializes the global logger
func loadConfig(path, logLevel string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, nil, err
	}
	return cfg, logger.Get().With(zap.String("component", "sqlstream-cli")), nil
}

func run(configFile, logLevel string) error {
	cfg, log, err := loadConfig(configFile, logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info("starting sqlstream",
		zap.String("version", version),
		zap.String("config", configFile),
		zap.String("adapter", cfg.Source.Adapter),
		zap.Int("tables", len(cfg.Source.Tables)),
		zap.String("stream", cfg.Sink.StreamName))

	p, err := pipeline.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed",
			zap.String("error_class", string(errors.TypeOf(err))),
			zap.Bool("fatal", errors.IsFatal(err)),
			zap.Error(err))
		return err
	}

	return p.Run(ctx)
}

func serveMetrics(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics listener failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}

func validate(ctx context.Context, configFile, logLevel string, checkStream bool) error {
	cfg, log, err := loadConfig(configFile, logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if checkStream {
		conn, err := kinesis.Connect(ctx, kinesis.ConnectionConfigFromSink(cfg.Sink), log)
		if err != nil {
			return err
		}
		if err := conn.Validate(ctx, cfg.Sink.StreamName); err != nil {
			return err
		}
	}

	fmt.Printf("configuration %s is valid (%d tables, stream %s)\n", configFile, len(cfg.Source.Tables), cfg.Sink.StreamName)
	return nil
}
