// Command fluxcat digests files concurrently and prints the results in input
// order.
//
//	fluxcat [flags] [file ...]
//
// Without file arguments, paths are read from stdin, one per line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/kbukum/flux/config"
	"github.com/kbukum/flux/flux"
	"github.com/kbukum/flux/logger"
	"github.com/kbukum/flux/observability"
	"github.com/kbukum/flux/validation"
	"github.com/kbukum/flux/version"
)

const serviceName = "fluxcat"

// Config is the fluxcat configuration file.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
	Digest               DigestConfig `yaml:"digest" mapstructure:"digest"`
}

// DigestConfig controls the digest pipeline.
type DigestConfig struct {
	// Concurrency caps files hashed at once. Zero uses flux.default_concurrency.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=0"`
	// Store is an optional SQLite file that receives every digest.
	Store string `yaml:"store" mapstructure:"store"`
}

func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	return validation.Validate(&c.Digest)
}

func main() {
	var (
		configFile  = pflag.StringP("config", "c", "", "config file")
		envFile     = pflag.String("env", "", ".env file")
		concurrency = pflag.IntP("concurrency", "j", -1, "files hashed at once (overrides config)")
		store       = pflag.String("store", "", "SQLite file to record digests in (overrides config)")
		showVersion = pflag.BoolP("version", "v", false, "print version and exit")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	var opts []config.LoaderOption
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	if *envFile != "" {
		opts = append(opts, config.WithEnvFile(*envFile))
	}
	cfg, err := config.Load[Config](serviceName, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fluxcat: %v\n", err)
		os.Exit(2)
	}
	if *concurrency >= 0 {
		cfg.Digest.Concurrency = *concurrency
	}
	if *store != "" {
		cfg.Digest.Store = *store
	}
	if err := cfg.Apply(); err != nil {
		fmt.Fprintf(os.Stderr, "fluxcat: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.WithComponent(serviceName)
	log.Info("starting", version.Get().Fields())

	shutdown := initTelemetry(ctx, cfg, log)
	defer shutdown()

	var paths *flux.Sequence[string]
	if args := pflag.Args(); len(args) > 0 {
		paths = flux.FromSlice(args)
	} else {
		paths = lines(os.Stdin)
	}

	if err := run(ctx, cfg.Digest, paths, os.Stdout); err != nil {
		log.Error("digest failed", logger.ErrorFields("digest", err))
		shutdown()
		os.Exit(1)
	}
}

// initTelemetry starts the OTLP exporters when enabled and returns a func
// that flushes and stops them.
func initTelemetry(ctx context.Context, cfg *Config, log *logger.Logger) func() {
	if !cfg.Telemetry.Enabled {
		return func() {}
	}
	tel, err := observability.Start(ctx, &cfg.Telemetry.Tracing, &cfg.Telemetry.Metrics)
	if err != nil {
		log.Warn("telemetry partly disabled", logger.MergeWithError(nil, err))
	}
	flux.SetMetrics(tel.Metrics)

	return func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn("telemetry shutdown failed", logger.MergeWithError(nil, err))
		}
	}
}
