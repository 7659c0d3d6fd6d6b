package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath      string
	Mode            string
	Listen          string
	Speed           float64
	Loop            bool
	Limit           int
	MetricsListen   string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool

	// set records which flags were given explicitly, so only those
	// override the config file.
	set map[string]bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("RETAILSTREAMS_CONFIG", ""),
		"Path to configuration file, empty = built-in defaults (env: RETAILSTREAMS_CONFIG)")

	flag.StringVar(&cfg.Mode, "mode",
		getEnv("RETAILSTREAMS_MODE", "all"),
		"Run mode: serve, detect, all (env: RETAILSTREAMS_MODE)")

	flag.StringVar(&cfg.Listen, "listen", "", "Replay server listen address (overrides config)")
	flag.Float64Var(&cfg.Speed, "speed", 0, "Replay speed multiplier, 0 = as fast as possible (overrides config)")
	flag.BoolVar(&cfg.Loop, "loop", false, "Loop the dataset (overrides config)")
	flag.IntVar(&cfg.Limit, "limit", 0, "Stop the detector after N records, 0 = unbounded (overrides config)")
	flag.StringVar(&cfg.MetricsListen, "metrics-listen", "", "Prometheus exposition address (overrides config)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("RETAILSTREAMS_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: RETAILSTREAMS_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("RETAILSTREAMS_LOG_FORMAT", "text"),
		"Log format: json, text (env: RETAILSTREAMS_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("RETAILSTREAMS_SHUTDOWN_TIMEOUT", 15*time.Second),
		"Graceful shutdown timeout (env: RETAILSTREAMS_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp
	flag.Parse()

	cfg.set = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	switch cfg.Mode {
	case "serve", "detect", "all":
	default:
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}

	if !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.Speed < 0 {
		return fmt.Errorf("speed cannot be negative: %f", cfg.Speed)
	}
	if cfg.Limit < 0 {
		return fmt.Errorf("limit cannot be negative: %d", cfg.Limit)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Retail Sensor Stream Detection

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Replay recorded datasets on the default port
  %s --mode=serve --config=configs/store.json

  # Run detection against a running replay server
  %s --mode=detect --config=configs/store.json

  # Replay and detect in one process, as fast as possible
  %s --mode=all --speed=0

  # Validate configuration only
  %s --config=configs/store.json --validate

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
