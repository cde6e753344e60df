// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/NaTo1000/infinite-server26/lib/clock"
	"github.com/NaTo1000/infinite-server26/lib/config"
	"github.com/NaTo1000/infinite-server26/lib/process"
	"github.com/NaTo1000/infinite-server26/lib/version"
)

func main() {
	if err := run(); err != nil {
		var invariant *invariantError
		if errors.As(err, &invariant) {
			process.Exit(process.ExitInvariant, err)
		}
		var usage *usageError
		if errors.As(err, &usage) {
			process.Exit(process.ExitUsage, err)
		}
		process.Fatal(err)
	}
}

// usageError marks flag and configuration problems.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func run() error {
	var (
		configPath  string
		envFile     string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("statusd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the statusd YAML or JSONC config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment before the config; ignored if absent")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &usageError{err}
	}
	if showVersion {
		fmt.Fprintf(os.Stdout, "statusd %s\n", version.Full())
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return &usageError{fmt.Errorf("unexpected argument: %s", args[0])}
	}

	if err := loadEnvFile(envFile); err != nil {
		return &usageError{err}
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return &usageError{err}
	}

	logger := cfg.NewLogger(os.Stderr)
	logger.Info("statusd starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"http", cfg.Listen.HTTP,
		"socket", cfg.Listen.Socket,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return newDaemon(cfg, clock.Real(), logger, nil).run(ctx)
}

// loadEnvFile loads path into the environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// loadConfig reads the config from path, then STATUSD_CONFIG, and
// falls back to the defaults when neither is set.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}
