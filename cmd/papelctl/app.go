package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"papelflow/internal/backend"
	"papelflow/internal/config"
	"papelflow/internal/core"
	"papelflow/internal/log"

	"github.com/google/subcommands"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

type session struct {
	cfg *config.Config
	svc backend.Services
}

// withSession opens the configured backend, runs fn and closes it again.
// Logs go to stderr so command output stays machine readable.
func withSession(ctx context.Context, fn func(context.Context, *session) error) subcommands.ExitStatus {
	logCfg := log.DefaultConfig()
	logCfg.Level = log.ParseLevel(os.Getenv("LOG_LEVEL"))
	logCfg.Component = log.ComponentCLI
	logCfg.Output = stderr
	log.SetDefault(log.New(logCfg))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	res, err := backend.NewFactory(nil).CreateBackend(ctx, bcfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer res.Close()

	if err := fn(ctx, &session{cfg: cfg, svc: backend.NewServices(res, cfg)}); err != nil {
		fmt.Fprintf(stderr, "Error (%s): %v\n", core.ErrorKind(err), err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// dateFlag parses a -d value, defaulting to today.
func dateFlag(s string) (core.Date, error) {
	if s == "" {
		return core.Today(), nil
	}
	return core.ParseDate(s)
}

// monthFlag parses a -m value, defaulting to the current month.
func monthFlag(s string) (core.Month, error) {
	if s == "" {
		return core.Today().MonthOf(), nil
	}
	return core.ParseMonth(s)
}

func usageError(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(stderr, "Error: "+format+"\n", args...)
	return subcommands.ExitUsageError
}
