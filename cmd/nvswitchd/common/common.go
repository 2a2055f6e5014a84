// Package common holds the helpers shared by the nvswitchd subcommands.
package common

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/urfave/cli"

	"github.com/leptonai/nvswitchd/pkg/config"
	"github.com/leptonai/nvswitchd/pkg/log"
	"github.com/leptonai/nvswitchd/pkg/sqlite"
)

const (
	CheckMark   = "\033[32m✔\033[0m"
	WarningSign = "\033[31m✘\033[0m"
)

var ErrNoStateFile = errors.New("no state file configured (set --data-dir or 'state' in the config file)")

// ConfigFromContext builds the config from the defaults, the --config
// file and the global flags, in that order.
func ConfigFromContext(cliContext *cli.Context) (*config.Config, error) {
	var opts []config.OpOption
	if cliContext != nil {
		if d := cliContext.GlobalString("data-dir"); d != "" {
			opts = append(opts, config.WithDataDir(d))
		}
		if cliContext.GlobalBool("db-in-memory") {
			opts = append(opts, config.WithInMemory(true))
		}
	}

	cfg, err := config.DefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	if cliContext == nil {
		return cfg, cfg.Validate()
	}

	if f := cliContext.GlobalString("config"); f != "" {
		if err := config.LoadFile(cfg, f); err != nil {
			return nil, err
		}
	}
	if cliContext.GlobalIsSet("log-level") {
		cfg.LogLevel = cliContext.GlobalString("log-level")
	}
	if cliContext.GlobalIsSet("log-file") {
		cfg.LogFile = cliContext.GlobalString("log-file")
	}
	if cliContext.GlobalIsSet("device") {
		cfg.Device = cliContext.GlobalString("device")
	}
	return cfg, cfg.Validate()
}

// SetupLogger replaces the process-wide logger per the config.
func SetupLogger(cfg *config.Config) error {
	zapLvl, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLogger(log.CreateLogger(zapLvl, cfg.LogFile))
	return nil
}

// OpenState opens the read-write and read-only handles of the state
// database, or of a shared in-memory database when no state file is
// configured.
func OpenState(cfg *config.Config) (*sql.DB, *sql.DB, func(), error) {
	file := cfg.State
	var opts []sqlite.OpOption
	if file == "" {
		file = ":memory:"
		opts = append(opts, sqlite.WithCache("shared"))
	}

	dbRW, err := sqlite.Open(file, opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open state file: %w", err)
	}
	dbRO, err := sqlite.Open(file, append(opts, sqlite.WithReadOnly(true))...)
	if err != nil {
		_ = dbRW.Close()
		return nil, nil, nil, fmt.Errorf("failed to open state file: %w", err)
	}
	return dbRW, dbRO, func() {
		_ = dbRO.Close()
		_ = dbRW.Close()
	}, nil
}
