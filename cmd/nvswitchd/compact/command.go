// Package compact implements the "compact" command.
package compact

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"

	cmdcommon "github.com/leptonai/nvswitchd/cmd/nvswitchd/common"
	"github.com/leptonai/nvswitchd/pkg/eventstore"
	"github.com/leptonai/nvswitchd/pkg/log"
	"github.com/leptonai/nvswitchd/pkg/sqlite"
)

func Command(cliContext *cli.Context) error {
	cfg, err := cmdcommon.ConfigFromContext(cliContext)
	if err != nil {
		return err
	}
	if err := cmdcommon.SetupLogger(cfg); err != nil {
		return err
	}
	if cfg.State == "" {
		return cmdcommon.ErrNoStateFile
	}

	log.Logger.Debugw("starting compact command")

	rootCtx, rootCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer rootCancel()

	purged, res, err := run(rootCtx, cfg.State, cliContext.Duration("purge-before"), time.Now())
	if err != nil {
		return err
	}

	if purged > 0 {
		fmt.Printf("%s purged %d event(s)\n", cmdcommon.CheckMark, purged)
	}
	fmt.Printf("%s successfully compacted state file (%s)\n", cmdcommon.CheckMark, res)
	return nil
}

// run purges the events older than purgeBefore (when positive) from every
// device bucket and then compacts the state file.
func run(ctx context.Context, stateFile string, purgeBefore time.Duration, now time.Time) (int, sqlite.CompactResult, error) {
	if _, err := os.Stat(stateFile); err != nil {
		return 0, sqlite.CompactResult{}, fmt.Errorf("failed to find state file: %w", err)
	}

	purged := 0
	if purgeBefore > 0 {
		dbRW, err := sqlite.Open(stateFile)
		if err != nil {
			return 0, sqlite.CompactResult{}, fmt.Errorf("failed to open state file: %w", err)
		}
		dbRO, err := sqlite.Open(stateFile, sqlite.WithReadOnly(true))
		if err != nil {
			_ = dbRW.Close()
			return 0, sqlite.CompactResult{}, fmt.Errorf("failed to open state file: %w", err)
		}

		purged, err = eventstore.PurgeByDevices(ctx, dbRW, dbRO, now.Add(-purgeBefore))
		_ = dbRO.Close()
		_ = dbRW.Close()
		if err != nil {
			return 0, sqlite.CompactResult{}, fmt.Errorf("failed to purge events: %w", err)
		}
	}

	res, err := sqlite.RunCompact(ctx, stateFile)
	if err != nil {
		return purged, res, fmt.Errorf("failed to compact state file: %w", err)
	}
	return purged, res, nil
}
