// Package events implements the "events" command.
package events

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	cmdcommon "github.com/leptonai/nvswitchd/cmd/nvswitchd/common"
	"github.com/leptonai/nvswitchd/pkg/eventstore"
	"github.com/leptonai/nvswitchd/pkg/log"
	"github.com/leptonai/nvswitchd/pkg/nvswitch"
)

// Query selects the events to list.
type Query struct {
	Since   time.Duration
	Select  []int
	Exclude []int
	Limit   int
}

func Command(cliContext *cli.Context) error {
	cfg, err := cmdcommon.ConfigFromContext(cliContext)
	if err != nil {
		return err
	}
	if err := cmdcommon.SetupLogger(cfg); err != nil {
		return err
	}
	format, err := cmdcommon.ParseOutputFormat(cliContext.String("output"))
	if err != nil {
		return err
	}
	if cfg.State == "" {
		return cmdcommon.ErrNoStateFile
	}

	dbRW, dbRO, closeDB, err := cmdcommon.OpenState(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	store, err := eventstore.New(dbRW, dbRO, cfg.RetentionPeriod.Duration)
	if err != nil {
		return err
	}
	bucket, err := store.Bucket(cfg.Device, eventstore.WithDisablePurge())
	if err != nil {
		return err
	}
	defer bucket.Close()

	rootCtx, rootCancel := context.WithTimeout(context.Background(), time.Minute)
	defer rootCancel()

	now := time.Now()
	evs, err := list(rootCtx, bucket, Query{
		Since:   cliContext.Duration("since"),
		Select:  cliContext.IntSlice("sxid"),
		Exclude: cliContext.IntSlice("exclude-sxid"),
		Limit:   cliContext.Int("limit"),
	}, now)
	if err != nil {
		return err
	}

	if format == cmdcommon.OutputFormatJSON {
		return cmdcommon.WriteJSON(evs)
	}
	if len(evs) == 0 {
		fmt.Printf("%s no event since %s\n", cmdcommon.CheckMark, humanize.Time(now.Add(-cliContext.Duration("since"))))
		return nil
	}
	fmt.Printf("%d event(s) for %s, latest %s\n", len(evs), cfg.Device, humanize.Time(evs[0].Time))
	cmdcommon.RenderEvents(os.Stdout, evs, now)
	return nil
}

func list(ctx context.Context, bucket eventstore.Bucket, q Query, now time.Time) ([]nvswitch.ErrorEvent, error) {
	var opts []eventstore.OpOption
	if len(q.Select) > 0 {
		opts = append(opts, eventstore.WithKindsToSelect(q.Select...))
	}
	if len(q.Exclude) > 0 {
		opts = append(opts, eventstore.WithKindsToExclude(q.Exclude...))
	}
	if q.Limit > 0 {
		opts = append(opts, eventstore.WithLimit(q.Limit))
	}

	evs, err := bucket.Get(ctx, now.Add(-q.Since), opts...)
	if err != nil {
		return nil, err
	}
	log.Logger.Debugw("listed events", "count", len(evs), "since", q.Since)
	return evs.ErrorEvents(), nil
}
