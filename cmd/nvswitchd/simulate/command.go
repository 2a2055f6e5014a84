package simulate

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"

	cmdcommon "github.com/leptonai/nvswitchd/cmd/nvswitchd/common"
	"github.com/leptonai/nvswitchd/pkg/eventstore"
	"github.com/leptonai/nvswitchd/pkg/log"
	"github.com/leptonai/nvswitchd/pkg/metrics"
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
	format, err := cmdcommon.ParseOutputFormat(cliContext.String("output"))
	if err != nil {
		return err
	}

	log.Logger.Debugw("starting simulate command")

	if !cliContext.Bool("persist") {
		cfg.State = ""
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
	bucket, err := store.Bucket(cfg.Device)
	if err != nil {
		return err
	}
	defer bucket.Close()

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}
	if err := sqlite.Register(reg); err != nil {
		return err
	}

	settle := cliContext.Duration("settle")
	rootCtx, rootCancel := context.WithTimeout(context.Background(), settle+time.Minute)
	defer rootCancel()

	rep, err := Run(rootCtx, cfg, bucket, Params{
		Faults:        cliContext.StringSlice("fault"),
		Settle:        settle,
		DownLinks:     cliContext.IntSlice("down-links"),
		ExternalLinks: cliContext.IntSlice("external-links"),
		Registry:      reg,
	})
	if err != nil {
		return err
	}

	if format == cmdcommon.OutputFormatJSON {
		return cmdcommon.WriteJSON(rep)
	}

	fmt.Printf("%s interrupt pass: %s (%d event(s), %d pending deferred check(s))\n", cmdcommon.CheckMark, rep.Result, len(rep.Events), rep.Pending)
	if len(rep.Events) > 0 {
		cmdcommon.RenderEvents(os.Stdout, rep.Events, time.Now())
	}
	for _, n := range rep.Notifications {
		fmt.Printf("notify %s link %d\n", n.Kind, n.Link)
	}
	for _, r := range rep.Resets {
		fmt.Printf("reset and drain links %s (immediate: %v)\n", r.LinkMask, r.Immediate)
	}
	if len(rep.FatalLinks) > 0 {
		fmt.Printf("%s links with fatal errors: %v\n", cmdcommon.WarningSign, rep.FatalLinks)
	}
	if cliContext.Bool("metrics") {
		for _, m := range rep.Metrics {
			fmt.Printf("%s%v %v\n", m.Name, m.Labels, m.Value)
		}
		if db := rep.StateDB; db != nil {
			fmt.Printf("state db: %d write(s) %.1f/s avg %v, %d select(s) %.1f/s avg %v\n",
				db.Queries.Writes.Count, db.Rates.Writes, db.Queries.Writes.Avg(),
				db.Queries.Selects.Count, db.Rates.Selects, db.Queries.Selects.Avg())
		}
	}
	if rep.Dropped > 0 {
		fmt.Printf("%s %d sink record(s) dropped\n", cmdcommon.WarningSign, rep.Dropped)
	}
	return nil
}
