package command

import (
	"github.com/urfave/cli"

	cmdcompact "github.com/leptonai/nvswitchd/cmd/nvswitchd/compact"
	cmddecode "github.com/leptonai/nvswitchd/cmd/nvswitchd/decode"
	cmdevents "github.com/leptonai/nvswitchd/cmd/nvswitchd/events"
	cmdsimulate "github.com/leptonai/nvswitchd/cmd/nvswitchd/simulate"
	"github.com/leptonai/nvswitchd/pkg/config"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/sink"
	"github.com/leptonai/nvswitchd/version"
)

const usage = `
# to raise a fault on a simulated switch and print the reported events
nvswitchd simulate --fault route.nonfatal.0/5/1

# to list the persisted error events of the last hour
nvswitchd events --since 1h
`

func App() *cli.App {
	app := cli.NewApp()

	app.Name = "nvswitchd"
	app.Version = version.String()
	app.Usage = usage
	app.Description = "NVSwitch interrupt servicing and error reporting"

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "config,c",
			Usage: "set the YAML config file (flags override its values)",
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "set the data directory for the state file (default: /var/lib/nvswitchd or ~/.nvswitchd for non-root)",
		},
		&cli.BoolFlag{
			Name:  "db-in-memory",
			Usage: "keep the error events in memory only",
		},
		&cli.StringFlag{
			Name:  "device",
			Usage: "set the PCI device ID printed in SXid lines",
			Value: sink.DefaultDeviceID,
		},
		&cli.StringFlag{
			Name:  "log-level,l",
			Usage: "set the logging level [debug, info, warn, error, fatal, panic, dpanic]",
			Value: config.DefaultLogLevel,
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "set the log file path (leave empty to log to stderr)",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:  "simulate",
			Usage: "injects faults into a simulated switch, services the interrupts and prints the reported events",
			UsageText: `# inject a fault by tree, instance and bit
nvswitchd simulate --fault route.nonfatal.0/5/1

# inject a MINION link fault on link 5 with link 5 held in safe mode
nvswitchd simulate --fault minion/5/BADINIT --down-links 5 --settle 2s

# inject by SXid on instance 0
nvswitchd simulate --fault sxid/12028/0 --output json`,
			Action: cmdsimulate.Command,
			Flags: []cli.Flag{
				&cli.StringSliceFlag{
					Name:  "fault,f",
					Usage: "fault to inject: <tree>/<instance>/<bit>, minion/<link>/<code> or sxid/<id>/<instance> (repeatable)",
				},
				&cli.DurationFlag{
					Name:  "settle",
					Usage: "how long to run the deferred scheduler after servicing",
					Value: cmdsimulate.DefaultSettle,
				},
				&cli.IntSliceFlag{
					Name:  "down-links",
					Usage: "links the simulated trainer reports in safe mode",
				},
				&cli.IntSliceFlag{
					Name:  "external-links",
					Usage: "links the simulated trainer reports as externally managed",
				},
				&cli.BoolFlag{
					Name:  "metrics",
					Usage: "print the interrupt and state file counters after the run",
				},
				&cli.BoolFlag{
					Name:  "persist",
					Usage: "write the events to the state file instead of memory",
				},
				&cli.StringFlag{
					Name:  "output,o",
					Usage: "output format [plain, json]",
				},
			},
		},
		{
			Name:   "events",
			Usage:  "lists the error events persisted in the state file",
			Action: cmdevents.Command,
			Flags: []cli.Flag{
				&cli.DurationFlag{
					Name:  "since",
					Usage: "list events newer than this",
					Value: config.DefaultRetentionPeriod.Duration,
				},
				&cli.IntSliceFlag{
					Name:  "sxid",
					Usage: "only list these SXids",
				},
				&cli.IntSliceFlag{
					Name:  "exclude-sxid",
					Usage: "do not list these SXids",
				},
				&cli.IntFlag{
					Name:  "limit",
					Usage: "list at most this many events (0 for all)",
				},
				&cli.StringFlag{
					Name:  "output,o",
					Usage: "output format [plain, json]",
				},
			},
		},
		{
			Name:   "compact",
			Usage:  "purge old error events and compact the state file (nvswitchd must be stopped)",
			Action: cmdcompact.Command,
			Flags: []cli.Flag{
				&cli.DurationFlag{
					Name:  "purge-before",
					Usage: "purge events older than this before compacting (0 to keep all)",
				},
			},
		},
		{
			Name:      "decode",
			Usage:     "decodes SXid log lines into their fault descriptions",
			ArgsUsage: "[LINE...] (reads stdin when no line is given)",
			Action:    cmddecode.Command,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "output,o",
					Usage: "output format [plain, json]",
				},
			},
		},
	}

	return app
}
