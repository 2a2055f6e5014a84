// Package decode implements the "decode" command.
package decode

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	cmdcommon "github.com/leptonai/nvswitchd/cmd/nvswitchd/common"
	"github.com/leptonai/nvswitchd/pkg/sxid"
)

func Command(cliContext *cli.Context) error {
	format, err := cmdcommon.ParseOutputFormat(cliContext.String("output"))
	if err != nil {
		return err
	}

	var lines []sxid.Line
	if args := cliContext.Args(); len(args) > 0 {
		lines = decodeLines(args)
	} else {
		lines, err = decodeReader(os.Stdin)
		if err != nil {
			return err
		}
	}

	if format == cmdcommon.OutputFormatJSON {
		return cmdcommon.WriteJSON(lines)
	}
	if len(lines) == 0 {
		fmt.Printf("%s no SXid line found\n", cmdcommon.WarningSign)
		return nil
	}
	render(os.Stdout, lines)
	return nil
}

// decodeLines parses the SXid lines and skips everything else.
func decodeLines(raw []string) []sxid.Line {
	out := make([]sxid.Line, 0, len(raw))
	for _, s := range raw {
		if l, ok := sxid.ParseLine(s); ok {
			out = append(out, l)
		}
	}
	return out
}

func decodeReader(rd io.Reader) ([]sxid.Line, error) {
	var raw []string
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		raw = append(raw, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return decodeLines(raw), nil
}

func render(wr io.Writer, lines []sxid.Line) {
	table := tablewriter.NewWriter(wr)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"Device", "SXid", "Logged As", "Name", "Class", "Recovery", "Message"})
	for _, l := range lines {
		sev := "Non-fatal"
		if l.Fatal {
			sev = "Fatal"
		}
		name, class, recovery := "unknown", "-", "-"
		if l.Detail != nil {
			name = l.Detail.Name
			class = l.Detail.Class.String()
			recovery = l.Detail.Recovery
		}
		table.Append([]string{
			l.DeviceID,
			strconv.Itoa(l.SXid),
			sev,
			name,
			class,
			recovery,
			strings.TrimSpace(l.Message),
		})
	}
	table.Render()
}
