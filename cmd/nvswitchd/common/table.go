package common

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/leptonai/nvswitchd/pkg/nvswitch"
)

// RenderEvents writes the events as a table, newest first as given.
func RenderEvents(wr io.Writer, events []nvswitch.ErrorEvent, now time.Time) {
	table := tablewriter.NewWriter(wr)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"Time", "SXid", "Severity", "Block", "Link", "Instance", "Name", "Address", "Data"})
	for _, ev := range events {
		link := "-"
		if ev.LinkID != nvswitch.NoLink {
			link = strconv.Itoa(ev.LinkID)
		}
		addr := "-"
		if ev.Address != nil {
			addr = fmt.Sprintf("0x%x", *ev.Address)
		}
		data := "-"
		if len(ev.Data) > 0 {
			data = fmt.Sprintf("%#x", ev.Data)
		}
		table.Append([]string{
			humanize.RelTime(ev.Time, now, "ago", "from now"),
			strconv.Itoa(ev.Kind),
			ev.Severity.String(),
			ev.Block.String(),
			link,
			strconv.Itoa(ev.Instance),
			ev.Name,
			addr,
			data,
		})
	}
	table.Render()
}
