package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/NavarchProject/eventdriver/pkg/scenario"
)

// printTrace writes one row per invocation with the labels that fired in it.
func printTrace(w io.Writer, r *scenario.Report) {
	fired := make(map[time.Duration][]string)
	for _, f := range r.Firings {
		fired[f.HostTime] = append(fired[f.HostTime], f.Label)
	}

	table := tablewriter.NewWriter(w)
	table.Append([]string{"Seq", "At", "Elapsed", "Trigger", "Alarm", "Argument", "Fired"})

	for _, inv := range r.Invocations {
		table.Append([]string{
			fmt.Sprintf("%d", inv.Seq),
			formatHostTime(inv.At),
			formatHostTime(inv.Elapsed),
			string(inv.Trigger),
			orDash(inv.Alarm),
			orDash(inv.Argument),
			orDash(strings.Join(fired[inv.At], " ")),
		})
	}

	table.Render()
}

func formatHostTime(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
