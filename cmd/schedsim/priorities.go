package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-frame-scheduler/core"
)

func prioritiesCommand() *cli.Command {
	return &cli.Command{
		Name:    "priorities",
		Aliases: []string{"p"},
		Usage:   "List priority levels and their timeouts",
		Action: func(c *cli.Context) error {
			return printPriorities(c.App.Writer)
		},
	}
}

func printPriorities(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tNAME\tTIMEOUT")
	for _, level := range core.Priorities() {
		timeout, err := core.TimeoutFor(level)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%d\t%s\t%v\n", int(level), level, timeout)
	}
	return tw.Flush()
}
