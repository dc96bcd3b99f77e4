// Command schedsim runs a workload of prioritized, sliced tasks through the
// frame scheduler and prints the order in which the slices ran.
//
//	schedsim run --config workload.yaml --metrics-addr :9090
//	schedsim priorities
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "schedsim",
		Usage: "Simulate cooperative priority scheduling",
		Commands: []*cli.Command{
			runCommand(),
			prioritiesCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
