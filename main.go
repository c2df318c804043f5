/*
 * Project: nrpc-lite
 * ---------------------
 * Authors:
 *   Minjian Chen 813534
 *   Shijie Liu   813277
 *   Weizhi Xu    752454
 *   Wenqing Xue  813044
 *   Zijun Chen   813190
 */

package main

import (
	"log"
	"os"

	"github.com/PwzXxm/nrpc-lite/functests"
	"github.com/PwzXxm/nrpc-lite/simulation"
	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func main() {
	// run simulation
	cmdSimulation := &cli.Command{
		Name:  "simulation",
		Usage: "commands for running simulation",
		Subcommands: []*cli.Command{
			{
				Name:  "local",
				Usage: "start a local simulation",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "n", Usage: "number of providers", Required: true},
				},
				Action: func(c *cli.Context) error {
					if c.Int("n") == 0 {
						return errors.New("please provide -n")
					}
					return localSimulation(c.Int("n"))
				},
			},
		},
	}
	// run functional test
	cmdFunctional := &cli.Command{
		Name:  "functionaltest",
		Usage: "commands for running functional tests",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list all avaliable tests",
				Action: func(c *cli.Context) error {
					functests.List()
					return nil
				},
			},
			{
				Name:  "count",
				Usage: "count all avaliable tests",
				Action: func(c *cli.Context) error {
					functests.Count()
					return nil
				},
			},
			{
				Name:  "run",
				Usage: "run a specific tests",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "n", Usage: "test id", Required: true},
				},
				Action: func(c *cli.Context) error {
					return functests.Run(c.Int("n"))
				},
			},
		},
	}
	// run a provider
	cmdProvider := &cli.Command{
		Name:  "provider",
		Usage: "commands for running a provider",
		Flags: []cli.Flag{
			&cli.PathFlag{Name: "c", Usage: "provider config file path", Required: true},
		},
		Action: func(c *cli.Context) error {
			return StartProviderFromFile(c.Path("c"))
		},
	}
	// run an interactive consumer
	cmdConsumer := &cli.Command{
		Name:  "consumer",
		Usage: "commands for starting an interactive consumer",
		Flags: []cli.Flag{
			&cli.PathFlag{Name: "c", Usage: "consumer config file path", Required: true},
		},
		Action: func(c *cli.Context) error {
			return StartConsumerFromFile(c.Path("c"))
		},
	}
	// run the standalone registry
	cmdRegistry := &cli.Command{
		Name:  "registry",
		Usage: "commands for running the standalone registry",
		Flags: []cli.Flag{
			&cli.PathFlag{Name: "c", Usage: "registry config file path", Required: true},
		},
		Action: func(c *cli.Context) error {
			return StartRegistryFromFile(c.Path("c"))
		},
	}
	// run complex testcases where actions are generated randomly
	cmdIntegrationTest := &cli.Command{
		Name:  "integrationtest",
		Usage: "run complex testcases where actions are generated randomly",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "t", Usage: "time in minutes", Required: true},
		},
		Action: func(c *cli.Context) error {
			return functests.RunComplex(c.Int64("t"))
		},
	}
	app := &cli.App{
		Name:  "nrpc-lite",
		Usage: "a small rpc runtime with registry, load balancing and graceful shutdown",
		Before: func(c *cli.Context) error {
			figure.NewFigure("nrpc-lite", "", true).Print()
			return nil
		},
		Commands: []*cli.Command{
			cmdSimulation,
			cmdFunctional,
			cmdProvider,
			cmdConsumer,
			cmdRegistry,
			cmdIntegrationTest,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}

}

func localSimulation(n int) error {
	sl := simulation.RunLocally(n)
	defer sl.StopAll()

	sl.StartReadingCMD()
	return nil
}
