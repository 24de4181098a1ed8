// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/timekeep-io/timekeep/cmd/timerd/bootstrap"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // embedded sqlite driver
)

func main() {
	app := &cli.App{
		Name:  "timekeep server",
		Usage: "start the timekeep timer server",
		Action: func(c *cli.Context) error {
			bootstrap.StartTimekeepServerCli(c)
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  bootstrap.FlagConfig,
				Value: "./config/development.yaml",
				Usage: "the config to start the timekeep server",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
