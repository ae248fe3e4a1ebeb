// Copyright 2025 The go-lucid Authors
// This file is part of go-lucid.
//
// go-lucid is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-lucid is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-lucid. If not, see <http://www.gnu.org/licenses/>.

// lucid is the command-line entry point into the Lucid service stack.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/lucid-rdp/go-lucid/node"
	"github.com/lucid-rdp/go-lucid/params"
)

const shutdownGrace = 30 * time.Second

var envFileFlag = &cli.StringFlag{
	Name:  "env",
	Usage: "load environment variables from `FILE` before reading the configuration",
}

func main() {
	app := &cli.App{
		Name:    "lucid",
		Usage:   "session recording, consensus and payout node",
		Version: params.VersionWithMeta,
		Flags:   []cli.Flag{envFileFlag},
		Action:  run,
		Commands: []*cli.Command{
			{
				Name:   "version",
				Usage:  "Print version numbers",
				Action: version,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// run boots the node and blocks until SIGINT or SIGTERM. Configuration
// problems surface before any service starts and exit non-zero.
func run(c *cli.Context) error {
	if file := c.String(envFileFlag.Name); file != "" {
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("loading environment file %s: %w", file, err)
		}
	}
	cfg, err := node.ConfigFromEnv()
	if err != nil {
		return err
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logrus.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := node.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	stop()
	logrus.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return n.Stop(shutdownCtx)
}

func version(*cli.Context) error {
	fmt.Println("Lucid")
	fmt.Println("Version:", params.VersionWithMeta)
	fmt.Println("Architecture:", runtime.GOARCH)
	fmt.Println("Go Version:", runtime.Version())
	fmt.Println("Operating System:", runtime.GOOS)
	return nil
}
