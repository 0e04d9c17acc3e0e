package main

import (
	"fmt"
	"os"

	"github.com/fxnlabs/gpustream/fixtures"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the configuration file",
		Subcommands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Write the default configuration to `FILE`, or stdout when omitted",
				ArgsUsage: "[FILE]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					if path == "" {
						_, err := c.App.Writer.Write(fixtures.ConfigTemplate)
						return err
					}
					if _, err := os.Stat(path); err == nil && !c.Bool("force") {
						return fmt.Errorf("%s already exists, use --force to overwrite", path)
					}
					if err := os.WriteFile(path, fixtures.ConfigTemplate, 0o644); err != nil {
						return err
					}
					log := c.App.Metadata["logger"].(*zap.Logger)
					log.Info("wrote default configuration", zap.String("path", path))
					return nil
				},
			},
		},
	}
}
