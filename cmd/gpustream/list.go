package main

import (
	"fmt"

	"github.com/fxnlabs/gpustream/internal/gpu"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the devices a benchmark can run on",
		Action: func(c *cli.Context) error {
			log := c.App.Metadata["logger"].(*zap.Logger)
			devices := gpu.ListDevices(log)
			if len(devices) == 0 {
				return fmt.Errorf("no devices found")
			}

			w := c.App.Writer
			fmt.Fprintln(w, "Devices:")
			for _, d := range devices {
				fmt.Fprintf(w, "%d: %s [%s] %.1f GB total, %.1f GB available\n",
					d.Index, d.Name, d.Backend,
					float64(d.TotalMemory)*1e-9, float64(d.AvailableMemory)*1e-9)
			}
			return nil
		},
	}
}
