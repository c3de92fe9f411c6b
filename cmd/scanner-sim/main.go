// Command scanner-sim serves a simulated scanner over UDP so psenscan can be
// exercised without hardware.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/banshee-data/safety.scanner/internal/config"
	"github.com/banshee-data/safety.scanner/internal/monitoring"
	"github.com/banshee-data/safety.scanner/internal/scanner/sim"
	"github.com/banshee-data/safety.scanner/internal/version"
)

func main() {
	app := &cli.App{
		Name:            "scanner-sim",
		Usage:           "simulate a safety laser scanner on UDP",
		Version:         version.String(),
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "ip",
				Value: "127.0.0.1",
				Usage: "address to bind the device ports on",
			},
			&cli.UintFlag{
				Name:  "control-port",
				Value: uint(config.DefaultDeviceControlPort),
				Usage: "device control port",
			},
			&cli.UintFlag{
				Name:  "data-port",
				Value: uint(config.DefaultDeviceDataPort),
				Usage: "device data source port",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: sim.DefaultFrameInterval,
				Usage: "time between monitoring frames",
			},
			&cli.BoolFlag{
				Name:  "refuse",
				Usage: "refuse every start request",
			},
			&cli.UintFlag{
				Name:  "zoneset",
				Usage: "active zoneset to report",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level (debug, info, warn, error)",
			},
			&cli.DurationFlag{
				Name:  "stats-interval",
				Value: time.Minute,
				Usage: "how often to log packet counters (0 disables)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "scanner-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger, err := monitoring.Configure(c.String("log-level"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	ip, err := netip.ParseAddr(c.String("ip"))
	if err != nil {
		return fmt.Errorf("invalid --ip: %w", err)
	}
	controlPort, dataPort := c.Uint("control-port"), c.Uint("data-port")
	if controlPort > 65535 || dataPort > 65535 {
		return fmt.Errorf("ports must be below 65536")
	}

	dev := sim.NewDevice()
	dev.RefuseStart = c.Bool("refuse")
	dev.Zoneset = uint8(c.Uint("zoneset"))

	srv, err := sim.NewServer(dev, sim.ServerConfig{
		ControlAddr:   netip.AddrPortFrom(ip, uint16(controlPort)),
		DataAddr:      netip.AddrPortFrom(ip, uint16(dataPort)),
		FrameInterval: c.Duration("interval"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if every := c.Duration("stats-interval"); every > 0 {
		go func() {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					srv.Stats().LogStats("sim")
				}
			}
		}()
	}

	monitoring.Logf("simulated scanner listening on %s (control) and %s (data)", srv.ControlAddr(), srv.DataAddr())
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
