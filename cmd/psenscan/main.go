// Command psenscan runs one monitoring session against a safety laser
// scanner and exposes the scans to the recorder, the debug server and stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/safety.scanner/internal/config"
	"github.com/banshee-data/safety.scanner/internal/monitoring"
	"github.com/banshee-data/safety.scanner/internal/scanner/monitor"
	"github.com/banshee-data/safety.scanner/internal/scanner/network"
	"github.com/banshee-data/safety.scanner/internal/scanner/scanmux"
	"github.com/banshee-data/safety.scanner/internal/scanner/session"
	"github.com/banshee-data/safety.scanner/internal/scanner/sim"
	"github.com/banshee-data/safety.scanner/internal/scanner/storage/sqlite"
	"github.com/banshee-data/safety.scanner/internal/version"
)

const (
	flagConfig      = "config"
	flagLogLevel    = "log-level"
	flagReplay      = "replay"
	flagReplaySpeed = "replay-speed"
	flagPrint       = "print"
)

func main() {
	app := &cli.App{
		Name:            "psenscan",
		Usage:           "stream scans from a safety laser scanner",
		Version:         version.String(),
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "override the configured log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  flagReplay,
				Usage: "replay the data channel from a pcap `FILE` instead of a device",
			},
			&cli.Float64Flag{
				Name:  flagReplaySpeed,
				Value: 1.0,
				Usage: "replay speed multiplier (0 replays as fast as possible)",
			},
			&cli.BoolFlag{
				Name:  flagPrint,
				Usage: "print every scan as a JSON message on stdout",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "psenscan: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String(flagConfig); path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.Load(config.DefaultConfigPath)
	}
	return config.Defaults(), nil
}

// transports builds the control and data channels: UDP sockets for a live
// device, or an in-process device answering requests while a capture plays
// back the data channel.
func transports(c *cli.Context, cfg *config.Config, sessCfg config.SessionConfig) (control, data network.Transport, stats map[string]*network.TransportStats, err error) {
	if path := c.String(flagReplay); path != "" {
		replay, err := network.NewPCAPReplay(network.PCAPReplayConfig{
			Path:            path,
			UDPPort:         sessCfg.HostDataPort,
			SpeedMultiplier: c.Float64(flagReplaySpeed),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		monitoring.Logf("replaying data channel from %s", path)
		return sim.NewControlLoopback(sim.NewDevice()), replay, map[string]*network.TransportStats{"replay": replay.Stats()}, nil
	}

	var fwd *network.PacketForwarder
	if addr := cfg.Network.ForwardAddr; addr != "" {
		fwd, err = network.NewPacketForwarder(addr, &network.TransportStats{}, time.Minute)
		if err != nil {
			return nil, nil, nil, err
		}
		fwd.Start(c.Context)
		monitoring.Logf("forwarding data channel to %s", addr)
	}

	udpControl, udpData, err := session.NewUDPTransports(sessCfg, session.UDPOptions{
		RcvBuf:         cfg.Network.RcvBuf,
		ReceiveTimeout: cfg.Session.ReceiveTimeout,
		Forwarder:      fwd,
	})
	if err != nil {
		if fwd != nil {
			fwd.Close()
		}
		return nil, nil, nil, err
	}
	return udpControl, udpData, map[string]*network.TransportStats{
		"control": udpControl.Stats(),
		"data":    udpData.Stats(),
	}, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if l := c.String(flagLogLevel); l != "" {
		level = l
	}
	logger, err := monitoring.Configure(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sessCfg, err := cfg.SessionConfig()
	if err != nil {
		return err
	}

	ctx, stopSignals := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	c.Context = ctx

	control, data, transportStats, err := transports(c, cfg, sessCfg)
	if err != nil {
		return err
	}

	scans := scanmux.NewScanMux()
	defer scans.Close()

	stats := session.NewStats()
	stats.Publish("psenscan")
	health := monitor.NewHealthReporter()
	observers := []session.PhaseObserver{health.ObservePhase}

	var store *sqlite.Store
	var recorder *sqlite.Recorder
	if cfg.Storage.Enabled {
		store, err = sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			control.Close()
			data.Close()
			return err
		}
		defer store.Close()
		recorder = sqlite.NewRecorder(store, sessCfg)
		observers = append(observers, recorder.ObservePhase)
	}

	ctrl, err := session.NewController(session.ControllerConfig{
		Session:      sessCfg,
		Control:      control,
		Data:         data,
		Handler:      scans.Publish,
		ReplyTimeout: cfg.Session.ReplyTimeout,
		MaxRetries:   cfg.Session.MaxRetries,
		Observers:    observers,
		Stats:        stats,
	})
	if err != nil {
		control.Close()
		data.Close()
		return err
	}
	defer ctrl.Close()

	var ws *monitor.WebServer
	if addr := cfg.Monitor.Listen; addr != "" {
		ws = monitor.NewWebServer(monitor.WebServerConfig{
			Address:    addr,
			Source:     ctrl,
			Transports: transportStats,
		})
		scans.AttachAdminRoutes(ws.Mux())
		if store != nil {
			if err := store.AttachAdminRoutes(ws.Mux()); err != nil {
				return err
			}
		}
	}
	var grpcLn net.Listener
	if addr := cfg.Monitor.GRPCListen; addr != "" {
		grpcLn, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if ws != nil {
		_, ch := scans.Subscribe()
		g.Go(func() error { return ws.Run(gctx, ch) })
		g.Go(func() error { return ws.Start(gctx) })
	}
	if grpcLn != nil {
		g.Go(func() error { return health.Serve(gctx, grpcLn) })
	}
	if recorder != nil {
		_, ch := scans.Subscribe()
		g.Go(func() error { return recorder.Run(gctx, ch) })
	}
	if c.Bool(flagPrint) {
		_, ch := scans.Subscribe()
		g.Go(func() error { return printMessages(gctx, ch, cfg.Scanner.FrameID, os.Stdout) })
	}

	runErr := runSession(gctx, ctrl, data, cfg.Session.StopTimeout)

	scans.Close()
	stopSignals()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		runErr = multierr.Append(runErr, err)
	}
	return runErr
}

// runSession starts the session, keeps it running until ctx is done or a
// replayed capture ends, then stops it within stopTimeout.
func runSession(ctx context.Context, ctrl *session.Controller, data network.Transport, stopTimeout time.Duration) error {
	start, err := ctrl.Start()
	if err != nil {
		return err
	}
	if err := start.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to start scanner: %w", err)
	}
	monitoring.Logf("scanner session active")

	var replayDone <-chan struct{}
	if replay, ok := data.(*network.PCAPReplay); ok {
		replayDone = replay.Done()
	}
	select {
	case <-ctx.Done():
	case <-replayDone:
		monitoring.Logf("replay finished")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stop, err := ctrl.Stop()
	if err != nil {
		return err
	}
	if err := stop.Wait(stopCtx); err != nil {
		return fmt.Errorf("failed to stop scanner: %w", err)
	}
	monitoring.Logf("scanner session stopped")
	return nil
}
