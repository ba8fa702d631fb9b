// File: cmd/hioload-dp/run.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-dp/driver/vring"
	"github.com/momentics/hioload-dp/facade"
	"github.com/momentics/hioload-dp/internal/log"
	"github.com/momentics/hioload-dp/netdev"
)

var (
	configFile string
	loopback   bool
	logLevel   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the data plane until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := facade.DefaultConfig()
		if configFile != "" {
			var err error
			if configFile, err = filepath.Abs(configFile); err != nil {
				return err
			}
			if cfg, err = facade.LoadConfig(configFile); err != nil {
				return err
			}
		}
		if err := initLog(cfg.Log); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func init() {
	runCmd.Flags().StringVar(&configFile, "config", "", "YAML configuration file, watched for port changes")
	runCmd.Flags().BoolVar(&loopback, "vring", false, "attach an in-process loopback guest to every vhost port")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

func initLog(lc facade.LogConfig) error {
	if logLevel != "" {
		lc.Level = logLevel
	}
	level, err := log.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	opts := []log.Option{log.WithLevel(level)}
	if lc.JSON {
		opts = append(opts, log.WithJSON())
	}
	log.Init(opts...)
	return nil
}

func run(ctx context.Context, cfg *facade.Config) error {
	if cfg.Socket != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Socket), 0o755); err != nil {
			return fmt.Errorf("command socket: %w", err)
		}
	}
	dp, err := facade.New(cfg)
	if err != nil {
		return err
	}
	if configFile != "" {
		dp.WatchConfig(configFile)
	}
	if err := dp.Start(ctx); err != nil {
		dp.Shutdown()
		return err
	}

	if loopback {
		for _, p := range dp.Registry().Ports() {
			if p.Kind() != netdev.KindVhost {
				continue
			}
			g := vring.New(p.VhostID(), vring.DefaultQueueSize)
			if err := <-dp.AttachGuest(g); err != nil {
				log.Warnf("loopback guest %s: %v", p.Name(), err)
				continue
			}
			go echo(ctx, g)
		}
	}

	<-ctx.Done()
	log.Infof("shutting down")
	return dp.Shutdown()
}

// echo sends every frame the guest receives straight back.
func echo(ctx context.Context, g *vring.Guest) {
	frames := make([][]byte, 32)
	idle := time.NewTicker(100 * time.Microsecond)
	defer idle.Stop()
	for {
		n := g.Receive(frames)
		for _, f := range frames[:n] {
			g.Transmit(f)
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
		}
	}
}
