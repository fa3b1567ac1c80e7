package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"

	"github.com/poidh-tools/bountydeck/internal/buildinfo"
	"github.com/poidh-tools/bountydeck/pkg/daemon"
	"github.com/poidh-tools/bountydeck/pkg/manifest"
)

const defaultSocket = "/tmp/bountydeck.sock"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("bountydeckd %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		return
	}

	socketPath := flag.String("socket", defaultSocket, "unix socket path")
	manifestPath := flag.String("manifest", "bountydeck.yaml", "path to bountydeck.yaml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
		cancel()
	}()

	m, err := manifest.Load(*manifestPath)
	if err != nil {
		cwd, _ := os.Getwd()
		m = manifest.Default(cwd)
		logger.Info("no manifest loaded, using worker defaults", "path", *manifestPath, "root", cwd, "err", err)
	} else {
		logger.Info("manifest loaded", "path", *manifestPath, "root", m.Root, "bounties", len(m.Bounties))
	}
	for _, e := range manifest.Validate(m) {
		logger.Warn("manifest validation", "err", e)
	}

	d := daemon.New(*socketPath, m, logger)
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutCancel()
		d.Shutdown(shutCtx)
	}()

	interval := time.Duration(m.PollInterval()) * time.Second
	pollLoop := daemon.NewPollLoop(d, interval, logger)
	go pollLoop.Run(ctx)

	// Under systemd (Type=notify) this flips the unit to active; outside
	// it is a no-op.
	go func() {
		// Give the listener a moment to bind before declaring ready.
		time.Sleep(100 * time.Millisecond)
		sddaemon.SdNotify(false, sddaemon.SdNotifyReady)
	}()

	logger.Info("starting bountydeckd", "version", buildinfo.Version, "socket", *socketPath)
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon error", "err", err)
		os.Exit(1)
	}
}
