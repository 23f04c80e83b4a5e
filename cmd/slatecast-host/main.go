// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

// slatecast-host runs a collaborative whiteboard session: the
// client-facing relay listener, the operator control socket, the
// document upload endpoint, the voice channel, and the
// edit-permission expiry sweep.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/slatecast/slatecast/docstore"
	"github.com/slatecast/slatecast/host"
	"github.com/slatecast/slatecast/lib/clock"
	"github.com/slatecast/slatecast/lib/config"
	"github.com/slatecast/slatecast/lib/netutil"
	"github.com/slatecast/slatecast/lib/version"
	"github.com/slatecast/slatecast/voice"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		noVoice     bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("slatecast-host", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $SLATECAST_CONFIG)")
	flagSet.BoolVar(&noVoice, "no-voice", false, "disable the voice channel")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("slatecast-host %s\n", version.Info())
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	compression, err := docstore.ParseCompression(cfg.Store.Compression)
	if err != nil {
		return err
	}
	store, err := docstore.New(cfg.Store.Dir, compression)
	if err != nil {
		return err
	}

	server := host.NewServer(host.Options{
		ListenAddr:     cfg.Session.ListenAddr,
		SendBuffer:     cfg.Session.SendBuffer,
		RequestTTL:     cfg.Permissions.RequestTTL,
		RejectCooldown: cfg.Permissions.RejectCooldown,
		Clock:          clock.Real(),
		Logger:         logger,
	})
	control := host.NewControlServer(server, cfg.Control.SocketPath, logger)
	uploads := host.NewUploadHandler(server, store, cfg.Upload.MaxDocumentBytes, logger)

	logger.Info("starting session host",
		"version", version.Info(),
		"host_ip", netutil.LocalIP(),
		"session_addr", cfg.Session.ListenAddr,
		"upload_addr", cfg.Upload.ListenAddr,
		"control_socket", cfg.Control.SocketPath,
	)

	// Every server reports through the same channel; the first
	// failure tears the process down.
	failures := make(chan error, 4)

	go func() {
		failures <- server.Serve(ctx)
	}()
	go func() {
		failures <- control.Serve(ctx)
	}()

	uploadServer := &http.Server{
		Addr:    cfg.Upload.ListenAddr,
		Handler: uploads,
	}
	go func() {
		<-ctx.Done()
		uploadServer.Close()
	}()
	go func() {
		err := uploadServer.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		failures <- err
	}()

	if !noVoice {
		channel := voice.NewChannel(cfg.Voice.ListenAddr, defaultAudioDevice, logger)
		go func() {
			failures <- channel.Serve(ctx)
		}()
	}

	go server.RunSweeper(ctx, cfg.Permissions.SweepInterval)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-failures:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}

// defaultAudioDevice is a placeholder audio stream: silence in,
// discard out. Real deployments attach a capture/playback device via
// ALSA or PulseAudio plumbing external to this binary; the voice
// channel itself only moves bytes.
func defaultAudioDevice() (io.ReadWriteCloser, error) {
	return &nullAudio{closed: make(chan struct{})}, nil
}

type nullAudio struct {
	once   sync.Once
	closed chan struct{}
}

// Read blocks until Close: no capture device means no outbound
// audio, and the bridge must still be able to tear the stream down.
func (a *nullAudio) Read(p []byte) (int, error) {
	<-a.closed
	return 0, io.EOF
}

func (a *nullAudio) Write(p []byte) (int, error) { return len(p), nil }

func (a *nullAudio) Close() error {
	a.once.Do(func() { close(a.closed) })
	return nil
}
