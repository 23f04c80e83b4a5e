// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

// slatecast-operator is the operator panel for a running session
// host: a terminal UI over the host's control socket for approving
// and rejecting edit-permission requests and watching the client
// roster.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/slatecast/slatecast/host"
	"github.com/slatecast/slatecast/lib/config"
	"github.com/slatecast/slatecast/lib/panelui"
	"github.com/slatecast/slatecast/lib/version"
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
		socketPath  string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("slatecast-operator", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $SLATECAST_CONFIG)")
	flagSet.StringVar(&socketPath, "socket", "", "control socket path (overrides config)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("slatecast-operator %s\n", version.Info())
		return nil
	}

	if socketPath == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		socketPath = cfg.Control.SocketPath
	}

	control := &host.ControlClient{SocketPath: socketPath}
	if _, err := control.Status(); err != nil {
		return fmt.Errorf("is slatecast-host running? %w", err)
	}

	program := tea.NewProgram(panelui.New(control), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("panel failed: %w", err)
	}
	return nil
}
