// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads host configuration from a single YAML file
// located by the SLATECAST_CONFIG environment variable or an explicit
// path (typically a --config flag). There is no automatic discovery;
// a missing file means defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the host configuration.
type Config struct {
	// Session configures the client-facing relay listener.
	Session SessionConfig `yaml:"session"`

	// Control configures the operator control socket.
	Control ControlConfig `yaml:"control"`

	// Upload configures the HTTP document upload endpoint.
	Upload UploadConfig `yaml:"upload"`

	// Voice configures the point-to-point voice channel.
	Voice VoiceConfig `yaml:"voice"`

	// Permissions configures edit-permission request handling.
	Permissions PermissionsConfig `yaml:"permissions"`

	// Store configures the document store.
	Store StoreConfig `yaml:"store"`
}

// SessionConfig configures the relay listener.
type SessionConfig struct {
	// ListenAddr is the TCP address clients connect to.
	// Default: ":7815". Use ":0" for a random port (tests).
	ListenAddr string `yaml:"listen_addr"`

	// SendBuffer is the per-client outbound event queue depth. A
	// client that falls this many events behind is disconnected
	// rather than allowed to stall the relay.
	// Default: 256.
	SendBuffer int `yaml:"send_buffer"`
}

// ControlConfig configures the operator control socket.
type ControlConfig struct {
	// SocketPath is the Unix socket the operator surface connects to.
	// Default: /run/slatecast/control.sock.
	SocketPath string `yaml:"socket_path"`
}

// UploadConfig configures the document upload endpoint.
type UploadConfig struct {
	// ListenAddr is the HTTP address for POST /upload.
	// Default: ":7816".
	ListenAddr string `yaml:"listen_addr"`

	// MaxDocumentBytes bounds an uploaded document.
	// Default: 64 MB.
	MaxDocumentBytes int64 `yaml:"max_document_bytes"`
}

// VoiceConfig configures the voice channel.
type VoiceConfig struct {
	// ListenAddr is the TCP address the single voice peer connects to.
	// Default: ":8000" (the port the original clients expect).
	ListenAddr string `yaml:"listen_addr"`
}

// PermissionsConfig configures edit-permission request handling.
type PermissionsConfig struct {
	// RequestTTL is how long a pending request may wait for an
	// operator decision before it expires and the client is
	// disconnected. Default: 120s.
	RequestTTL time.Duration `yaml:"request_ttl"`

	// SweepInterval is the cadence of the expiry sweep.
	// Default: 4s (the original panel's refresh cadence).
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// RejectCooldown prevents a rejected client's address from
	// re-registering for this long. Zero (the default) disables the
	// cooldown, matching the original behavior.
	RejectCooldown time.Duration `yaml:"reject_cooldown"`
}

// StoreConfig configures the document store.
type StoreConfig struct {
	// Dir is where uploaded documents are persisted.
	// Default: ~/.cache/slatecast/documents.
	Dir string `yaml:"dir"`

	// Compression selects the store codec: "zstd", "lz4", or "none".
	// Default: "zstd".
	Compression string `yaml:"compression"`
}

// Default returns the default configuration. Every field has a
// sensible value; the config file only overrides.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Session: SessionConfig{
			ListenAddr: ":7815",
			SendBuffer: 256,
		},
		Control: ControlConfig{
			SocketPath: "/run/slatecast/control.sock",
		},
		Upload: UploadConfig{
			ListenAddr:       ":7816",
			MaxDocumentBytes: 64 << 20,
		},
		Voice: VoiceConfig{
			ListenAddr: ":8000",
		},
		Permissions: PermissionsConfig{
			RequestTTL:    120 * time.Second,
			SweepInterval: 4 * time.Second,
		},
		Store: StoreConfig{
			Dir:         filepath.Join(homeDir, ".cache", "slatecast", "documents"),
			Compression: "zstd",
		},
	}
}

// Load reads configuration from path. When path is empty, the
// SLATECAST_CONFIG environment variable is consulted; when that is
// also empty, defaults are returned unchanged.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SLATECAST_CONFIG")
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks for values that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Session.SendBuffer < 1 {
		return fmt.Errorf("session.send_buffer must be >= 1, got %d", c.Session.SendBuffer)
	}
	if c.Permissions.RequestTTL <= 0 {
		return fmt.Errorf("permissions.request_ttl must be positive, got %v", c.Permissions.RequestTTL)
	}
	if c.Permissions.SweepInterval <= 0 {
		return fmt.Errorf("permissions.sweep_interval must be positive, got %v", c.Permissions.SweepInterval)
	}
	if c.Permissions.RejectCooldown < 0 {
		return fmt.Errorf("permissions.reject_cooldown must not be negative, got %v", c.Permissions.RejectCooldown)
	}
	switch c.Store.Compression {
	case "zstd", "lz4", "none":
	default:
		return fmt.Errorf("store.compression must be zstd, lz4, or none, got %q", c.Store.Compression)
	}
	if c.Upload.MaxDocumentBytes < 1 {
		return fmt.Errorf("upload.max_document_bytes must be positive, got %d", c.Upload.MaxDocumentBytes)
	}
	return nil
}
