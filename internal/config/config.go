// Package config provides environment configuration helpers for go-fathom commands.
package config

import (
	"os"
	"path/filepath"
)

// Defaults shared by the fathom commands.
const (
	DefaultListenAddr = ":8420"
	DefaultStoreFile  = "calibration.json"
)

// ListenAddr returns the dashboard listen address from FATHOM_ADDR.
// Falls back to the provided default if not set.
func ListenAddr(def string) string {
	if addr := os.Getenv("FATHOM_ADDR"); addr != "" {
		return addr
	}
	return def
}

// DeviceAddr returns the tracking daemon address from FATHOM_DEVICE.
// Falls back to the provided default if not set.
func DeviceAddr(def string) string {
	if addr := os.Getenv("FATHOM_DEVICE"); addr != "" {
		return addr
	}
	return def
}

// StorePath returns the calibration store path from FATHOM_STORE.
// Falls back to the provided default if not set.
func StorePath(def string) string {
	if path := os.Getenv("FATHOM_STORE"); path != "" {
		return path
	}
	return def
}

// LogLevel returns the log level from FATHOM_LOG ("debug", "info", "warn", "error").
// Falls back to the provided default if not set.
func LogLevel(def string) string {
	if level := os.Getenv("FATHOM_LOG"); level != "" {
		return level
	}
	return def
}

// DefaultStorePath returns the default calibration store location
// (~/.fathom/calibration.json), or a relative path when the home
// directory cannot be resolved.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultStoreFile
	}
	return filepath.Join(home, ".fathom", DefaultStoreFile)
}
