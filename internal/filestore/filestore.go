// Package filestore persists saved source files on the server.
//
// Two drivers are available: "fs" writes one file per name under a
// directory, "sqlite" keeps every file in a single table. Both accept only
// plain base names; anything with a path component is rejected.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidName is returned for empty names or names with a path
	ErrInvalidName = errors.New("invalid file name")
	// ErrNotFound is returned when no file has the requested name
	ErrNotFound = errors.New("file not found")
	// ErrUnknownDriver is returned by Open for unsupported drivers
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Drivers.
const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
)

// Store saves and loads named source files.
type Store interface {
	Save(ctx context.Context, name, content string) error
	Load(ctx context.Context, name string) (string, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	Driver     string `yaml:"driver"`
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Open creates the store selected by cfg.Driver (default "fs").
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFS:
		return NewFSStore(cfg.Dir)
	case DriverSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// CleanName validates a file name and returns it trimmed.
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "", ErrInvalidName
	}
	if filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}
