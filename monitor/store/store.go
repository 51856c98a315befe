package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/sthembisoo/api-error-monitor/monitor/config"
	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

// ErrNoDirectory is returned when no storage directory can be determined.
var ErrNoDirectory = errors.New("no storage directory")

// Store is the local durable fallback for reports.
//
// Each report is one independently readable unit keyed by its timestamp at second
// resolution. Two reports in the same second share a key and the later one wins.
type Store interface {
	// Persist writes r.
	Persist(ctx context.Context, r types.ApiErrorReport) error
	// ListAll returns every readable report, most recent first. Unreadable units are skipped.
	ListAll(ctx context.Context) ([]types.ApiErrorReport, error)
	// ClearAll removes every report.
	ClearAll(ctx context.Context) error
	// DirectoryPath returns where reports live on disk.
	DirectoryPath() string
	Close() error
}

// DefaultDir returns $XDG_DATA_HOME/api-error-monitor/<appName>, falling back to
// ~/.local/share when XDG_DATA_HOME is unset.
func DefaultDir(appName string) (string, error) {
	if appName == "" {
		return "", ErrNoDirectory
	}
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoDirectory, err)
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "api-error-monitor", appName), nil
}

// Open builds the store selected by cfg.StoreBackend.
func Open(cfg config.Config, logger *zap.Logger) (Store, error) {
	dir := cfg.StorageDir
	if dir == "" {
		var err error
		dir, err = DefaultDir(cfg.AppName)
		if err != nil {
			return nil, err
		}
	}

	switch cfg.StoreBackend {
	case config.StoreBackendBadger:
		return OpenBadgerStore(dir, logger)
	case config.StoreBackendFile, "":
		return NewFileStore(dir, logger)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
}

// sortNewestFirst orders reports by timestamp, most recent first.
func sortNewestFirst(reports []types.ApiErrorReport) {
	slices.SortStableFunc(reports, func(a, b types.ApiErrorReport) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
}
