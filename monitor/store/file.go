package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

const (
	filePrefix = "error_"
	fileSuffix = ".json"
	fileLayout = "20060102_150405"
)

// FileStore keeps one JSON file per report in a directory.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileStore creates dir if needed and returns a store over it.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, ErrNoDirectory
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{dir: dir, logger: logger.Named("store")}, nil
}

// FileName returns the file a report is stored under.
func FileName(r types.ApiErrorReport) string {
	return filePrefix + r.Timestamp.UTC().Format(fileLayout) + fileSuffix
}

// Persist writes r as indented JSON, replacing a report from the same second.
func (s *FileStore) Persist(ctx context.Context, r types.ApiErrorReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, FileName(r))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ListAll reads every report file. Files that cannot be read or decoded are skipped.
func (s *FileStore) ListAll(ctx context.Context) ([]types.ApiErrorReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.reportFiles()
	if err != nil {
		return nil, err
	}

	reports := make([]types.ApiErrorReport, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Debug("skipping unreadable report", zap.String("file", name), zap.Error(err))
			continue
		}
		var r types.ApiErrorReport
		if err := json.Unmarshal(data, &r); err != nil {
			s.logger.Debug("skipping corrupt report", zap.String("file", name), zap.Error(err))
			continue
		}
		reports = append(reports, r)
	}

	sortNewestFirst(reports)
	return reports, nil
}

// ClearAll deletes every report file and leaves other files alone.
func (s *FileStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.reportFiles()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

func (s *FileStore) DirectoryPath() string {
	return s.dir
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) reportFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}
	files := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return !e.IsDir() && strings.HasPrefix(e.Name(), filePrefix) && strings.HasSuffix(e.Name(), fileSuffix)
	})
	return lo.Map(files, func(e os.DirEntry, _ int) string {
		return e.Name()
	}), nil
}
