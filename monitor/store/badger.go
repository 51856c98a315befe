package store

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

const badgerKeyPrefix = "reports/v1/"

// BadgerStore keeps msgpack-encoded reports in a BadgerDB keyspace.
type BadgerStore struct {
	db     *badger.DB
	dir    string
	owned  bool
	logger *zap.Logger
}

// OpenBadgerStore opens (or creates) a database in dir. Close releases it.
func OpenBadgerStore(dir string, logger *zap.Logger) (*BadgerStore, error) {
	if dir == "" {
		return nil, ErrNoDirectory
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	s := NewBadgerStore(db, logger)
	s.dir = dir
	s.owned = true
	return s, nil
}

// NewBadgerStore wraps an open database. The caller keeps ownership of db.
func NewBadgerStore(db *badger.DB, logger *zap.Logger) *BadgerStore {
	if db == nil {
		panic("NewBadgerStore: db must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BadgerStore{db: db, logger: logger.Named("store")}
}

// badgerKey is zero-padded so lexical order matches time order.
func badgerKey(r types.ApiErrorReport) []byte {
	return []byte(fmt.Sprintf("%s%020d", badgerKeyPrefix, r.Timestamp.Unix()))
}

func (s *BadgerStore) Persist(ctx context.Context, r types.ApiErrorReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := msgpack.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(r), raw)
	})
	if err != nil {
		return fmt.Errorf("failed to persist report: %w", err)
	}
	return nil
}

// ListAll iterates the keyspace newest first, skipping values that fail to decode.
func (s *BadgerStore) ListAll(ctx context.Context) ([]types.ApiErrorReport, error) {
	var reports []types.ApiErrorReport
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append([]byte(badgerKeyPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var r types.ApiErrorReport
			err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &r)
			})
			if err != nil {
				s.logger.Debug("skipping corrupt report", zap.ByteString("key", item.KeyCopy(nil)), zap.Error(err))
				continue
			}
			reports = append(reports, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	sortNewestFirst(reports)
	return reports, nil
}

func (s *BadgerStore) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.DropPrefix([]byte(badgerKeyPrefix)); err != nil {
		return fmt.Errorf("failed to clear reports: %w", err)
	}
	return nil
}

// DirectoryPath is empty for a database opened elsewhere.
func (s *BadgerStore) DirectoryPath() string {
	return s.dir
}

// Close closes the database when the store opened it.
func (s *BadgerStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
