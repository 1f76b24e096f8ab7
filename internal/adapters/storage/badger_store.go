package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dgraph-io/badger/v3"
	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/eleven-am/mesbatch/internal/xjson"
)

// BadgerStore persists batches, audit entries and deviations as JSON records
// in one Badger database. Audit keys carry a per-batch sequence so a prefix
// scan returns the trail in append order.
type BadgerStore struct {
	db     *badger.DB
	ownsDB bool
	logger *slog.Logger
}

func NewBadgerStore(db *badger.DB, logger *slog.Logger) *BadgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{
		db:     db,
		logger: logger.With("component", "badger-store"),
	}
}

// OpenBadger opens the database described by cfg. The returned store closes
// it on Close.
func OpenBadger(cfg domain.StorageConfig, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.DataDir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts.Logger = &badgerLogger{logger: logger.With("component", "badger")}
	opts.MemTableSize = 16 << 20
	opts.NumMemtables = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.DataDir, err)
	}

	store := NewBadgerStore(db, logger)
	store.ownsDB = true
	return store, nil
}

func (s *BadgerStore) Create(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	next, err := prepareCreate(batch)
	if err != nil {
		return domain.Batch{}, err
	}
	data, err := xjson.Marshal(next)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("marshal batch %s: %w", batch.ID, err)
	}

	key := []byte(domain.BatchKey(batch.ID))
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("batch %s already exists: %w", batch.ID, domain.ErrInvalidInput)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return domain.Batch{}, s.mapErr(err)
	}

	s.logger.Debug("batch created", "batch_id", batch.ID, "key", string(key))
	return next.Clone(), nil
}

func (s *BadgerStore) Get(ctx context.Context, id string) (domain.Batch, error) {
	var batch domain.Batch
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		batch, err = readBatch(txn, id)
		return err
	})
	if err != nil {
		return domain.Batch{}, s.mapErr(err)
	}
	return batch, nil
}

func (s *BadgerStore) Save(ctx context.Context, batch domain.Batch, expectedVersion int64) (domain.Batch, error) {
	var saved domain.Batch
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := readBatch(txn, batch.ID)
		if err != nil {
			return err
		}
		next, err := prepareSave(current, batch, expectedVersion)
		if err != nil {
			return err
		}
		data, err := xjson.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal batch %s: %w", batch.ID, err)
		}
		if err := txn.Set([]byte(domain.BatchKey(batch.ID)), data); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		s.logger.Warn("batch save rejected", "batch_id", batch.ID, "error", err)
		return domain.Batch{}, s.mapErr(err)
	}
	return saved.Clone(), nil
}

func (s *BadgerStore) List(ctx context.Context, filter domain.BatchFilter) ([]domain.Batch, error) {
	var out []domain.Batch
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(domain.BatchPrefix), func(key, val []byte) error {
			var batch domain.Batch
			if err := xjson.Unmarshal(val, &batch); err != nil {
				s.logger.Warn("skipping unreadable batch record", "key", string(key), "error", err)
				return nil
			}
			if filter.Matches(batch) {
				out = append(out, batch)
			}
			return nil
		})
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	sortBatches(out)
	return out, nil
}

func (s *BadgerStore) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	data, err := xjson.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		seqKey := []byte(domain.AuditSequenceKey(entry.BatchID))
		seq, err := readSequence(txn, seqKey)
		if err != nil {
			return err
		}
		seq++
		if err := txn.Set([]byte(domain.AuditKey(entry.BatchID, seq, entry.ID)), data); err != nil {
			return err
		}
		return txn.Set(seqKey, []byte(strconv.FormatInt(seq, 10)))
	})
	if err != nil {
		return s.mapErr(err)
	}
	return nil
}

func (s *BadgerStore) AuditTrail(ctx context.Context, batchID string) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(domain.AuditBatchPrefix(batchID)), func(key, val []byte) error {
			var entry domain.AuditEntry
			if err := xjson.Unmarshal(val, &entry); err != nil {
				return fmt.Errorf("decode audit entry %s: %w", key, err)
			}
			out = append(out, entry)
			return nil
		})
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return out, nil
}

func (s *BadgerStore) SubmitDeviation(ctx context.Context, deviation domain.Deviation) error {
	data, err := xjson.Marshal(deviation)
	if err != nil {
		return fmt.Errorf("marshal deviation %s: %w", deviation.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(domain.DeviationKey(deviation.BatchID, deviation.ID)), data)
	})
	if err != nil {
		return s.mapErr(err)
	}
	return nil
}

func (s *BadgerStore) Deviations(ctx context.Context, batchID string) ([]domain.Deviation, error) {
	var out []domain.Deviation
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(domain.DeviationBatchPrefix(batchID)), func(key, val []byte) error {
			var dev domain.Deviation
			if err := xjson.Unmarshal(val, &dev); err != nil {
				return fmt.Errorf("decode deviation %s: %w", key, err)
			}
			out = append(out, dev)
			return nil
		})
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *BadgerStore) mapErr(err error) error {
	switch {
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %w", domain.ErrConcurrentModification, err)
	case errors.Is(err, badger.ErrDBClosed):
		return fmt.Errorf("%w: %w", domain.ErrClosed, err)
	}
	return err
}

func readBatch(txn *badger.Txn, id string) (domain.Batch, error) {
	item, err := txn.Get([]byte(domain.BatchKey(id)))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Batch{}, domain.NewNotFoundError("batch", id)
	}
	if err != nil {
		return domain.Batch{}, err
	}

	var batch domain.Batch
	err = item.Value(func(val []byte) error {
		return xjson.Unmarshal(val, &batch)
	})
	if err != nil {
		return domain.Batch{}, fmt.Errorf("decode batch %s: %w", id, err)
	}
	return batch, nil
}

func readSequence(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq int64
	err = item.Value(func(val []byte) error {
		seq, err = strconv.ParseInt(string(val), 10, 64)
		return err
	})
	return seq, err
}

func scanPrefix(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

type badgerLogger struct {
	logger *slog.Logger
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.logger.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.logger.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
}
