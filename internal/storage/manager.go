package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"

	"nmhealth-go/internal/contracts"
)

// Manager provides the alert history operations
type Manager struct {
	db     *BoltDB
	mu     sync.RWMutex
	logger *zap.SugaredLogger
}

// NewManager creates a new storage manager
func NewManager(dataDir string, logger *zap.SugaredLogger) (*Manager, error) {
	db, err := NewBoltDB(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// OpenReadOnly opens an existing history for reading, as the history
// command does. Writes fail.
func OpenReadOnly(dataDir string, logger *zap.SugaredLogger) (*Manager, error) {
	db, err := OpenReadOnlyBoltDB(dataDir, ReadOnlyOpenTimeout, logger)
	if err != nil {
		return nil, err
	}
	return &Manager{db: db, logger: logger}, nil
}

// Close closes the storage manager
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// GetDB returns the underlying BBolt database, nil once closed.
func (m *Manager) GetDB() *bbolt.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db != nil {
		return m.db.db
	}
	return nil
}

// alertKey generates a BBolt key for an alert record.
// Key format: {timestamp_ns}_{ulid}; the fixed 20-digit prefix keeps byte
// order equal to time order.
func alertKey(timestamp time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", timestamp.UnixNano(), id))
}

// parseAlertKey extracts the ULID from an alert key.
func parseAlertKey(key []byte) string {
	if len(key) < 22 {
		return ""
	}
	return string(key[21:])
}

// SaveAlert appends a record to its target's history. ID and Timestamp are
// filled in when empty.
func (m *Manager) SaveAlert(record *contracts.AlertRecord) error {
	if record == nil {
		return fmt.Errorf("alert record cannot be nil")
	}
	if record.Target == "" {
		return fmt.Errorf("alert record has no target")
	}
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return fmt.Errorf("history database is closed")
	}

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket([]byte(AlertsBucket)).CreateBucketIfNotExists([]byte(record.Target))
		if err != nil {
			return fmt.Errorf("failed to create target bucket: %w", err)
		}

		data, err := toStored(record).MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal alert record: %w", err)
		}

		if err := bucket.Put(alertKey(record.Timestamp, record.ID), data); err != nil {
			return fmt.Errorf("failed to store alert record: %w", err)
		}
		return nil
	})
}

// LatestAlert returns the newest record of target, skipped runs included.
// Returns nil if the target has no history.
func (m *Manager) LatestAlert(target string) (*contracts.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return nil, fmt.Errorf("history database is closed")
	}

	var record *contracts.AlertRecord
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(AlertsBucket)).Bucket([]byte(target))
		if bucket == nil {
			return nil
		}
		_, v := bucket.Cursor().Last()
		if v == nil {
			return nil
		}
		var stored alertRecord
		if err := stored.UnmarshalBinary(v); err != nil {
			return fmt.Errorf("failed to unmarshal alert record: %w", err)
		}
		record = stored.toContract()
		return nil
	})
	return record, err
}

// ListAlerts returns records matching the filter, newest first, along with the
// total number of matches before the limit was applied.
func (m *Manager) ListAlerts(filter HistoryFilter) ([]*contracts.AlertRecord, int, error) {
	if filter.Target == "" {
		return nil, 0, fmt.Errorf("history filter has no target")
	}
	filter.Validate()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return nil, 0, fmt.Errorf("history database is closed")
	}

	var lower, upper []byte
	if !filter.Since.IsZero() {
		lower = alertKey(filter.Since, "")
	}
	if !filter.Until.IsZero() {
		// "~" sorts after every ULID character.
		upper = alertKey(filter.Until, "~")
	}

	var records []*contracts.AlertRecord
	var total int

	err := m.db.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(AlertsBucket)).Bucket([]byte(filter.Target))
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			if upper != nil && bytes.Compare(k, upper) > 0 {
				continue
			}
			if lower != nil && bytes.Compare(k, lower) < 0 {
				break
			}

			var stored alertRecord
			if err := stored.UnmarshalBinary(v); err != nil {
				m.logger.Warnw("Failed to unmarshal alert record",
					"target", filter.Target,
					"key", string(k),
					"error", err)
				continue
			}
			if !filter.Matches(&stored) {
				continue
			}

			total++
			if len(records) < filter.Limit {
				records = append(records, stored.toContract())
			}
		}
		return nil
	})

	return records, total, err
}

// GetAlert finds a record of target by ID. Returns nil if not found.
func (m *Manager) GetAlert(target, id string) (*contracts.AlertRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("alert ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return nil, fmt.Errorf("history database is closed")
	}

	var record *contracts.AlertRecord
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(AlertsBucket)).Bucket([]byte(target))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			if parseAlertKey(k) != id {
				continue
			}
			var stored alertRecord
			if err := stored.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("failed to unmarshal alert record: %w", err)
			}
			record = stored.toContract()
			return nil
		}
		return nil
	})
	return record, err
}

// Targets lists the targets that have history, sorted.
func (m *Manager) Targets() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return nil, fmt.Errorf("history database is closed")
	}

	var targets []string
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(AlertsBucket)).ForEachBucket(func(k []byte) error {
			targets = append(targets, string(k))
			return nil
		})
	})
	sort.Strings(targets)
	return targets, err
}

// CountAlerts returns the number of records kept for target.
func (m *Manager) CountAlerts(target string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return 0, fmt.Errorf("history database is closed")
	}

	var count int
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		if bucket := tx.Bucket([]byte(AlertsBucket)).Bucket([]byte(target)); bucket != nil {
			count = bucket.Stats().KeyN
		}
		return nil
	})
	return count, err
}

// DeleteTarget drops every record of target.
func (m *Manager) DeleteTarget(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return fmt.Errorf("history database is closed")
	}

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket([]byte(AlertsBucket)).DeleteBucket([]byte(target))
		if errors.Is(err, bolterrors.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Prune removes records older than maxAge and then trims every target to its
// newest maxRecords records. Zero disables either rule. Returns the number of
// records deleted.
func (m *Manager) Prune(maxAge time.Duration, maxRecords int) (int, error) {
	var cutoff []byte
	if maxAge > 0 {
		cutoff = alertKey(time.Now().UTC().Add(-maxAge), "")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return 0, fmt.Errorf("history database is closed")
	}

	var deleted int
	err := m.db.db.Update(func(tx *bbolt.Tx) error {
		alerts := tx.Bucket([]byte(AlertsBucket))
		var targets [][]byte
		if err := alerts.ForEachBucket(func(k []byte) error {
			targets = append(targets, append([]byte{}, k...))
			return nil
		}); err != nil {
			return err
		}

		for _, target := range targets {
			n, err := pruneBucket(alerts.Bucket(target), cutoff, maxRecords)
			deleted += n
			if err != nil {
				return fmt.Errorf("failed to prune %s: %w", target, err)
			}
		}
		return nil
	})

	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		m.logger.Infow("Pruned alert history",
			"deleted", deleted,
			"max_age", maxAge.String(),
			"max_records", maxRecords)
	}
	return deleted, nil
}

// pruneBucket deletes the oldest keys of one target bucket.
func pruneBucket(bucket *bbolt.Bucket, cutoff []byte, maxRecords int) (int, error) {
	count := bucket.Stats().KeyN
	excess := 0
	if maxRecords > 0 && count > maxRecords {
		excess = count - maxRecords
	}

	var keysToDelete [][]byte
	cursor := bucket.Cursor()
	for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
		old := cutoff != nil && bytes.Compare(k, cutoff) < 0
		if !old && len(keysToDelete) >= excess {
			break
		}
		keysToDelete = append(keysToDelete, append([]byte{}, k...))
	}

	for i, key := range keysToDelete {
		if err := bucket.Delete(key); err != nil {
			return i, err
		}
	}
	return len(keysToDelete), nil
}
