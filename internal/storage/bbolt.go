// Package storage persists alert history in a bbolt database.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

// DatabaseFile is the history file name inside the data directory.
const DatabaseFile = "history.db"

const (
	lockTimeout    = 10 * time.Second
	recoverTimeout = 5 * time.Second
)

// BoltDB is an open history file.
type BoltDB struct {
	db     *bbolt.DB
	path   string
	logger *zap.SugaredLogger
}

// NewBoltDB opens or creates the history database in dataDir. If the file
// lock cannot be taken in time, the file is renamed aside and a fresh one is
// created, so a crashed daemon never blocks the next one.
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	path := filepath.Join(dataDir, DatabaseFile)

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: lockTimeout})
	if errors.Is(err, bolterrors.ErrTimeout) {
		logger.Warnw("History database is locked, moving it aside", "path", path)
		if aside, mvErr := moveAside(path); mvErr != nil {
			logger.Warnw("Could not move locked history database", "error", mvErr)
		} else {
			logger.Infow("Locked history database preserved", "path", aside)
		}
		db, err = bbolt.Open(path, 0o600, &bbolt.Options{Timeout: recoverTimeout})
	}
	if err != nil {
		return nil, fmt.Errorf("open history database %s: %w", path, err)
	}

	b := &BoltDB{db: db, path: path, logger: logger}
	if err := b.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// OpenReadOnlyBoltDB opens an existing history database without taking the
// write lock. It waits at most timeout for a writer to release the file and
// never attempts recovery.
func OpenReadOnlyBoltDB(dataDir string, timeout time.Duration, logger *zap.SugaredLogger) (*BoltDB, error) {
	path := filepath.Join(dataDir, DatabaseFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("history database not found: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout, ReadOnly: true})
	switch {
	case errors.Is(err, bolterrors.ErrTimeout):
		return nil, fmt.Errorf("history database is locked by another process: %w", err)
	case err != nil:
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	b := &BoltDB{db: db, path: path, logger: logger}
	version, err := b.SchemaVersion()
	if err == nil && version == 0 {
		err = errors.New("history database is not initialized")
	}
	if err == nil {
		err = checkSchema(version)
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Path returns the database file path.
func (b *BoltDB) Path() string {
	return b.path
}

// init creates the buckets and stamps the schema version. A file written by
// a newer release is refused rather than rewritten.
func (b *BoltDB) init() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(MetaBucket))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", MetaBucket, err)
		}
		if err := checkSchema(decodeVersion(meta.Get([]byte(SchemaVersionKey)))); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(AlertsBucket)); err != nil {
			return fmt.Errorf("create bucket %s: %w", AlertsBucket, err)
		}
		return meta.Put([]byte(SchemaVersionKey), encodeVersion(CurrentSchemaVersion))
	})
}

// SchemaVersion returns the stamped schema version, 0 for a file that was
// never initialized.
func (b *BoltDB) SchemaVersion() (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		if meta := tx.Bucket([]byte(MetaBucket)); meta != nil {
			version = decodeVersion(meta.Get([]byte(SchemaVersionKey)))
		}
		return nil
	})
	return version, err
}

func checkSchema(version uint64) error {
	if version > CurrentSchemaVersion {
		return fmt.Errorf("history database schema %d is newer than supported schema %d", version, CurrentSchemaVersion)
	}
	return nil
}

func encodeVersion(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func decodeVersion(buf []byte) uint64 {
	if len(buf) != 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(buf)
}

func moveAside(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	aside := path + ".locked-" + time.Now().Format("20060102-150405")
	return aside, os.Rename(path, aside)
}
