// Package bolt persists the raw target list in a bbolt database so that
// commands added or removed at runtime survive a restart.
//
// The database is opened per operation under an advisory lock on
// "<path>.lock", which lets the CLI edit the list while the daemon runs.
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	bbolt "go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"

	"github.com/haukened/cmdblock/internal/cmdblock/common/clock"
	"github.com/haukened/cmdblock/internal/cmdblock/services/policy"
)

// ErrLocked is returned when another process holds the store for longer
// than the lock timeout.
var ErrLocked = errors.New("target store is locked by another process")

var (
	bucketTargets = []byte("targets")
	bucketMeta    = []byte("meta")

	keyVersion = []byte("version")
	keyUpdated = []byte("updated")
)

const (
	defaultLockTimeout = 2 * time.Second
	lockRetryDelay     = 25 * time.Millisecond
)

// Options tunes a Store.
type Options struct {
	Clock       clock.Clock
	LockTimeout time.Duration
}

// Meta describes the last save.
type Meta struct {
	Version uint64
	Updated time.Time
}

// Store implements policy.TargetStore on top of bbolt.
type Store struct {
	path        string
	clock       clock.Clock
	lockTimeout time.Duration
}

// New prepares a store at path, creating the parent directory and the
// buckets if needed.
func New(path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	s := &Store{
		path:        path,
		clock:       opts.Clock,
		lockTimeout: opts.LockTimeout,
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = defaultLockTimeout
	}

	err := s.withDB(true, func(db *bbolt.DB) error {
		return db.Update(func(tx *bbolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(bucketTargets); err != nil {
				return err
			}
			_, err := tx.CreateBucketIfNotExists(bucketMeta)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Load returns the saved targets in their saved order. ok is false when
// nothing has ever been saved, so callers fall back to configuration.
func (s *Store) Load() (targets []string, ok bool, err error) {
	err = s.withDB(false, func(db *bbolt.DB) error {
		return db.View(func(tx *bbolt.Tx) error {
			if m := tx.Bucket(bucketMeta); m == nil || m.Get(keyVersion) == nil {
				return nil
			}
			ok = true
			targets = []string{}
			b := tx.Bucket(bucketTargets)
			if b == nil {
				return nil
			}
			// keys are big-endian indexes, so cursor order is save order
			return b.ForEach(func(_, v []byte) error {
				targets = append(targets, string(v))
				return nil
			})
		})
	})
	if err != nil {
		return nil, false, err
	}
	return targets, ok, nil
}

// Save replaces the stored list and bumps the version.
func (s *Store) Save(targets []string) error {
	now := s.clock.Now()
	return s.withDB(true, func(db *bbolt.DB) error {
		return db.Update(func(tx *bbolt.Tx) error {
			if err := tx.DeleteBucket(bucketTargets); err != nil && !errors.Is(err, bberrors.ErrBucketNotFound) {
				return err
			}
			b, err := tx.CreateBucket(bucketTargets)
			if err != nil {
				return err
			}
			for i, t := range targets {
				key := make([]byte, 4)
				binary.BigEndian.PutUint32(key, uint32(i))
				if err := b.Put(key, []byte(t)); err != nil {
					return err
				}
			}

			m, err := tx.CreateBucketIfNotExists(bucketMeta)
			if err != nil {
				return err
			}
			var version uint64
			if v := m.Get(keyVersion); len(v) == 8 {
				version = binary.BigEndian.Uint64(v)
			}
			if err := m.Put(keyVersion, u64(version+1)); err != nil {
				return err
			}
			return m.Put(keyUpdated, u64(uint64(now.Unix())))
		})
	})
}

// Meta returns the version and time of the last save; zero before the first.
func (s *Store) Meta() (Meta, error) {
	var meta Meta
	err := s.withDB(false, func(db *bbolt.DB) error {
		return db.View(func(tx *bbolt.Tx) error {
			m := tx.Bucket(bucketMeta)
			if m == nil {
				return nil
			}
			if v := m.Get(keyVersion); len(v) == 8 {
				meta.Version = binary.BigEndian.Uint64(v)
			}
			if v := m.Get(keyUpdated); len(v) == 8 {
				meta.Updated = time.Unix(int64(binary.BigEndian.Uint64(v)), 0)
			}
			return nil
		})
	})
	return meta, err
}

// withDB takes the advisory lock (shared for reads), opens the database,
// runs fn and closes everything again.
func (s *Store) withDB(write bool, fn func(*bbolt.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	lock := flock.New(s.path + ".lock")
	var (
		locked bool
		err    error
	)
	if write {
		locked, err = lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	defer func() { _ = lock.Unlock() }()

	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: s.lockTimeout, ReadOnly: !write})
	if err != nil {
		return fmt.Errorf("failed to open target store %s: %w", s.path, err)
	}
	defer func() { _ = db.Close() }()
	return fn(db)
}

func u64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

var _ policy.TargetStore = (*Store)(nil)
