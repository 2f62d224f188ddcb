// Package blobstore persists serialized entity snapshots under
// monotonically increasing version numbers, plus a second namespace of
// raw opaque blobs. badger is the backing store; one database holds
// both namespaces under distinct key prefixes.
package blobstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrNotFound reports that no snapshot exists for the requested
	// identifier and version.
	ErrNotFound = errors.New("blobstore: snapshot not found")
	// ErrAlreadyExists reports a save without overwrite permission onto
	// an existing version.
	ErrAlreadyExists = errors.New("blobstore: version already exists")
)

// Latest selects the highest stored version in calls that take a
// version number. Real versions start at 1.
const Latest = 0

const (
	snapshotPrefix = "snapshot:"
	blobPrefix     = "blob:"
)

// Store is a versioned snapshot store. All methods are safe for
// concurrent use; writes to the same identifier are serialized so a
// version probe and the following save cannot interleave.
type Store struct {
	log *slog.Logger
	db  *badger.DB

	idMu    sync.Mutex
	idLocks map[string]*sync.Mutex
}

// Open creates or reopens the store under dir. Failure to create or
// access the directory is fatal for the caller; there is no degraded
// mode without storage.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("access storage dir %s: %w", dir, err)
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}

	return &Store{
		log:     logger,
		db:      db,
		idLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Close syncs and releases the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}

// lockFor returns the per-identifier mutex, creating it on first use.
func (s *Store) lockFor(id string) *sync.Mutex {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	mu, ok := s.idLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.idLocks[id] = mu
	}
	return mu
}

func snapshotKey(id string, version int) []byte {
	key := make([]byte, 0, len(snapshotPrefix)+len(id)+1+8)
	key = append(key, snapshotPrefix...)
	key = append(key, id...)
	key = append(key, ':')
	// big-endian so lexicographic key order matches version order
	key = binary.BigEndian.AppendUint64(key, uint64(version))
	return key
}

func snapshotRange(id string) []byte {
	return []byte(snapshotPrefix + id + ":")
}

// Exists reports whether a snapshot is stored for id. Version Latest
// means "any version at all".
func (s *Store) Exists(id string, version int) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		if version == Latest {
			it := txn.NewIterator(badger.IteratorOptions{Prefix: snapshotRange(id)})
			defer it.Close()
			it.Rewind()
			found = it.Valid()
			return nil
		}
		_, err := txn.Get(snapshotKey(id, version))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check existence of %s: %w", id, err)
	}
	return found, nil
}

// Save writes one snapshot version. Without overwrite an existing
// version is rejected with ErrAlreadyExists; history is append-only in
// normal operation.
func (s *Store) Save(blob []byte, id string, version int, overwrite bool) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return s.save(blob, id, version, overwrite)
}

func (s *Store) save(blob []byte, id string, version int, overwrite bool) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := snapshotKey(id, version)
		if !overwrite {
			_, err := txn.Get(key)
			if err == nil {
				return ErrAlreadyExists
			}
			if err != badger.ErrKeyNotFound {
				return err
			}
		}
		return txn.Set(key, blob)
	})
	if errors.Is(err, ErrAlreadyExists) {
		return fmt.Errorf("save %s version %d: %w", id, version, err)
	}
	if err != nil {
		return fmt.Errorf("save %s version %d: %w", id, version, err)
	}
	return nil
}

// GetVersion returns the snapshot stored for (id, version). Version
// Latest resolves to the highest stored version.
func (s *Store) GetVersion(id string, version int) ([]byte, error) {
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		key := snapshotKey(id, version)
		if version == Latest {
			latest, err := latestKey(txn, id)
			if err != nil {
				return err
			}
			key = latest
		}
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get %s version %d: %w", id, version, err)
	}
	return blob, nil
}

// latestKey scans the id's snapshot range backwards-equivalent: keys
// are version-ordered, so the last valid key is the newest snapshot.
func latestKey(txn *badger.Txn, id string) ([]byte, error) {
	prefix := snapshotRange(id)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var last []byte
	for it.Rewind(); it.Valid(); it.Next() {
		last = it.Item().KeyCopy(last[:0])
	}
	if last == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), last...), nil
}

// ListVersions returns every stored version number for id, ascending.
// An unknown id yields an empty list, not an error.
func (s *Store) ListVersions(id string) ([]int, error) {
	prefix := snapshotRange(id)
	versions := make([]int, 0, 4)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			raw := key[len(prefix):]
			if len(raw) != 8 {
				continue
			}
			versions = append(versions, int(binary.BigEndian.Uint64(raw)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", id, err)
	}
	sort.Ints(versions)
	return versions, nil
}

// NextVersion returns one greater than the highest stored version, or
// the first version when nothing is stored yet.
func (s *Store) NextVersion(id string) (int, error) {
	versions, err := s.ListVersions(id)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 1, nil
	}
	return versions[len(versions)-1] + 1, nil
}

// SaveSnapshot stores a new snapshot whose final version number is
// chosen under the identifier's write lock: the stated version if it is
// free, the next free version otherwise. marshal receives the chosen
// version so the stored document embeds it. Returns the version written.
func (s *Store) SaveSnapshot(id string, stated int, marshal func(version int) ([]byte, error)) (int, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	version := stated
	if version <= 0 {
		version = 1
	}
	taken, err := s.Exists(id, version)
	if err != nil {
		return 0, err
	}
	if taken {
		version, err = s.NextVersion(id)
		if err != nil {
			return 0, err
		}
	}

	blob, err := marshal(version)
	if err != nil {
		return 0, err
	}
	if err := s.save(blob, id, version, false); err != nil {
		return 0, err
	}
	return version, nil
}

// PutBlob stores an opaque blob in the raw-datastream namespace.
func (s *Store) PutBlob(name string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(blobPrefix+name), data)
	})
	if err != nil {
		return fmt.Errorf("put blob %s: %w", name, err)
	}
	return nil
}

// GetBlob reads an opaque blob from the raw-datastream namespace.
func (s *Store) GetBlob(name string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(blobPrefix + name))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", name, err)
	}
	return data, nil
}

// PurgeAll deletes every snapshot and blob. Teardown only.
func (s *Store) PurgeAll() error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("purge store: %w", err)
	}
	if s.log != nil {
		s.log.Info("storage purged")
	}
	return nil
}
