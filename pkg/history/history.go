// Package history records completed matmul runs in BadgerDB.
//
// Records are gob-encoded under "run:" + big-endian unix nanos + ID, so a
// reverse prefix scan lists them newest first. A second key "id:" + ID points
// at the primary key for lookups by ID.
package history

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no record has the requested ID.
var ErrNotFound = errors.New("history: record not found")

// ErrClosed is returned by a Store after Close.
var ErrClosed = errors.New("history: store closed")

var (
	prefixRun = []byte("run:")
	prefixID  = []byte("id:")
)

// Record is one completed run.
type Record struct {
	ID   string
	Time time.Time

	Backend string
	Device  string
	N       int
	Tile    int
	Seed    uint64

	KernelTime time.Duration
	TotalTime  time.Duration
	GFLOPS     float64

	Checksum    string
	Verified    bool
	MaxRelError float64
}

// Store is a run history backed by BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a store in dir.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log})
	return open(opts)
}

// OpenInMemory opens a store that keeps nothing on disk.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func runKey(rec *Record) []byte {
	key := make([]byte, 0, len(prefixRun)+8+len(rec.ID))
	key = append(key, prefixRun...)
	key = binary.BigEndian.AppendUint64(key, uint64(rec.Time.UnixNano()))
	return append(key, rec.ID...)
}

func idKey(id string) []byte {
	return append(append([]byte{}, prefixID...), id...)
}

// Put stores rec, assigning an ID and timestamp when they are unset. It
// returns the stored ID.
func (s *Store) Put(rec *Record) (string, error) {
	if s.db == nil {
		return "", ErrClosed
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	data, err := serializeRecord(rec)
	if err != nil {
		return "", err
	}

	key := runKey(rec)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idKey(rec.ID), key)
	})
	if err != nil {
		return "", fmt.Errorf("history: put %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (*Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = deserializeRecord(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("history: get %s: %w", id, err)
	}
	return rec, nil
}

// List returns up to limit records, newest first. A limit of zero or less
// returns every record.
func (s *Store) List(limit int) ([]*Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	var out []*Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefixRun
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefixRun...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefixRun); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				rec, err := deserializeRecord(val)
				if err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

// serializeRecord converts a Record to gob bytes for BadgerDB storage.
func serializeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return buf.Bytes(), nil
}

// deserializeRecord converts gob bytes back to a Record.
func deserializeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &rec, nil
}

// badgerLogger routes badger's logging through zerolog. Badger's info
// output is chatty, so it is demoted to debug.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Str("subsystem", "badger").Msgf(trim(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Str("subsystem", "badger").Msgf(trim(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Str("subsystem", "badger").Msgf(trim(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Str("subsystem", "badger").Msgf(trim(format), args...)
}

func trim(format string) string {
	return strings.TrimRight(format, "\n")
}
