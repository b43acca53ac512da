package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// ErrLocked is returned by Open when another process holds the state directory.
var ErrLocked = errors.New("state directory is locked by another run")

// Run is the ledger entry for one invocation.
type Run struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	StatusCode int       `json:"status_code"`
	Rows       int       `json:"rows"`
	HeaderLen  int       `json:"header_len"`
	NewColumns []string  `json:"new_columns,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Store keeps the run ledger, the last written header per mode and
// compressed raw responses. Holding a Store excludes other runs that use the
// same directory.
type Store struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
		}
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	log.Debug().Str("dir", dir).Msg("Opened state store")
	return &Store{db: db, enc: enc, dec: dec}, nil
}

func (s *Store) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close zstd encoder")
	}
	return s.db.Close()
}

func runPrefix(mode string) []byte {
	return []byte("run/" + mode + "/")
}

func runKey(mode string, t time.Time) []byte {
	return []byte(fmt.Sprintf("run/%s/%020d", mode, t.UnixNano()))
}

func headerKey(mode string) []byte {
	return []byte("header/" + mode)
}

func rawKey(runID string) []byte {
	return []byte("raw/" + runID)
}

func (s *Store) RecordRun(run Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(run.Mode, run.StartedAt), data)
	})
}

// LastRun returns the most recent run for mode, or nil if there is none.
func (s *Store) LastRun(mode string) (*Run, error) {
	var run *Run
	prefix := runPrefix(mode)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return nil
		}

		data, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		run = &Run{}
		return json.Unmarshal(data, run)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	}
	return run, nil
}

// Runs returns every recorded run for mode, oldest first.
func (s *Store) Runs(mode string) ([]Run, error) {
	var runs []Run
	prefix := runPrefix(mode)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var r Run
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			runs = append(runs, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

func (s *Store) SaveHeader(mode string, header []string) error {
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(headerKey(mode), data)
	})
}

// KnownHeader returns the header last written for mode, or nil.
func (s *Store) KnownHeader(mode string) ([]string, error) {
	var header []string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(headerKey(mode))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &header)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	return header, nil
}

// ArchiveRaw stores a zstd-compressed copy of a response body.
func (s *Store) ArchiveRaw(runID string, body []byte) error {
	compressed := s.enc.EncodeAll(body, nil)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rawKey(runID), compressed)
	})
	if err != nil {
		return fmt.Errorf("failed to archive response: %w", err)
	}
	log.Debug().
		Str("run_id", runID).
		Int("bytes", len(body)).
		Int("compressed", len(compressed)).
		Msg("Archived raw response")
	return nil
}

func (s *Store) LoadRaw(runID string) ([]byte, error) {
	var body []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(rawKey(runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out, err := s.dec.DecodeAll(val, nil)
			body = out
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load archived response: %w", err)
	}
	return body, nil
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Error().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warn().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	log.Debug().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	log.Debug().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}
