// Package store is the daemon's append-only packet log.
//
// The log is a single file holding the concatenation of every complete packet
// received during a server run. Each Append opens the file, writes one packet
// in a single call and closes it again, so the file never holds a partial
// packet. Replay streams the whole file from offset zero. The file is created
// lazily by the first Append and deleted once by Remove at clean shutdown.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const fileMode os.FileMode = 0644

// Store is a file-backed append/replay log
type Store struct {
	path      string
	chunkSize int

	mu         sync.Mutex // Serializes appends and replays
	removeOnce sync.Once
	removeErr  error
}

// New returns a store at path. Nothing is created on disk until the first Append.
func New(path string, chunkSize int) *Store {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	return &Store{path: path, chunkSize: chunkSize}
}

// Path returns the backing file path
func (s *Store) Path() string {
	return s.path
}

// Append writes one complete packet to the end of the log
func (s *Store) Append(packet []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, fileMode)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAppend, err)
	}

	if _, err := f.Write(packet); err != nil {
		f.Close()
		return fmt.Errorf("%w: %w", ErrAppend, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrAppend, err)
	}
	return nil
}

// Replay streams the entire log to w in chunks and returns the bytes sent.
//
// File errors wrap ErrReplay; errors from w wrap ErrDeliver.
func (s *Store) Replay(w io.Writer) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrReplay, err)
	}
	defer f.Close()

	buf := make([]byte, s.chunkSize)
	var sent int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return sent, fmt.Errorf("%w: %w", ErrDeliver, werr)
			}
			sent += int64(n)
		}
		if rerr == io.EOF {
			return sent, nil
		}
		if rerr != nil {
			return sent, fmt.Errorf("%w: %w", ErrReplay, rerr)
		}
	}
}

// Size returns the current log size, 0 if it does not exist yet
func (s *Store) Size() (int64, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes the log file. Only the first call acts; later calls return
// its result. A log that was never created counts as removed.
func (s *Store) Remove() error {
	s.removeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		err := os.Remove(s.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.removeErr = fmt.Errorf("%w: %w", ErrRemove, err)
		}
	})
	return s.removeErr
}
