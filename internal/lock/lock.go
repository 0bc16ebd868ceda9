// Package lock provides advisory mutual exclusion over a shared state
// file: an in-process mutex map plus a breakable file-based mutex for
// cooperating processes.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"
)

// MutexMap hands out one mutex per key. The pipeline manager uses it to
// serialize goroutines in the same process that share a state path before
// they contend on the file mutex.
type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

func NewMutexMap() *MutexMap {
	return &MutexMap{
		mutexes: make(map[string]*sync.Mutex),
	}
}

func (m *MutexMap) Lock(key string) {
	m.getMutex(key).Lock()
}

func (m *MutexMap) Unlock(key string) {
	m.getMutex(key).Unlock()
}

func (m *MutexMap) getMutex(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mu, ok := m.mutexes[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	m.mutexes[key] = mu
	return mu
}

const (
	DefaultStaleAfter   = 60 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTimeout      = 30 * time.Second
)

// LockError reports that acquisition timed out. It is transient: the
// caller may retry at a higher level.
type LockError struct {
	Path   string
	Holder string
}

func (e *LockError) Error() string {
	return fmt.Sprintf("timed out acquiring lock %s (holder %s)", e.Path, e.Holder)
}

type lockInfo struct {
	Holder     string `json:"holder"`
	AcquiredAt string `json:"acquired_at"`
}

// FileMutex is a named advisory mutex backed by atomic create-if-absent
// of a lock file. A lock file older than staleAfter is presumed abandoned
// by a crashed holder and may be broken by any acquirer.
type FileMutex struct {
	path         string
	staleAfter   time.Duration
	pollInterval time.Duration
	timeout      time.Duration
}

type Option func(*FileMutex)

func WithStaleAfter(d time.Duration) Option {
	return func(m *FileMutex) { m.staleAfter = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(m *FileMutex) { m.pollInterval = d }
}

func WithTimeout(d time.Duration) Option {
	return func(m *FileMutex) { m.timeout = d }
}

func NewFileMutex(path string, opts ...Option) *FileMutex {
	m := &FileMutex{
		path:         path,
		staleAfter:   DefaultStaleAfter,
		pollInterval: DefaultPollInterval,
		timeout:      DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire blocks, polling, until the lock file can be created exclusively
// or the timeout elapses (*LockError). Stale lock files are removed and
// acquisition retried immediately.
func (m *FileMutex) Acquire(holderID string) error {
	deadline := time.Now().Add(m.timeout)
	for {
		created, err := m.tryCreate(holderID)
		if err != nil {
			return err
		}
		if created {
			return nil
		}

		if fi, statErr := os.Stat(m.path); statErr == nil {
			if time.Since(fi.ModTime()) > m.staleAfter {
				// Presumed crashed holder. Removal may race with another
				// acquirer; whoever wins the create-exclusive proceeds.
				_ = os.Remove(m.path)
				continue
			}
		} else if errors.Is(statErr, fs.ErrNotExist) {
			// Released between our create attempt and the stat.
			continue
		}

		if time.Now().After(deadline) {
			return &LockError{Path: m.path, Holder: holderID}
		}
		time.Sleep(m.pollInterval)
	}
}

func (m *FileMutex) tryCreate(holderID string) (bool, error) {
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("open lock file: %w", err)
	}

	info := lockInfo{
		Holder:     holderID,
		AcquiredAt: time.Now().UTC().Format(time.RFC3339),
	}
	content, err := json.Marshal(info)
	if err == nil {
		_, err = f.Write(content)
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(m.path)
		return false, fmt.Errorf("write lock file: %w", err)
	}
	return true, nil
}

// Release removes the lock file only if its recorded holder matches.
// It is a no-op when the file is absent, unparsable, or held by someone
// else, so a late caller never breaks another holder's lock.
func (m *FileMutex) Release(holderID string) error {
	holder, ok, err := m.Holder()
	if err != nil || !ok {
		return nil
	}
	if holder != holderID {
		return nil
	}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Holder reports the current lock holder, if any.
func (m *FileMutex) Holder() (string, bool, error) {
	content, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read lock file: %w", err)
	}
	var info lockInfo
	if err := json.Unmarshal(content, &info); err != nil {
		return "", false, fmt.Errorf("parse lock file: %w", err)
	}
	return info.Holder, true, nil
}
