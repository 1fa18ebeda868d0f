// Package clipboard provides secure clipboard management with auto-clear functionality.
package clipboard

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/atotto/clipboard"

	"github.com/uoar/pass-manager/idle"
	logger "github.com/uoar/pass-manager/internal/logging"
)

// DefaultTimeout is how long a copied secret stays on the clipboard.
const DefaultTimeout = 30 * time.Second

// Backend reads and writes the system clipboard.
type Backend interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemBackend struct{}

func (systemBackend) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (systemBackend) WriteAll(text string) error { return clipboard.WriteAll(text) }

// Manager handles clipboard operations with automatic clearing.
// Uses a single timer to prevent goroutine leaks.
type Manager struct {
	mu      sync.Mutex
	backend Backend
	log     logger.Logger
	timer   *idle.Timer

	// digest identifies what we last copied so a clear never wipes
	// something the user copied afterwards.
	digest  [sha256.Size]byte
	pending bool
	done    chan struct{}
}

// NewManager creates a clipboard manager that clears copied secrets after
// timeout. A non-positive timeout means DefaultTimeout.
func NewManager(timeout time.Duration, log logger.Logger) *Manager {
	return newManager(timeout, log, systemBackend{})
}

func newManager(timeout time.Duration, log logger.Logger, b Backend) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Manager{backend: b, log: log}
	m.timer = idle.New(timeout, m.expire)
	return m
}

// Supported reports whether a system clipboard is available.
func Supported() bool {
	return !clipboard.Unsupported
}

// Timeout returns the auto-clear delay.
func (m *Manager) Timeout() time.Duration {
	return m.timer.Timeout()
}

// Copy puts secret on the clipboard and schedules it to be cleared. A second
// Copy restarts the countdown. The caller still owns secret and may wipe it
// once Copy returns.
func (m *Manager) Copy(secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.backend.WriteAll(string(secret)); err != nil {
		return fmt.Errorf("failed to write to clipboard: %w", err)
	}

	m.digest = sha256.Sum256(secret)
	if !m.pending {
		m.pending = true
		m.done = make(chan struct{})
	}
	m.timer.Reset()
	m.log.Debugf("clipboard will be cleared in %s", m.timer.Timeout())
	return nil
}

// ClearNow immediately clears the clipboard and cancels any pending auto-clear.
func (m *Manager) ClearNow() error {
	m.timer.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked()
}

// Wait blocks until the pending clear has happened. If ctx ends first the
// clipboard is cleared right away. It returns immediately when nothing is
// pending.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	pending := m.pending
	m.mu.Unlock()

	if !pending {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return m.ClearNow()
	}
}

// Close clears a pending secret and stops the timer. Should be called on program exit.
func (m *Manager) Close() {
	if err := m.ClearNow(); err != nil {
		m.log.Warnf("%v", err)
	}
}

func (m *Manager) expire() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.clearLocked(); err != nil {
		m.log.Warnf("%v", err)
	}
}

// clearLocked empties the clipboard if it still holds our secret. Caller
// must hold m.mu.
func (m *Manager) clearLocked() error {
	if !m.pending {
		return nil
	}
	m.pending = false
	close(m.done)
	defer func() { m.digest = [sha256.Size]byte{} }()

	current, err := m.backend.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read clipboard: %w", err)
	}
	d := sha256.Sum256([]byte(current))
	if subtle.ConstantTimeCompare(d[:], m.digest[:]) != 1 {
		m.log.Debugf("clipboard changed since copy, leaving it alone")
		return nil
	}

	if err := m.backend.WriteAll(""); err != nil {
		return fmt.Errorf("failed to clear clipboard: %w", err)
	}
	m.log.Infof("clipboard cleared")
	return nil
}
