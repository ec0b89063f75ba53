package common

import (
	"errors"
	"sync"
)

var (
	ErrModulePaused = errors.New("module paused")
	ErrReentrant    = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a PauseView backed by live lookups. Each entry is evaluated on
// every call so a flag flipped by another component is observed immediately.
type Pauses map[string]func() (bool, error)

// IsPaused implements PauseView. Lookup failures are treated as paused.
func (p Pauses) IsPaused(module string) bool {
	fn, ok := p[module]
	if !ok || fn == nil {
		return false
	}
	paused, err := fn()
	if err != nil {
		return true
	}
	return paused
}

// Lock is a non-reentrant guard held for the duration of an entry point. The
// ledger serialises calls, so the lock only trips when a callee re-enters the
// operation that is still in flight.
type Lock struct {
	mu     sync.Mutex
	active bool
}

// Enter acquires the guard or fails with ErrReentrant.
func (l *Lock) Enter() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		return ErrReentrant
	}
	l.active = true
	return nil
}

// Exit releases the guard.
func (l *Lock) Exit() {
	l.mu.Lock()
	l.active = false
	l.mu.Unlock()
}

// Held reports whether the guard is currently active.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
