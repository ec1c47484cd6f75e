package workflow

import (
	"errors"
	"sync"
)

// ErrTargetBusy is returned when a workflow is requested for a target that
// already has one running. Operations against the same target are serialized;
// concurrent requests fail fast instead of interleaving.
var ErrTargetBusy = errors.New("a workflow is already running for this target")

type lockSet struct {
	mu   sync.Mutex
	held map[uint]bool
}

var targetLocks = &lockSet{held: make(map[uint]bool)}

func (l *lockSet) tryAcquire(id uint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] {
		return false
	}
	l.held[id] = true
	return true
}

func (l *lockSet) release(id uint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}
