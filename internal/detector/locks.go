package detector

import "sync"

// targetLock serializes work on one target. capture guards the pipeline
// steps; publish is a ticket taken before capture is released so events for
// the target reach the bus in version order even though publishing itself
// happens outside the capture lock.
type targetLock struct {
	capture sync.Mutex
	publish sync.Mutex
}

// lockMap hands out one lock pair per target id. Entries are never removed;
// the set of monitored targets is small and long-lived.
type lockMap struct {
	mu    sync.Mutex
	locks map[string]*targetLock
}

func newLockMap() *lockMap {
	return &lockMap{locks: make(map[string]*targetLock)}
}

func (l *lockMap) forTarget(id string) *targetLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &targetLock{}
		l.locks[id] = m
	}
	return m
}
