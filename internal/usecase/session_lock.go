package usecase

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// SessionLocker lets one query per session through the agent at a time,
// so turns are recorded in the order they were asked.
type SessionLocker struct {
	mu    sync.Mutex
	gates map[string]*gate
}

// gate is a session's semaphore. users counts holders plus waiters; the
// gate is dropped when it reaches zero.
type gate struct {
	sem   *semaphore.Weighted
	users int
}

func NewSessionLocker() *SessionLocker {
	return &SessionLocker{gates: make(map[string]*gate)}
}

// Lock waits for the session or for ctx. The returned unlock is safe to
// call more than once.
func (sl *SessionLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	g := sl.enter(sessionID)
	if err := g.sem.Acquire(ctx, 1); err != nil {
		sl.leave(sessionID, g)
		return nil, fmt.Errorf("session lock: %w", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.sem.Release(1)
			sl.leave(sessionID, g)
		})
	}, nil
}

func (sl *SessionLocker) enter(id string) *gate {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	g := sl.gates[id]
	if g == nil {
		g = &gate{sem: semaphore.NewWeighted(1)}
		sl.gates[id] = g
	}
	g.users++
	return g
}

func (sl *SessionLocker) leave(id string, g *gate) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if g.users--; g.users == 0 {
		delete(sl.gates, id)
	}
}

// ActiveCount is the number of sessions with a holder or a waiter.
func (sl *SessionLocker) ActiveCount() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.gates)
}
