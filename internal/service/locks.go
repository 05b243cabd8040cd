package service

import "sync"

// UserLocks serializes all mutations to one user's trade set and portfolio.
// API calls and scheduled jobs share one registry, so a job never overlaps a
// user-initiated operation for the same user. Cross-user operations never
// contend.
type UserLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewUserLocks creates an empty lock registry
func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[uint]*sync.Mutex)}
}

// Lock acquires the exclusive lock for a user
func (l *UserLocks) Lock(userID uint) {
	l.get(userID).Lock()
}

// Unlock releases the exclusive lock for a user
func (l *UserLocks) Unlock(userID uint) {
	l.get(userID).Unlock()
}

func (l *UserLocks) get(userID uint) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}

// dirtySet tracks users whose portfolios need a scheduled recompute
type dirtySet struct {
	mu    sync.Mutex
	users map[uint]struct{}
}

func newDirtySet() *dirtySet {
	return &dirtySet{users: make(map[uint]struct{})}
}

func (d *dirtySet) mark(userID uint) {
	d.mu.Lock()
	d.users[userID] = struct{}{}
	d.mu.Unlock()
}

// drain returns the marked users and clears the set
func (d *dirtySet) drain() []uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uint, 0, len(d.users))
	for id := range d.users {
		ids = append(ids, id)
	}
	d.users = make(map[uint]struct{})
	return ids
}
