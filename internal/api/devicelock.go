package api

import "sync"

type chainLock struct {
	mu   sync.Mutex
	refs int
}

// chainLocks serializes turns per device so the ledger check and the ledger write
// for one turn cannot interleave with another turn on the same chain.
type chainLocks struct {
	mu    sync.Mutex
	locks map[string]*chainLock
}

func newChainLocks() *chainLocks {
	return &chainLocks{locks: make(map[string]*chainLock)}
}

// lock blocks until device is free and returns the matching unlock. Entries are
// dropped once no turn holds or waits for them.
func (c *chainLocks) lock(device string) (unlock func()) {
	c.mu.Lock()
	l, ok := c.locks[device]
	if !ok {
		l = &chainLock{}
		c.locks[device] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, device)
		}
		c.mu.Unlock()
	}
}

func (c *chainLocks) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
