package refresh

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

type revisionDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func newRevisionDedupe(size int) *revisionDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &revisionDedupe{lru: c}
}

// tryApply records rev when it is greater than the last applied revision
// for key. revert undoes the record if the apply then fails, restoring the
// previous revision so older replays stay stale.
func (d *revisionDedupe) tryApply(key string, rev uint64) (revert func(), ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, had := d.lru.Get(key)
	if had && rev <= prev {
		return nil, false
	}
	d.lru.Add(key, rev)
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if cur, ok := d.lru.Peek(key); !ok || cur != rev {
			return
		}
		if had {
			d.lru.Add(key, prev)
		} else {
			d.lru.Remove(key)
		}
	}, true
}
