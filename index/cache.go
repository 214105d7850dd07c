package index

// sessionCache is a bounded set-associative cache of open session
// indexes. Eviction closes (unmaps) the victim; it is reopened lazily on
// the next message for that session.
type sessionCache struct {
	numSets int
	setSize int
	sets    [][]cacheEntry
	closeFn func(*sessionIndex)
}

type cacheEntry struct {
	sessionID int64
	index     *sessionIndex
}

func newSessionCache(numSets, setSize int, closeFn func(*sessionIndex)) *sessionCache {
	if numSets&(numSets-1) != 0 {
		panic("index: cache numSets must be a power of two")
	}
	sets := make([][]cacheEntry, numSets)
	for i := range sets {
		sets[i] = make([]cacheEntry, 0, setSize)
	}
	return &sessionCache{numSets: numSets, setSize: setSize, sets: sets, closeFn: closeFn}
}

func (c *sessionCache) set(sessionID int64) int {
	h := uint64(sessionID)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return int(h) & (c.numSets - 1)
}

func (c *sessionCache) lookup(sessionID int64) *sessionIndex {
	for _, e := range c.sets[c.set(sessionID)] {
		if e.sessionID == sessionID {
			return e.index
		}
	}
	return nil
}

// put inserts idx, evicting the oldest entry of a full set.
func (c *sessionCache) put(sessionID int64, idx *sessionIndex) {
	s := c.set(sessionID)
	entries := c.sets[s]
	if len(entries) == c.setSize {
		c.closeFn(entries[0].index)
		copy(entries, entries[1:])
		entries = entries[:len(entries)-1]
	}
	c.sets[s] = append(entries, cacheEntry{sessionID: sessionID, index: idx})
}

// clear closes every cached index.
func (c *sessionCache) clear() {
	for i, entries := range c.sets {
		for _, e := range entries {
			c.closeFn(e.index)
		}
		c.sets[i] = c.sets[i][:0]
	}
}
