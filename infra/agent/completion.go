package agent

import "sync"

// CompletionPosition is the single cooperative shutdown signal for the
// indexing pipeline. At shutdown each publisher's final position is
// recorded here; fragments beyond it are post-termination and dropped.
type CompletionPosition struct {
	mu              sync.Mutex
	completed       bool
	startupComplete bool
	positions       map[int32]int64
}

func NewCompletionPosition() *CompletionPosition {
	return &CompletionPosition{positions: make(map[int32]int64)}
}

// CompleteDuringStartup declares completion before the pipeline ever ran.
func (c *CompletionPosition) CompleteDuringStartup() {
	c.mu.Lock()
	c.completed = true
	c.startupComplete = true
	c.mu.Unlock()
}

// Complete records each publisher's final position and signals shutdown.
func (c *CompletionPosition) Complete(positions map[int32]int64) {
	c.mu.Lock()
	for id, pos := range positions {
		c.positions[id] = pos
	}
	c.completed = true
	c.mu.Unlock()
}

func (c *CompletionPosition) HasCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

func (c *CompletionPosition) WasStartupComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startupComplete
}

// CompletedPosition returns the final position of one publisher, or -1
// when none was recorded.
func (c *CompletionPosition) CompletedPosition(publisherID int32) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos, ok := c.positions[publisherID]; ok {
		return pos
	}
	return -1
}
