// Package agent runs single-threaded duty-cycle agents. Each agent's
// DoWork returns how much it achieved; an idle strategy backs off while
// nothing happens. Agents communicate only through the journal and
// memory-mapped files.
package agent

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Agent is one cooperative duty cycle.
type Agent interface {
	DoWork() int
	OnClose()
	RoleName() string
}

// IdleStrategy decides how to wait when a cycle produced no work.
type IdleStrategy interface {
	Idle(workCount int)
	Reset()
}

// BackoffIdleStrategy spins, yields, then sleeps with doubling pauses up
// to maxPause.
type BackoffIdleStrategy struct {
	spins    int
	yields   int
	minPause time.Duration
	maxPause time.Duration

	state int
	count int
	pause time.Duration
}

func NewBackoffIdleStrategy() *BackoffIdleStrategy {
	return &BackoffIdleStrategy{
		spins:    10,
		yields:   20,
		minPause: 50 * time.Microsecond,
		maxPause: time.Millisecond,
	}
}

func (b *BackoffIdleStrategy) Idle(workCount int) {
	if workCount > 0 {
		b.Reset()
		return
	}
	switch {
	case b.state == 0 && b.count < b.spins:
		b.count++
	case b.state == 0:
		b.state, b.count = 1, 0
	case b.state == 1 && b.count < b.yields:
		b.count++
		runtime.Gosched()
	case b.state == 1:
		b.state = 2
		b.pause = b.minPause
	default:
		time.Sleep(b.pause)
		if b.pause < b.maxPause {
			b.pause *= 2
		}
	}
}

func (b *BackoffIdleStrategy) Reset() {
	b.state, b.count, b.pause = 0, 0, b.minPause
}

// Runner drives one agent on its own goroutine until Close.
type Runner struct {
	agent Agent
	idle  IdleStrategy
	log   *zap.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

func NewRunner(a Agent, idle IdleStrategy, log *zap.Logger) *Runner {
	if idle == nil {
		idle = NewBackoffIdleStrategy()
	}
	return &Runner{agent: a, idle: idle, log: log, done: make(chan struct{})}
}

// Start launches the duty cycle.
func (r *Runner) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.log != nil {
			r.log.Info("agent started", zap.String("role", r.agent.RoleName()))
		}
		for {
			select {
			case <-r.done:
				r.agent.OnClose()
				return
			default:
			}
			r.idle.Idle(r.agent.DoWork())
		}
	}()
}

// Close stops the duty cycle and waits for OnClose to finish.
func (r *Runner) Close() {
	close(r.done)
	r.wg.Wait()
	if r.log != nil {
		r.log.Info("agent stopped", zap.String("role", r.agent.RoleName()))
	}
}
