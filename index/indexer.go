package index

import (
	"fmt"
	"math"
	"runtime"

	"fixlog/infra/agent"
	"fixlog/infra/journal"
	"fixlog/metrics"
)

// Index is one consumer of the sent-message stream. The replay index is
// the primary; others may piggyback on the same poll.
type Index interface {
	OnFragment(payload []byte, frame journal.Frame)
	DoWork() int
	ReadLastPosition(consumer PositionConsumer)
	Close() error
}

const indexerPollLimit = 20

// Indexer tails the sent-message subscription and dispatches every
// fragment to its indexes. At construction it replays whatever the
// journal holds beyond each index's last durable position. Live polling
// then reads from wherever the subscription stands; one opened with
// Journal.AddSubscription starts at the beginning of every recording, so
// fragments the catch-up already covered are delivered and indexed again.
type Indexer struct {
	indices      []Index
	subscription *journal.Subscription
	journal      *journal.Journal
	completion   *agent.CompletionPosition
	onError      func(error)
}

func NewIndexer(
	indices []Index,
	subscription *journal.Subscription,
	jnl *journal.Journal,
	completion *agent.CompletionPosition,
	idle agent.IdleStrategy,
	onError func(error),
) *Indexer {
	i := &Indexer{
		indices:      indices,
		subscription: subscription,
		journal:      jnl,
		completion:   completion,
		onError:      onError,
	}
	i.catchIndexUp(idle)
	return i
}

func (i *Indexer) catchIndexUp(idle agent.IdleStrategy) {
	if idle == nil {
		idle = agent.NewBackoffIdleStrategy()
	}
	for _, index := range i.indices {
		index.ReadLastPosition(func(publisherID int32, recordingID, indexedPosition int64) {
			stopPosition, err := i.journal.StopPosition(recordingID)
			if err != nil {
				i.onError(fmt.Errorf("index: catch-up stop position: %w", err))
				return
			}
			if stopPosition <= indexedPosition {
				return
			}
			image, err := i.journal.Replay(recordingID, indexedPosition, stopPosition-indexedPosition)
			if err != nil {
				i.onError(fmt.Errorf("index: catch-up replay: %w", err))
				return
			}
			defer image.Close()
			metrics.CatchupBytes.Add(float64(stopPosition - indexedPosition))

			for image.Position() < stopPosition {
				idle.Idle(image.Poll(index.OnFragment, indexerPollLimit))
			}
			idle.Reset()
		})
	}
}

// DoWork polls the live subscription and gives each index its turn.
func (i *Indexer) DoWork() int {
	work := i.subscription.Poll(i.onFragment, indexerPollLimit)
	for _, index := range i.indices {
		work += index.DoWork()
	}
	return work
}

func (i *Indexer) onFragment(payload []byte, frame journal.Frame) {
	for _, index := range i.indices {
		index.OnFragment(payload, frame)
	}
}

// OnClose quiesces remaining in-flight fragments, then releases the
// indexes and the subscription.
func (i *Indexer) OnClose() {
	i.quiesce()
	for _, index := range i.indices {
		if err := index.Close(); err != nil {
			i.onError(err)
		}
	}
	_ = i.subscription.Close()
}

// quiesce waits for the completion signal, then drains one final time —
// but only fragments at or before each publisher's completed position;
// anything beyond is post-termination and dropped.
func (i *Indexer) quiesce() {
	for !i.completion.HasCompleted() {
		runtime.Gosched()
	}
	if i.completion.WasStartupComplete() {
		return
	}
	i.subscription.Poll(func(payload []byte, frame journal.Frame) {
		if frame.Position <= i.completion.CompletedPosition(frame.PublisherID) {
			i.onFragment(payload, frame)
		}
	}, math.MaxInt32)
}

func (i *Indexer) RoleName() string { return "Indexer" }
