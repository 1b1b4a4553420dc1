package broadcast

import (
	"context"
	"sync"
)

const (
	// ActionAdd marks a delta produced by a cast vote.
	ActionAdd = "add"
	// ActionRemove marks a delta produced by a retracted vote.
	ActionRemove = "remove"

	defaultBufferSize = 16
)

// VoteDelta describes a single change to a submission's vote count.
type VoteDelta struct {
	SubmissionID string `json:"submissionId"`
	VoteCount    int64  `json:"voteCount"`
	Action       string `json:"action"`
}

// Dispatcher relays vote deltas to live subscribers, keyed by challenge id.
// Delivery is best effort: events published to a topic with no subscribers
// are dropped, and a slow subscriber misses events rather than blocking the
// publisher.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan VoteDelta
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a listener for one challenge's deltas. The returned
// cleanup releases the subscription; it is also invoked when ctx is done, so
// abnormal disconnects cannot leak the handle.
func (d *Dispatcher) Subscribe(ctx context.Context, challengeID string) (<-chan VoteDelta, func()) {
	if challengeID == "" {
		ch := make(chan VoteDelta)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan VoteDelta, d.bufferSize),
	}
	d.register(challengeID, sub)
	cleanup := func() {
		d.unregister(challengeID, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers a delta to every current subscriber of the challenge.
func (d *Dispatcher) Publish(challengeID string, delta VoteDelta) {
	if challengeID == "" || delta.SubmissionID == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[challengeID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- delta:
		default:
		}
	}
}

// SubscriberCount reports how many listeners a challenge currently has.
func (d *Dispatcher) SubscriberCount(challengeID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[challengeID])
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(challengeID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[challengeID]; !ok {
		d.subscribers[challengeID] = make(map[int64]*subscriber)
	}
	d.subscribers[challengeID][sub.id] = sub
}

func (d *Dispatcher) unregister(challengeID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[challengeID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, challengeID)
		}
	}
	d.mu.Unlock()
}
