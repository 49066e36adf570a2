package events

import (
	"sync"

	"github.com/aegiskernel/aegis/pkg/ledger"
)

// Subscriber is a channel that receives committed ledger entries
type Subscriber chan *ledger.Entry

// Broker fans committed ledger entries out to live subscribers. It backs
// the follow mode of ledger tailing: a client replays the log up to the
// current sequence, then subscribes for everything after it. Slow
// subscribers drop entries rather than stall the publisher; a dropped
// subscriber can always re-read from its last seen sequence.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	entryCh     chan *ledger.Entry
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		entryCh:     make(chan *ledger.Entry, 100), // Buffer up to 100 entries
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish hands one committed entry to the distribution loop
func (b *Broker) Publish(entry *ledger.Entry) {
	select {
	case b.entryCh <- entry:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case entry := <-b.entryCh:
			b.broadcast(entry)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(entry *ledger.Entry) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- entry:
		default:
			// Subscriber buffer full, skip
		}
	}
}
