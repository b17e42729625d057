package ledger

import (
	"fmt"
	"slices"
	"sync"

	"github.com/asaskevich/EventBus"
)

const topicReorg = "ledger:reorg"

// Notifier fans reorg events out to subscribers over an event bus.
// Handlers run synchronously on the publishing goroutine, in the order
// they subscribed.
type Notifier struct {
	bus EventBus.Bus

	mu     sync.Mutex
	nextID uint64
	topics []string // subscription order
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{bus: EventBus.New()}
}

// SubscribeReorgs registers fn for reorg events.
func (n *Notifier) SubscribeReorgs(fn func(fromHeight uint64)) func() {
	n.mu.Lock()
	n.nextID++
	// One topic per subscription: the bus identifies handlers by code
	// pointer, which closures of the same literal share.
	topic := fmt.Sprintf("%s/%d", topicReorg, n.nextID)
	n.topics = append(n.topics, topic)
	n.mu.Unlock()

	if err := n.bus.Subscribe(topic, fn); err != nil {
		// Only returned for non-func handlers.
		panic(err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			if i := slices.Index(n.topics, topic); i >= 0 {
				n.topics = slices.Delete(n.topics, i, i+1)
			}
			n.mu.Unlock()
			_ = n.bus.Unsubscribe(topic, fn)
		})
	}
}

// Publish notifies every subscriber that blocks from fromHeight up were
// replaced.
func (n *Notifier) Publish(fromHeight uint64) {
	n.mu.Lock()
	topics := slices.Clone(n.topics)
	n.mu.Unlock()

	for _, t := range topics {
		n.bus.Publish(t, fromHeight)
	}
}

// Subscribers returns the number of active subscriptions.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.topics)
}
