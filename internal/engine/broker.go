package engine

import (
	"sync"

	"github.com/seantiz/qexec/internal/model"
)

const (
	// subscriberBufferSize is the minimum channel buffer of a subscriber.
	subscriberBufferSize = 64

	// maxBacklog bounds the events a topic keeps for replay. The oldest
	// progress events are dropped first.
	maxBacklog = 256
)

// EventBroker fans run events out to live subscribers. It is safe for
// concurrent use.
//
// Every event published for a run is kept until the run finishes, so a
// subscriber that arrives mid-run first receives what it missed. Once a run
// is closed its topic keeps only a closed marker and late subscribers get a
// closed channel.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*runTopic
}

type runTopic struct {
	backlog []model.RunEvent
	subs    map[*subscription]struct{}
	closed  bool
}

type subscription struct {
	ch chan model.RunEvent
}

// NewEventBroker creates an empty broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{topics: make(map[string]*runTopic)}
}

func (b *EventBroker) topic(runID string) *runTopic {
	t, ok := b.topics[runID]
	if !ok {
		t = &runTopic{subs: make(map[*subscription]struct{})}
		b.topics[runID] = t
	}
	return t
}

// Subscribe returns a channel of the run's events, starting with the backlog,
// and a function that stops delivery. The channel is closed when the run
// finishes, or immediately if it already has.
func (b *EventBroker) Subscribe(runID string) (<-chan model.RunEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(runID)
	if t.closed {
		ch := make(chan model.RunEvent)
		close(ch)
		return ch, func() {}
	}

	sub := &subscription{ch: make(chan model.RunEvent, max(subscriberBufferSize, len(t.backlog)+subscriberBufferSize/2))}
	for _, ev := range t.backlog {
		sub.ch <- ev
	}
	t.subs[sub] = struct{}{}

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, sub)
	}
}

// Publish records ev in its run's backlog and delivers it to every current
// subscriber. Subscribers with full buffers miss the event. Events for closed
// runs are ignored.
func (b *EventBroker) Publish(ev model.RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(ev.RunID)
	if t.closed {
		return
	}
	t.append(ev)

	for sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			eventsDropped.Inc()
		}
	}
}

func (t *runTopic) append(ev model.RunEvent) {
	if len(t.backlog) < maxBacklog {
		t.backlog = append(t.backlog, ev)
		return
	}
	for i, old := range t.backlog {
		if old.Kind == model.EventProgress {
			t.backlog = append(t.backlog[:i], t.backlog[i+1:]...)
			t.backlog = append(t.backlog, ev)
			return
		}
	}
	t.backlog = append(t.backlog[1:], ev)
}

// Close ends the run's stream. Subscriber channels are closed and the backlog
// is released.
func (b *EventBroker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(runID)
	t.closed = true
	t.backlog = nil
	for sub := range t.subs {
		close(sub.ch)
		delete(t.subs, sub)
	}
}
