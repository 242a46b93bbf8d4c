package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ritzau/insight-graph/pkg/logging"
)

// subscriberBuffer is the per-subscription channel capacity.
const subscriberBuffer = 100

// SSEPublisher fans events out to in-process subscribers, typically the
// SSE streams of the HTTP binding. Topics with a replay depth keep their
// most recent events for subscribers that join late.
type SSEPublisher struct {
	mu      sync.Mutex
	subs    map[string]map[*sseSubscription]struct{}
	version map[string]int
	depth   map[string]int
	recent  map[string][]Event
	onDrop  func(topic string)
	closed  bool
}

// NewSSEPublisher creates a publisher. Graph status replays its latest
// event so a new client sees whether a graph is being built; activity is
// live only.
func NewSSEPublisher() *SSEPublisher {
	return &SSEPublisher{
		subs:    make(map[string]map[*sseSubscription]struct{}),
		version: make(map[string]int),
		depth:   map[string]int{TopicGraphStatus: 1},
		recent:  make(map[string][]Event),
	}
}

// OnDrop registers a callback for events a slow subscriber missed.
func (p *SSEPublisher) OnDrop(fn func(topic string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDrop = fn
}

// SetReplay keeps the last depth events of topic for late subscribers.
// Zero disables replay.
func (p *SSEPublisher) SetReplay(topic string, depth int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.depth[topic] = max(depth, 0)
	if kept := p.recent[topic]; len(kept) > p.depth[topic] {
		p.recent[topic] = kept[len(kept)-p.depth[topic]:]
	}
}

// Subscribe registers a subscriber of topic. The subscription ends when
// ctx is done, when it is closed, or when the publisher closes.
func (p *SSEPublisher) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	sub := &sseSubscription{
		topic:     topic,
		events:    make(chan Event, subscriberBuffer),
		publisher: p,
	}
	if p.subs[topic] == nil {
		p.subs[topic] = make(map[*sseSubscription]struct{})
	}
	p.subs[topic][sub] = struct{}{}

	// Replay under the lock so Close cannot close the channel meanwhile.
	// The replay never exceeds the buffer, so these sends do not block.
	replay := p.recent[topic]
	if n := len(replay); n > subscriberBuffer {
		replay = replay[n-subscriberBuffer:]
	}
	for _, event := range replay {
		sub.events <- event
	}
	if len(replay) > 0 {
		logging.Debug("replayed events to new subscriber", "topic", topic, "count", len(replay))
	}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

// Publish stamps the next version of topic on the event and offers it to
// every subscriber. A subscriber with a full buffer misses the event.
func (p *SSEPublisher) Publish(topic string, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	event, err := newEvent(topic, eventType, data, p.version[topic]+1)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	p.version[topic]++

	if depth := p.depth[topic]; depth > 0 {
		kept := append(p.recent[topic], event)
		if len(kept) > depth {
			kept = kept[len(kept)-depth:]
		}
		p.recent[topic] = kept
	}

	for sub := range p.subs[topic] {
		select {
		case sub.events <- event:
		default:
			sub.dropped++
			logging.Debug("subscriber too slow, dropping event", "topic", topic, "type", eventType, "dropped", sub.dropped)
			if p.onDrop != nil {
				p.onDrop(topic)
			}
		}
	}
	return nil
}

// Close ends every subscription; their event channels are closed.
func (p *SSEPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for _, subs := range p.subs {
		for sub := range subs {
			close(sub.events)
		}
	}
	p.subs = nil
	return nil
}

func (p *SSEPublisher) unsubscribe(sub *sseSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subs[sub.topic]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(p.subs, sub.topic)
	}
	if sub.dropped > 0 {
		logging.Warn("subscriber missed events", "topic", sub.topic, "dropped", sub.dropped)
	}
}

type sseSubscription struct {
	topic     string
	events    chan Event
	publisher *SSEPublisher
	dropped   int // guarded by publisher.mu
	closeOnce sync.Once
}

func (s *sseSubscription) Topic() string {
	return s.topic
}

func (s *sseSubscription) Events() <-chan Event {
	return s.events
}

// Close detaches the subscription. The event channel stays open unless
// the publisher itself closes, so readers should also watch their context.
func (s *sseSubscription) Close() error {
	s.closeOnce.Do(func() { s.publisher.unsubscribe(s) })
	return nil
}

// WriteSSE writes one event as an SSE frame. The id line carries the
// topic version so clients can spot gaps.
func WriteSSE(w io.Writer, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", event.Version, body)
	return err
}
