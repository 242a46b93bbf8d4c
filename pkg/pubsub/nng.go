package pubsub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/ritzau/insight-graph/pkg/logging"
)

// topicSep ends the topic prefix of a wire message. SUB sockets filter on
// that prefix.
const topicSep = '\x00'

// HeartbeatInterval is how often an NNGPublisher tells followers it is
// still there when no events flow.
const HeartbeatInterval = 2 * time.Second

const topicHeartbeat = "heartbeat"

var heartbeatPrefix = []byte(topicHeartbeat + string(topicSep))

// NNGPublisher forwards events to external observers over a mangos PUB
// socket. Observers that are not connected miss events.
type NNGPublisher struct {
	mu      sync.Mutex
	sock    mangos.Socket
	version map[string]int
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

// NewNNGPublisher listens on addr, e.g. "tcp://127.0.0.1:40899".
func NewNNGPublisher(addr string) (*NNGPublisher, error) {
	return newNNGPublisher(addr, HeartbeatInterval)
}

func newNNGPublisher(addr string, heartbeat time.Duration) (*NNGPublisher, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	logging.Info("activity publisher listening", "addr", addr)

	p := &NNGPublisher{
		sock:    sock,
		version: make(map[string]int),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.heartbeat(heartbeat)
	return p, nil
}

func (p *NNGPublisher) heartbeat(every time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}
		p.mu.Lock()
		if !p.closed {
			if err := p.sock.Send(bytes.Clone(heartbeatPrefix)); err != nil {
				logging.Debug("heartbeat failed", "error", err)
			}
		}
		p.mu.Unlock()
	}
}

// Publish sends one event. PUB sockets never block on slow peers.
func (p *NNGPublisher) Publish(topic string, eventType string, data any) error {
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

	msg, err := encodeMessage(event)
	if err != nil {
		return err
	}
	return p.sock.Send(msg)
}

// Close stops the heartbeat and closes the socket.
func (p *NNGPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	err := p.sock.Close()
	p.mu.Unlock()

	<-p.done
	return err
}

func encodeMessage(event Event) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := make([]byte, 0, len(event.Topic)+1+len(body))
	msg = append(msg, event.Topic...)
	msg = append(msg, topicSep)
	return append(msg, body...), nil
}

func decodeMessage(msg []byte) (Event, error) {
	i := bytes.IndexByte(msg, topicSep)
	if i < 0 {
		return Event{}, errors.New("message without topic prefix")
	}
	var event Event
	if err := json.Unmarshal(msg[i+1:], &event); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return event, nil
}

// Fanout publishes every event to several sinks. All sinks are tried;
// failures are joined.
type Fanout []Sink

// Publish implements Sink.
func (f Fanout) Publish(topic string, eventType string, data any) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(topic, eventType, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
