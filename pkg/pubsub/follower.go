package pubsub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	"github.com/ritzau/insight-graph/pkg/logging"
)

// ErrDisconnected is returned by Follower.Run once every connection
// attempt allowed by the retry policy has failed.
var ErrDisconnected = errors.New("disconnected")

// State is the connection state of a Follower.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected" // terminal
)

// RetryPolicy bounds reconnection. Attempt n (0-based) waits
// Interval x Backoff^n, capped at MaxInterval when that is set.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	Backoff     float64
	MaxInterval time.Duration
	// IdleTimeout reconnects after this long without a message. Zero
	// waits forever.
	IdleTimeout time.Duration
}

// DefaultRetryPolicy retries five times, doubling from one second, and
// treats three missed heartbeats as a lost stream.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Interval:    time.Second,
		Backoff:     2,
		MaxInterval: 30 * time.Second,
		IdleTimeout: 3 * HeartbeatInterval,
	}
}

// Validate checks the policy.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.Interval < 0 || p.MaxInterval < 0 || p.IdleTimeout < 0 {
		return errors.New("intervals must not be negative")
	}
	if p.Backoff != 0 && p.Backoff < 1 {
		return fmt.Errorf("backoff must be at least 1, got %v", p.Backoff)
	}
	return nil
}

// Delay returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	factor := 1.0
	if p.Backoff > 1 {
		factor = math.Pow(p.Backoff, float64(attempt))
	}
	d := time.Duration(float64(p.Interval) * factor)
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}

// pollInterval bounds how long a receive blocks before the context is
// checked again.
const pollInterval = 200 * time.Millisecond

// Follower subscribes to a remote NNGPublisher.
type Follower struct {
	addr    string
	topics  []string
	policy  RetryPolicy
	onState func(State)
}

// NewFollower creates a follower of addr. With no topics it receives
// everything.
func NewFollower(addr string, policy RetryPolicy, topics ...string) (*Follower, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	return &Follower{addr: addr, topics: topics, policy: policy}, nil
}

// OnState registers a callback for state changes. StateDisconnected is
// reported at most once.
func (f *Follower) OnState(fn func(State)) {
	f.onState = fn
}

func (f *Follower) setState(s State) {
	if f.onState != nil {
		f.onState(s)
	}
}

// Run delivers events to handle until ctx is done or the retry policy is
// exhausted, in which case it returns ErrDisconnected.
func (f *Follower) Run(ctx context.Context, handle func(Event)) error {
	attempt := 0
	for {
		f.setState(StateConnecting)
		sock, err := f.dial()
		if err == nil {
			attempt = 0
			f.setState(StateConnected)
			logging.Info("following activity", "addr", f.addr)
			err = f.receive(ctx, sock, handle)
			sock.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn("activity stream lost", "addr", f.addr, "error", err)
		} else {
			logging.Debug("connection attempt failed", "addr", f.addr, "attempt", attempt+1, "error", err)
		}

		if attempt >= f.policy.MaxAttempts-1 {
			f.setState(StateDisconnected)
			return fmt.Errorf("%w: %s after %d attempts: %v", ErrDisconnected, f.addr, attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.policy.Delay(attempt)):
		}
		attempt++
	}
}

func (f *Follower) dial() (mangos.Socket, error) {
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create SUB socket: %w", err)
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, pollInterval); err != nil {
		sock.Close()
		return nil, err
	}

	topics := f.topics
	if len(topics) == 0 {
		topics = []string{""}
	} else {
		topics = append(topics[:len(topics):len(topics)], topicHeartbeat)
	}
	for _, t := range topics {
		prefix := []byte(t)
		if t != "" {
			prefix = append(prefix, topicSep)
		}
		if err := sock.SetOption(mangos.OptionSubscribe, prefix); err != nil {
			sock.Close()
			return nil, fmt.Errorf("failed to subscribe to %q: %w", t, err)
		}
	}

	if err := sock.Dial(f.addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", f.addr, err)
	}
	return sock, nil
}

func (f *Follower) receive(ctx context.Context, sock mangos.Socket, handle func(Event)) error {
	last := time.Now()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg, err := sock.Recv()
		if errors.Is(err, mangos.ErrRecvTimeout) {
			if f.policy.IdleTimeout > 0 && time.Since(last) > f.policy.IdleTimeout {
				return fmt.Errorf("no message for %v", f.policy.IdleTimeout)
			}
			continue
		}
		if err != nil {
			return err
		}
		last = time.Now()
		if bytes.HasPrefix(msg, heartbeatPrefix) {
			continue
		}

		event, err := decodeMessage(msg)
		if err != nil {
			logging.Warn("ignoring malformed activity message", "error", err)
			continue
		}
		handle(event)
	}
}
