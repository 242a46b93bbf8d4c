package watcher

import (
	"context"
	"time"

	"github.com/ritzau/insight-graph/pkg/logging"
)

// Debouncer batches rapid change events so a burst of edits triggers one
// rebuild.
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a new event debouncer. A batch is flushed once no
// event arrived for quietPeriod, or maxWait after its first event.
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	var (
		quiet       <-chan time.Time
		deadline    <-chan time.Time
		quietTimer  *time.Timer
		maxTimer    *time.Timer
		accumulated = make(map[ChangeType][]string)
		seen        = make(map[string]bool)
		eventCount  int
	)

	stopTimers := func() {
		if quietTimer != nil {
			quietTimer.Stop()
		}
		if maxTimer != nil {
			maxTimer.Stop()
		}
		quiet, deadline = nil, nil
		quietTimer, maxTimer = nil, nil
	}

	flush := func() {
		stopTimers()
		if eventCount == 0 {
			return
		}
		logging.Debug("flushing accumulated events", "count", eventCount)

		// Audience changes first: they rescore every node anyway.
		for _, t := range []ChangeType{ChangeTypeAudiences, ChangeTypeRecords} {
			if paths := accumulated[t]; len(paths) > 0 {
				select {
				case d.output <- ChangeEvent{Type: t, Paths: paths, Timestamp: time.Now()}:
				case <-ctx.Done():
				}
			}
		}

		accumulated = make(map[ChangeType][]string)
		seen = make(map[string]bool)
		eventCount = 0
	}

	for {
		select {
		case <-ctx.Done():
			stopTimers()
			return

		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}

			for _, p := range event.Paths {
				if !seen[p] {
					seen[p] = true
					accumulated[event.Type] = append(accumulated[event.Type], p)
				}
			}
			eventCount++

			// Reset quiet period timer
			if quietTimer != nil {
				quietTimer.Stop()
			}
			quietTimer = time.NewTimer(d.quietPeriod)
			quiet = quietTimer.C

			// Start max wait timer on first event
			if maxTimer == nil {
				maxTimer = time.NewTimer(d.maxWait)
				deadline = maxTimer.C
			}

		case <-quiet:
			flush()

		case <-deadline:
			logging.Debug("max wait reached, flushing", "count", eventCount)
			flush()
		}
	}
}

// Output returns the channel of debounced events
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}
