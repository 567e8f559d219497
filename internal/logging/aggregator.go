package logging

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Aggregator counts repetitive events (poll passes, unchanged windows,
// dropped mirror frames) and logs one "event_summary" record per event each
// interval instead of one record per occurrence.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	events map[string]*eventTally

	stop    chan struct{}
	stopped chan struct{}
	started bool
	once    sync.Once
}

type eventTally struct {
	component string
	event     string
	count     int64
	first     time.Time
	last      time.Time
	attrs     []slog.Attr
}

func tallyKey(component, event string) string {
	return component + "/" + event
}

// NewAggregator summarises every interval (one minute when zero). A nil
// logger counts but never writes.
func NewAggregator(logger *slog.Logger, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Aggregator{
		logger:   logger,
		interval: interval,
		events:   make(map[string]*eventTally),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start runs the periodic summary until Stop.
func (a *Aggregator) Start() {
	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	go a.run()
}

// Stop writes the final summary. It may be called more than once, with or
// without Start.
func (a *Aggregator) Stop() {
	a.once.Do(func() {
		a.mu.Lock()
		started := a.started
		a.mu.Unlock()
		close(a.stop)
		if started {
			<-a.stopped
		}
		a.summarise()
	})
}

// Record counts one occurrence. attrs, when given, replace the ones shown
// in the summary.
func (a *Aggregator) Record(component, event string, attrs ...slog.Attr) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	key := tallyKey(component, event)
	t, ok := a.events[key]
	if !ok {
		t = &eventTally{component: component, event: event, first: now}
		a.events[key] = t
	}
	t.count++
	t.last = now
	if len(attrs) > 0 {
		t.attrs = attrs
	}
}

// Pending is the count recorded for an event since the last summary.
func (a *Aggregator) Pending(component, event string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.events[tallyKey(component, event)]; ok {
		return t.count
	}
	return 0
}

func (a *Aggregator) run() {
	defer close(a.stopped)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.summarise()
		}
	}
}

func (a *Aggregator) summarise() {
	a.mu.Lock()
	tallies := make([]*eventTally, 0, len(a.events))
	for _, t := range a.events {
		tallies = append(tallies, t)
	}
	a.events = make(map[string]*eventTally)
	a.mu.Unlock()

	if a.logger == nil || len(tallies) == 0 {
		return
	}
	sort.Slice(tallies, func(i, j int) bool {
		if tallies[i].component != tallies[j].component {
			return tallies[i].component < tallies[j].component
		}
		return tallies[i].event < tallies[j].event
	})
	for _, t := range tallies {
		args := []any{
			slog.String("component", t.component),
			slog.String("event", t.event),
			slog.Int64("count", t.count),
			slog.Time("first", t.first),
			slog.Time("last", t.last),
		}
		for _, attr := range t.attrs {
			args = append(args, attr)
		}
		a.logger.Info("event_summary", args...)
	}
}
