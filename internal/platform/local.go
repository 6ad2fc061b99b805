package platform

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LocalTimers is an in-process timer table. Timers do not survive a restart;
// the owner is expected to reconcile every schedule on start-up.
type LocalTimers struct {
	log        zerolog.Logger
	permission func(ctx context.Context) bool
	newID      func() string

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	timers map[string]*localTimer
	closed bool
}

type localTimer struct {
	id      string
	payload Payload
	trigger Trigger
	armedAt time.Time
	stop    chan struct{}
}

// TimerInfo describes an armed timer.
type TimerInfo struct {
	ID      string
	Payload Payload
	Trigger Trigger
	ArmedAt time.Time
}

type Option func(*LocalTimers)

// WithPermission replaces the default "always granted" permission check.
func WithPermission(fn func(ctx context.Context) bool) Option {
	return func(t *LocalTimers) { t.permission = fn }
}

// WithBuffer sets the event queue capacity.
func WithBuffer(n int) Option {
	return func(t *LocalTimers) { t.events = make(chan Event, n) }
}

// WithIDs replaces uuid generation, mostly for tests.
func WithIDs(fn func() string) Option {
	return func(t *LocalTimers) { t.newID = fn }
}

func NewLocalTimers(log zerolog.Logger, opts ...Option) *LocalTimers {
	t := &LocalTimers{
		log:        log.With().Str("component", "timers").Logger(),
		permission: func(context.Context) bool { return true },
		newID:      func() string { return uuid.NewString() },
		events:     make(chan Event, 64),
		done:       make(chan struct{}),
		timers:     make(map[string]*localTimer),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *LocalTimers) RequestPermission(ctx context.Context) (bool, error) {
	return t.permission(ctx), nil
}

func (t *LocalTimers) Schedule(ctx context.Context, p Payload, trig Trigger) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if trig.AfterSeconds < 0 || trig.RepeatSeconds < 0 {
		return "", errors.New("negative trigger interval")
	}

	lt := &localTimer{
		id:      t.newID(),
		payload: p,
		trigger: trig,
		armedAt: time.Now(),
		stop:    make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", ErrUnavailable
	}
	t.timers[lt.id] = lt
	t.wg.Add(1)
	t.mu.Unlock()

	go t.run(lt)

	t.log.Debug().
		Str("timer_id", lt.id).
		Int64("schedule_id", p.ScheduleID).
		Int64("after_s", trig.AfterSeconds).
		Int64("repeat_s", trig.RepeatSeconds).
		Msg("timer armed")
	return lt.id, nil
}

func (t *LocalTimers) Cancel(ctx context.Context, id string) error {
	t.mu.Lock()
	lt, ok := t.timers[id]
	if ok {
		delete(t.timers, id)
	}
	t.mu.Unlock()

	if ok {
		close(lt.stop)
		t.log.Debug().Str("timer_id", id).Msg("timer cancelled")
	}
	return nil
}

// Armed lists the live timers ordered by arm time.
func (t *LocalTimers) Armed() []TimerInfo {
	t.mu.Lock()
	out := make([]TimerInfo, 0, len(t.timers))
	for _, lt := range t.timers {
		out = append(out, TimerInfo{ID: lt.id, Payload: lt.payload, Trigger: lt.trigger, ArmedAt: lt.armedAt})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ArmedAt.Before(out[j].ArmedAt) })
	return out
}

func (t *LocalTimers) Events() <-chan Event {
	return t.events
}

func (t *LocalTimers) Post(ctx context.Context, ev Event) error {
	select {
	case t.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrUnavailable
	}
}

// Close disarms every timer and waits for their goroutines.
func (t *LocalTimers) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	for id, lt := range t.timers {
		close(lt.stop)
		delete(t.timers, id)
	}
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

func (t *LocalTimers) run(lt *localTimer) {
	defer t.wg.Done()

	// Fire instants are anchored on the arm time so repeats never drift.
	fireAt := lt.armedAt.Add(time.Duration(lt.trigger.AfterSeconds) * time.Second)
	period := time.Duration(lt.trigger.RepeatSeconds) * time.Second
	nominal := lt.payload.ScheduledTime
	if nominal.IsZero() {
		nominal = fireAt
	}

	timer := time.NewTimer(time.Until(fireAt))
	defer timer.Stop()

	for {
		select {
		case <-lt.stop:
			return
		case <-timer.C:
		}

		ev := Event{Kind: EventFired, TimerID: lt.id, Payload: lt.payload, DueAt: nominal}
		select {
		case t.events <- ev:
		case <-lt.stop:
			return
		}

		if !lt.trigger.Repeats() {
			t.mu.Lock()
			delete(t.timers, lt.id)
			t.mu.Unlock()
			return
		}
		fireAt = fireAt.Add(period)
		nominal = nominal.Add(period)
		timer.Reset(time.Until(fireAt))
	}
}
