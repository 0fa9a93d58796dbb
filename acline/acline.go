// Package acline recovers the AC mains period from a rectified-AC
// optocoupler feeding a GPIO line.
//
// The optocoupler LED turns off slightly before the true zero crossing,
// so the observed rising edge leads the crossing by a fixed hysteresis.
// A short calibration run measures that hysteresis from the asymmetry
// between positive and negative half-cycles; afterwards a rising-edge
// watch keeps a live snapshot of the last crossing and the mains period.
package acline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/openindoor/triacd/rt"
)

// Mains frequency bounds. Periods outside them are treated as noise.
const (
	MinFrequency = 40
	MaxFrequency = 70

	MinPeriodNS = int64(time.Second) / MaxFrequency
	MaxPeriodNS = int64(time.Second) / MinFrequency
)

// DefaultHysteresisNS is used when calibration rejects the line.
const DefaultHysteresisNS = int64(320 * time.Microsecond)

// Snapshot is one consistent view of the zero-crossing state. Readers
// get the whole record from a single pointer swap, never a mix of
// fields from two different edges.
type Snapshot struct {
	Timestamp int64 // last accepted rising edge, CLOCK_MONOTONIC ns
	Previous  int64
	PeriodNS  int64
}

// Valid reports whether the period is inside the mains bounds.
func (s Snapshot) Valid() bool {
	return s.PeriodNS > MinPeriodNS && s.PeriodNS < MaxPeriodNS
}

// A Tracker owns the mains-feedback line. Lifecycle: New, Calibrate
// once, Start, Stop.
type Tracker struct {
	chip   string
	offset int

	cur  atomic.Pointer[Snapshot]
	hyst atomic.Int64
	subs atomic.Pointer[[]chan struct{}]

	mu    sync.Mutex // guards line ownership, calib and subscriber swaps
	line  *gpiocdev.Line
	calib CalibrationResult
}

// New prepares a tracker for the mains-feedback line at chip:offset.
// No hardware is touched until Calibrate or Start.
func New(chip string, offset int) *Tracker {
	t := &Tracker{chip: chip, offset: offset}
	t.cur.Store(&Snapshot{})
	t.hyst.Store(DefaultHysteresisNS)
	subs := []chan struct{}{}
	t.subs.Store(&subs)
	return t
}

// Start begins the live rising-edge watch. Watching only the rising
// edge halves the event load, and that edge leads the true crossing by
// the optocoupler hysteresis, which is exactly the grace period the
// phase workers need for their deadline arithmetic.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.line != nil {
		return nil
	}
	line, err := gpiocdev.RequestLine(t.chip, t.offset,
		gpiocdev.AsInput,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			// Kernel event timestamps are CLOCK_MONOTONIC, the same
			// clock the workers sleep against.
			ts := int64(evt.Timestamp)
			if ts == 0 {
				ts = rt.Now()
			}
			t.edge(ts)
		}))
	if err != nil {
		return fmt.Errorf("acline: request %s:%d: %w", t.chip, t.offset, err)
	}
	t.line = line
	return nil
}

// Stop releases the line. Safe to call when not started.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.line != nil {
		t.line.Close()
		t.line = nil
	}
}

// edge publishes a fresh snapshot for one accepted rising edge, then
// wakes every subscribed phase worker. It runs on the event goroutine
// and must not block.
func (t *Tracker) edge(ts int64) {
	prev := t.cur.Load()
	t.cur.Store(&Snapshot{
		Timestamp: ts,
		Previous:  prev.Timestamp,
		PeriodNS:  ts - prev.Timestamp,
	})
	for _, ch := range *t.subs.Load() {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers a wakeup channel signalled on every accepted
// edge. The channel has capacity 1; a slow consumer coalesces wakeups
// instead of blocking the edge handler. The returned func cancels the
// subscription.
func (t *Tracker) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	t.mu.Lock()
	old := *t.subs.Load()
	next := make([]chan struct{}, 0, len(old)+1)
	next = append(append(next, old...), ch)
	t.subs.Store(&next)
	t.mu.Unlock()
	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		old := *t.subs.Load()
		next := make([]chan struct{}, 0, len(old))
		for _, c := range old {
			if c != ch {
				next = append(next, c)
			}
		}
		t.subs.Store(&next)
	}
	return ch, cancel
}

// Current returns the latest zero-crossing snapshot.
func (t *Tracker) Current() Snapshot { return *t.cur.Load() }

// SyncTimestamp returns the timestamp of the last accepted edge.
func (t *Tracker) SyncTimestamp() int64 { return t.Current().Timestamp }

// PeriodNS returns the live mains period, or 0 when it is outside the
// 40-70 Hz window.
func (t *Tracker) PeriodNS() int64 {
	if s := t.Current(); s.Valid() {
		return s.PeriodNS
	}
	return 0
}

// HysteresisNS returns the calibrated optocoupler hysteresis.
func (t *Tracker) HysteresisNS() int64 { return t.hyst.Load() }

// Frequency formats the live mains frequency for telemetry.
func (t *Tracker) Frequency() string { return FormatFrequency(t.Current().PeriodNS) }

// FormatFrequency renders a period as "NN.NNHz\n", or "error\n" when
// the period is outside the mains bounds. Fixed point, two decimals.
func FormatFrequency(periodNS int64) string {
	if periodNS <= MinPeriodNS || periodNS >= MaxPeriodNS {
		return "error\n"
	}
	freqx100 := (100 * int64(time.Second)) / periodNS
	return fmt.Sprintf("%02d.%02dHz\n", freqx100/100, freqx100%100)
}
