// Package triac drives TRIAC outputs with per-half-cycle phase control.
//
// Each channel owns a gate pin and, while phase control is active, a
// real-time worker that fires one gate pulse per half-cycle at a delay
// derived from the requested conduction angles. Asymmetric angles give
// the load a controllable DC mean.
package triac

import (
	"fmt"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// MaxChannels is the number of TRIAC outputs the board exposes.
const MaxChannels = 4

// PhaseGuard is the dead band, in degrees, around the edges of the
// angle range. Requests inside it snap to the edge to avoid degenerate
// pulses right at the crossing.
const PhaseGuard = 5

// Gate pulse policy. A trigger delay below HighConductionNS means the
// TRIAC fires near the crossing where load current rises slowly, so the
// gate is held long enough to reach latching current.
const (
	HighConductionNS = int64(1500 * time.Microsecond)
	ShortPulse       = 10 * time.Microsecond
	LongPulse        = 500 * time.Microsecond
)

// Status is the per-channel operating mode.
type Status uint32

const (
	Off Status = iota
	On
	Symmetric
	Asymmetric
)

func (s Status) String() string {
	switch s {
	case Off:
		return "off"
	case On:
		return "on"
	case Symmetric:
		return "symmetric"
	case Asymmetric:
		return "asymmetric"
	}
	return fmt.Sprintf("Status(%d)", uint32(s))
}

// AngleToNS converts a conduction angle to the gate trigger delay
// measured from the estimated zero crossing. Angle 0 yields 0, which
// the worker reads as "skip the half-cycle" rather than "fire at the
// crossing"; angle 180 fires immediately.
func AngleToNS(angle int, periodNS int64) int64 {
	if angle == 0 {
		return 0
	}
	return int64(180-angle) * periodNS / 360
}

// asymDelay bounds an asymmetric-mode angle before conversion: the low
// guard band skips the half-cycle entirely and the high band keeps the
// pulse a guard's width away from the crossing.
func asymDelay(angle int, periodNS int64) int64 {
	switch {
	case angle <= PhaseGuard:
		return 0
	case angle >= 180-PhaseGuard:
		angle = 180 - PhaseGuard
	}
	return AngleToNS(angle, periodNS)
}

// Channel is one TRIAC output.
type Channel struct {
	Index int // 0-based
	Label string

	pin gpio.PinIO

	status  atomic.Uint32
	angles  atomic.Uint64 // packed requested (pos, neg) degrees
	delays  atomic.Uint64 // packed (pos, neg) trigger delays, ns
	refresh atomic.Bool
	missed  atomic.Uint64

	// worker and fader are owned by the coordinator goroutine.
	worker *worker
	fader  *fader
}

// NewChannel wires a TRIAC output to its gate pin. The gate is driven
// low immediately.
func NewChannel(index int, label string, pin gpio.PinIO) (*Channel, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("%s: gate init: %w", label, err)
	}
	return &Channel{Index: index, Label: label, pin: pin}, nil
}

func packPair(a, b uint32) uint64 { return uint64(a)<<32 | uint64(b) }

func unpackPair(v uint64) (uint32, uint32) { return uint32(v >> 32), uint32(v) }

// Request commits new requested conduction angles and marks the
// channel for recomputation. The pair is a single atomic word, so a
// reader observes either the old pair or the new one, never a mix.
func (c *Channel) Request(pos, neg int) {
	c.angles.Store(packPair(uint32(pos), uint32(neg)))
	c.refresh.Store(true)
}

// Requested returns the committed angle pair.
func (c *Channel) Requested() (pos, neg int) {
	p, n := unpackPair(c.angles.Load())
	return int(p), int(n)
}

// Delays returns the computed per-half-cycle trigger delays.
func (c *Channel) Delays() (posNS, negNS int64) {
	p, n := unpackPair(c.delays.Load())
	return int64(p), int64(n)
}

func (c *Channel) setDelays(posNS, negNS int64) {
	c.delays.Store(packPair(uint32(posNS), uint32(negNS)))
}

// Recompute derives the trigger delays from the requested angles for
// the given status and mains period. A zero period clears the delays;
// the worker then skips pulses until sync returns.
func (c *Channel) Recompute(st Status, periodNS int64) {
	if periodNS == 0 {
		c.setDelays(0, 0)
		return
	}
	pos, neg := c.Requested()
	switch st {
	case Symmetric:
		d := AngleToNS(pos, periodNS)
		c.setDelays(d, d)
	case Asymmetric:
		c.setDelays(asymDelay(pos, periodNS), asymDelay(neg, periodNS))
	default:
		c.setDelays(0, 0)
	}
}

// Status returns the channel's operating mode.
func (c *Channel) Status() Status { return Status(c.status.Load()) }

// SetStatus records the operating mode. Owned by the coordinator.
func (c *Channel) SetStatus(s Status) { c.status.Store(uint32(s)) }

// TakeRefresh consumes the pending-recompute flag.
func (c *Channel) TakeRefresh() bool { return c.refresh.Swap(false) }

// MarkRefresh re-arms the pending-recompute flag, used when a
// recompute could not run for lack of sync.
func (c *Channel) MarkRefresh() { c.refresh.Store(true) }

// SetGate drives the gate pin directly. The coordinator uses this for
// the ON and OFF states; the phase worker owns the pin otherwise.
func (c *Channel) SetGate(level bool) error {
	return c.pin.Out(gpio.Level(level))
}

// Missed returns how many trigger deadlines the worker skipped because
// it was scheduled too late.
func (c *Channel) Missed() uint64 { return c.missed.Load() }

// Running reports whether a phase worker exists for the channel.
func (c *Channel) Running() bool { return c.worker != nil }
