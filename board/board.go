// Package board wires the zero-crossing tracker, the channel table and
// the per-channel state machines into one coordinator.
//
// A single goroutine applies incoming commands and runs the periodic
// state-machine tick, so every side effect on a channel (worker
// start/stop, gate writes, delay recomputation) is serialized.
package board

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/openindoor/triacd/acline"
	"github.com/openindoor/triacd/config"
	"github.com/openindoor/triacd/ipc"
	"github.com/openindoor/triacd/triac"
)

// tickInterval drives the per-channel state machines.
const tickInterval = 100 * time.Millisecond

// zeroCross is the tracker surface the board consumes.
type zeroCross interface {
	triac.ZeroCrossSource
	PeriodNS() int64
	Frequency() string
	Calibration() acline.CalibrationResult
	Stop()
}

// Board is the coordinator owning the channel table and the tracker.
type Board struct {
	tracker  zeroCross
	channels []*triac.Channel // nil entries are disabled channels
	reqs     chan request
	quit     chan struct{}
	done     chan struct{}
}

type request struct {
	req   ipc.Request
	errCh chan error
}

// Open initializes the GPIO stack, calibrates the mains feedback and
// starts the coordinator.
func Open(cfg *config.Config) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("board: host init: %w", err)
	}

	channels := make([]*triac.Channel, len(cfg.Channels))
	active := 0
	for i, cc := range cfg.Channels {
		pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", cc.Pin))
		if pin == nil {
			log.Error("gate pin unavailable, channel disabled",
				"channel", cc.Label, "gpio", cc.Pin)
			continue
		}
		ch, err := triac.NewChannel(i, cc.Label, pin)
		if err != nil {
			log.Error("channel disabled", "channel", cc.Label, "err", err)
			continue
		}
		channels[i] = ch
		active++
		log.Info("channel ready", "channel", cc.Label, "gpio", cc.Pin)
	}
	if active == 0 {
		return nil, errors.New("board: no channels could be configured")
	}

	tracker := acline.New(cfg.GPIOChip, cfg.InputPin)
	log.Info("calibrating AC line", "duration", acline.CalibTime)
	calib, err := tracker.Calibrate()
	if err != nil {
		return nil, err
	}
	if calib.Stable {
		log.Info("optocoupler hysteresis calibrated",
			"hysteresis", time.Duration(calib.HysteresisNS),
			"samples", calib.SamplesPos+calib.SamplesNeg)
	} else {
		log.Warn("AC line unstable, using default hysteresis",
			"hysteresis", time.Duration(calib.HysteresisNS))
	}
	if err := tracker.Start(); err != nil {
		return nil, err
	}

	b := newBoard(tracker, channels)
	log.Info("board ready", "channels", active)
	return b, nil
}

// newBoard starts the coordinator over an already-initialized tracker
// and channel table.
func newBoard(tracker zeroCross, channels []*triac.Channel) *Board {
	b := &Board{
		tracker:  tracker,
		channels: channels,
		reqs:     make(chan request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Board) loop() {
	defer close(b.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.quit:
			b.shutdown()
			return
		case r := <-b.reqs:
			r.errCh <- b.apply(r.req)
		case <-ticker.C:
			for _, c := range b.channels {
				if c != nil {
					b.tick(c)
				}
			}
		}
	}
}

// apply commits one validated command and ticks the channel right
// away, so a caller observes the transition without waiting for the
// next periodic tick.
func (b *Board) apply(req ipc.Request) error {
	c := b.channel(req.Channel)
	if c == nil {
		return fmt.Errorf("channel %d is not available", req.Channel)
	}
	switch {
	case req.Fade && req.TimeMS == 0:
		// A fade with no duration stops the running fade immediately.
		c.StopFade()
	case req.Fade:
		if err := c.StartFade(req.Pos, req.Neg, time.Duration(req.TimeMS)*time.Millisecond); err != nil {
			return err
		}
	default:
		c.StopFade()
		c.Request(req.Pos, req.Neg)
	}
	b.tick(c)
	return nil
}

// tick runs one state-machine evaluation for a channel and executes
// the resulting ops.
func (b *Board) tick(c *triac.Channel) {
	pos, neg := c.Requested()
	refresh := c.TakeRefresh()
	next, ops := triac.Next(c.Status(), pos, neg, refresh)
	for _, op := range ops {
		switch op {
		case triac.Recompute:
			p := b.tracker.PeriodNS()
			c.Recompute(next, p)
			if p == 0 {
				// No sync yet; retry once edges are back.
				c.MarkRefresh()
			}
		case triac.StartWorker:
			c.StartWorker(b.tracker)
		case triac.StopWorker:
			c.StopWorker()
		case triac.GateHigh:
			if err := c.SetGate(true); err != nil {
				log.Error("gate write failed", "channel", c.Label, "err", err)
			}
		case triac.GateLow:
			if err := c.SetGate(false); err != nil {
				log.Error("gate write failed", "channel", c.Label, "err", err)
			}
		}
	}
	if next != c.Status() {
		log.Info("channel state", "channel", c.Label, "state", next)
		switch next {
		case triac.Off:
			c.Request(0, 0)
		case triac.On:
			c.Request(180, 180)
		}
		c.SetStatus(next)
	}
}

// shutdown tears the board down in dependency order: faders first so
// angles stop moving, then phase workers, then the edge watch. Gates
// end up low.
func (b *Board) shutdown() {
	for _, c := range b.channels {
		if c != nil {
			c.StopFade()
		}
	}
	for _, c := range b.channels {
		if c != nil {
			c.StopWorker()
		}
	}
	b.tracker.Stop()
	for _, c := range b.channels {
		if c == nil {
			continue
		}
		if err := c.SetGate(false); err != nil {
			log.Error("gate write failed", "channel", c.Label, "err", err)
		}
		c.SetStatus(triac.Off)
		c.Request(0, 0)
	}
}

// Close stops the coordinator and quiesces every output.
func (b *Board) Close() {
	close(b.quit)
	<-b.done
}

func (b *Board) channel(n int) *triac.Channel {
	if n < 1 || n > len(b.channels) {
		return nil
	}
	return b.channels[n-1]
}

// Set validates and applies one command. It blocks until the
// coordinator has executed the resulting transition.
func (b *Board) Set(req ipc.Request) error {
	if err := req.Validate(len(b.channels)); err != nil {
		return err
	}
	r := request{req: req, errCh: make(chan error, 1)}
	select {
	case b.reqs <- r:
		return <-r.errCh
	case <-b.done:
		return errors.New("board: shutting down")
	}
}

// Frequency serves the mains-frequency telemetry read.
func (b *Board) Frequency() string { return b.tracker.Frequency() }

// Calibration reports the startup calibration outcome.
func (b *Board) Calibration() acline.CalibrationResult {
	return b.tracker.Calibration()
}

// ChannelStatus serves the per-channel status read.
func (b *Board) ChannelStatus(n int) (string, error) {
	c := b.channel(n)
	if c == nil {
		return "", fmt.Errorf("channel %d is not available", n)
	}
	pos, neg := c.Requested()
	switch c.Status() {
	case triac.Off:
		return "off\n", nil
	case triac.On:
		return "on\n", nil
	case triac.Symmetric:
		return fmt.Sprintf("symmetric %ddeg\n", pos), nil
	case triac.Asymmetric:
		return fmt.Sprintf("asymmetric %ddeg / %ddeg\n", pos, neg), nil
	}
	return "", errors.New("unknown state")
}
