package triac

import (
	"time"

	"github.com/charmbracelet/log"
	"periph.io/x/conn/v3/gpio"

	"github.com/openindoor/triacd/acline"
	"github.com/openindoor/triacd/rt"
)

// ZeroCrossSource is the tracker surface the phase worker consumes.
type ZeroCrossSource interface {
	Current() acline.Snapshot
	HysteresisNS() int64
	Subscribe() (<-chan struct{}, func())
}

// wakeTimeout bounds the wait for a zero-crossing wakeup. Expiry means
// the tracker lost sync; the worker idles without pulsing until edges
// come back.
const wakeTimeout = 100 * time.Millisecond

// lateNS is how far past a deadline the worker will still fire. Beyond
// it the pulse could land in the wrong half-cycle, so the worker skips
// the pulse and waits for the next crossing.
const lateNS = int64(time.Millisecond)

// worker is the real-time task firing gate pulses for one channel.
type worker struct {
	ch    *Channel
	src   ZeroCrossSource
	wake  <-chan struct{}
	unsub func()
	quit  chan struct{}
	done  chan struct{}
}

// StartWorker launches the phase worker for the channel. No-op when
// one is already running. Owned by the coordinator goroutine.
func (c *Channel) StartWorker(src ZeroCrossSource) {
	if c.worker != nil {
		return
	}
	wake, unsub := src.Subscribe()
	w := &worker{
		ch:    c,
		src:   src,
		wake:  wake,
		unsub: unsub,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	c.worker = w
	go w.run()
	log.Debug("phase worker started", "channel", c.Label)
}

// StopWorker cancels and joins the phase worker. No-op when none is
// running. Cancellation is cooperative and takes effect no later than
// the next wakeup or sync timeout.
func (c *Channel) StopWorker() {
	if c.worker == nil {
		return
	}
	close(c.worker.quit)
	<-c.worker.done
	c.worker.unsub()
	c.worker = nil
	log.Debug("phase worker stopped", "channel", c.Label)
}

func (w *worker) run() {
	defer close(w.done)
	if err := rt.LockThread(rt.WorkerPriority); err != nil {
		log.Warn("phase worker without realtime priority", "channel", w.ch.Label, "err", err)
	}
	timer := time.NewTimer(wakeTimeout)
	defer timer.Stop()
	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wakeTimeout)

		select {
		case <-w.quit:
			return
		case <-w.wake:
		case <-timer.C:
			// Sync lost. No pulses; they resume with the next edge.
			continue
		}

		snap := w.src.Current()
		if !snap.Valid() {
			continue
		}
		posNS, negNS := w.ch.Delays()
		// The rising edge leads the true crossing by the optocoupler
		// hysteresis; ref estimates the crossing itself.
		ref := snap.Timestamp + w.src.HysteresisNS()

		if negNS > 0 {
			w.fireAt(ref+negNS, negNS)
		}
		if posNS > 0 {
			w.fireAt(ref+snap.PeriodNS/2+posNS, posNS)
		}
	}
}

// fireAt sleeps to the absolute deadline and pulses the gate. There is
// no catch-up for a badly missed deadline; the worker drops the pulse
// and picks up again at the next crossing.
func (w *worker) fireAt(deadline, delayNS int64) {
	rt.SleepUntil(deadline)
	if rt.Now()-deadline > lateNS {
		w.ch.missed.Add(1)
		return
	}
	w.ch.pulse(delayNS)
}

// pulse drives one gate trigger. The worker blocks for the pulse
// duration; both sleeps are tiny compared to a half-cycle.
func (c *Channel) pulse(delayNS int64) {
	c.pin.Out(gpio.High)
	if delayNS < HighConductionNS {
		time.Sleep(LongPulse)
	} else {
		time.Sleep(ShortPulse)
	}
	c.pin.Out(gpio.Low)
}
