package triac

import (
	"errors"
	"math"
	"time"

	"github.com/charmbracelet/log"
)

// FadeStep is the fader's update interval.
const FadeStep = 50 * time.Millisecond

// ErrFadeTooFast reports a fade duration shorter than one step.
var ErrFadeTooFast = errors.New("triac: cannot fade that fast")

// fader ramps the requested angles toward a target over a duration.
type fader struct {
	quit chan struct{}
	done chan struct{}
}

// StartFade ramps the channel's requested angles from their current
// values to (pos, neg) over total. A running fade is cancelled and
// joined before the replacement starts. Owned by the coordinator
// goroutine.
func (c *Channel) StartFade(pos, neg int, total time.Duration) error {
	steps := int(total / FadeStep)
	if steps == 0 {
		return ErrFadeTooFast
	}
	c.StopFade()
	f := &fader{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.fader = f
	go f.run(c, pos, neg, steps)
	return nil
}

// StopFade cancels and joins the running fade, if any. The fader
// reacts at its next step boundary.
func (c *Channel) StopFade() {
	if c.fader == nil {
		return
	}
	close(c.fader.quit)
	<-c.fader.done
	c.fader = nil
}

// Fading reports whether a fade task exists for the channel.
func (c *Channel) Fading() bool { return c.fader != nil }

// fadePlan returns the successive angle pairs a fade writes: steps
// evenly spaced values ending exactly on the target. Fractional
// accumulators keep the ramp monotonic despite integer rounding.
func fadePlan(fromPos, fromNeg, toPos, toNeg, steps int) [][2]int {
	stepPos := float64(toPos-fromPos) / float64(steps)
	stepNeg := float64(toNeg-fromNeg) / float64(steps)
	accPos, accNeg := float64(fromPos), float64(fromNeg)
	plan := make([][2]int, steps)
	for i := 0; i < steps-1; i++ {
		accPos += stepPos
		accNeg += stepNeg
		plan[i] = [2]int{int(math.Round(accPos)), int(math.Round(accNeg))}
	}
	plan[steps-1] = [2]int{toPos, toNeg}
	return plan
}

func (f *fader) run(c *Channel, targetPos, targetNeg, steps int) {
	defer close(f.done)
	pos, neg := c.Requested()
	log.Debug("fade started", "channel", c.Label,
		"pos", targetPos, "neg", targetNeg, "steps", steps)
	for _, p := range fadePlan(pos, neg, targetPos, targetNeg, steps) {
		c.Request(p[0], p[1])
		select {
		case <-f.quit:
			log.Debug("fade cancelled", "channel", c.Label)
			return
		case <-time.After(FadeStep):
		}
	}
	log.Debug("fade finished", "channel", c.Label)
}
