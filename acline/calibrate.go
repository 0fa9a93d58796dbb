package acline

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/openindoor/triacd/rt"
)

// CalibTime is how long the both-edges calibration watch runs.
const CalibTime = 5 * time.Second

// calibBufferLength bounds each half-cycle sample buffer.
const calibBufferLength = int(CalibTime/time.Second) * MaxFrequency

// Calibration acceptance threshold: both half-cycle populations must
// sit within this standard deviation.
const calibMaxStdDevNS = int64(50 * time.Microsecond)

// hysteresisFloorNS guards against symmetric optocouplers whose
// computed correction would come out zero or negative and push trigger
// deadlines before the crossing estimate.
const hysteresisFloorNS = int64(50 * time.Microsecond)

// CalibrationResult is the outcome of the startup calibration.
type CalibrationResult struct {
	SamplesPos   int
	SamplesNeg   int
	MeanPosNS    int64
	MeanNegNS    int64
	StdDevPosNS  int64
	StdDevNegNS  int64
	HysteresisNS int64
	Stable       bool
}

// calibSampler collects per-half-cycle durations from both edges.
type calibSampler struct {
	lastTS int64
	pos    []int64
	neg    []int64
}

// sample records one edge. The first edge only seeds the timestamp.
// A rising edge starts the positive half-cycle, so the interval that
// just ended belongs to the negative buffer.
func (c *calibSampler) sample(ts int64, rising bool) {
	if c.lastTS == 0 {
		c.lastTS = ts
		return
	}
	if len(c.pos) >= calibBufferLength || len(c.neg) >= calibBufferLength {
		return
	}
	d := ts - c.lastTS
	c.lastTS = ts
	if rising {
		c.neg = append(c.neg, d)
	} else {
		c.pos = append(c.pos, d)
	}
}

// evaluate computes per-buffer statistics and the optocoupler
// hysteresis. The LED turn-off threshold stretches one observed half
// and shrinks the other; a quarter of the mean difference is the
// per-edge correction.
func evaluate(pos, neg []int64) CalibrationResult {
	r := CalibrationResult{
		SamplesPos:   len(pos),
		SamplesNeg:   len(neg),
		HysteresisNS: DefaultHysteresisNS,
	}
	if len(pos) == 0 || len(neg) == 0 {
		return r
	}
	r.MeanPosNS, r.StdDevPosNS = stats(pos)
	r.MeanNegNS, r.StdDevNegNS = stats(neg)
	if r.StdDevPosNS >= calibMaxStdDevNS || r.StdDevNegNS >= calibMaxStdDevNS {
		return r
	}
	r.Stable = true
	r.HysteresisNS = (r.MeanNegNS - r.MeanPosNS) / 4
	if r.HysteresisNS < hysteresisFloorNS {
		r.HysteresisNS = hysteresisFloorNS
	}
	return r
}

func stats(samples []int64) (mean, stddev int64) {
	var sum int64
	for _, s := range samples {
		sum += s
	}
	mean = sum / int64(len(samples))
	var accum int64
	for _, s := range samples {
		d := s - mean
		accum += d * d
	}
	return mean, int64(math.Sqrt(float64(accum / int64(len(samples)))))
}

// Calibrate watches both edges for CalibTime and derives the
// optocoupler hysteresis. On an unstable line the default hysteresis
// is kept and the result reports Stable == false; the caller decides
// how loudly to complain.
func (t *Tracker) Calibrate() (CalibrationResult, error) {
	var (
		mu sync.Mutex
		cs calibSampler
	)
	line, err := gpiocdev.RequestLine(t.chip, t.offset,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			ts := int64(evt.Timestamp)
			if ts == 0 {
				ts = rt.Now()
			}
			mu.Lock()
			cs.sample(ts, evt.Type == gpiocdev.LineEventRisingEdge)
			mu.Unlock()
		}))
	if err != nil {
		return CalibrationResult{}, fmt.Errorf("acline: calibrate %s:%d: %w", t.chip, t.offset, err)
	}
	time.Sleep(CalibTime)
	line.Close()

	mu.Lock()
	r := evaluate(cs.pos, cs.neg)
	mu.Unlock()

	t.hyst.Store(r.HysteresisNS)
	t.mu.Lock()
	t.calib = r
	t.mu.Unlock()
	return r, nil
}

// Calibration returns the stored startup calibration result.
func (t *Tracker) Calibration() CalibrationResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calib
}
