package triac

import (
	"math"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/openindoor/triacd/internal/gatetest"
)

const testPeriod = int64(20 * time.Millisecond)

func TestAngleToNS(t *testing.T) {
	tests := []struct {
		angle int
		want  int64
	}{
		{0, 0},               // skip the half-cycle entirely
		{180, 0},             // fire right at the crossing
		{90, testPeriod / 4}, // quarter period
		{45, 135 * testPeriod / 360},
		{135, 45 * testPeriod / 360},
		{1, 179 * testPeriod / 360},
	}
	for _, tc := range tests {
		if got := AngleToNS(tc.angle, testPeriod); got != tc.want {
			t.Errorf("AngleToNS(%d) = %d, want %d", tc.angle, got, tc.want)
		}
	}
}

func TestAngleToNSProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		angle := rapid.IntRange(0, 180).Draw(t, "angle")
		period := rapid.Int64Range(14_285_714, 25_000_000).Draw(t, "period")
		d := AngleToNS(angle, period)
		if d < 0 || d > period/2 {
			t.Fatalf("delay %d outside half-cycle for angle %d", d, angle)
		}
		if angle > 0 && angle < 180 {
			// More conduction means an earlier trigger.
			if d2 := AngleToNS(angle+1, period); d2 >= d {
				t.Fatalf("delay not monotonic at %d: %d -> %d", angle, d, d2)
			}
		}
	})
}

func TestAsymDelay(t *testing.T) {
	// The (2, 178) request from an asymmetric pair: positive half is
	// skipped outright, negative half fires near-full but bounded a
	// guard's width from the crossing.
	if got := asymDelay(2, testPeriod); got != 0 {
		t.Fatalf("asymDelay(2) = %d, want skip", got)
	}
	want := AngleToNS(180-PhaseGuard, testPeriod)
	if got := asymDelay(178, testPeriod); got != want {
		t.Fatalf("asymDelay(178) = %d, want %d", got, want)
	}
	if got := asymDelay(90, testPeriod); got != testPeriod/4 {
		t.Fatalf("asymDelay(90) = %d, want %d", got, testPeriod/4)
	}
	if got := asymDelay(0, testPeriod); got != 0 {
		t.Fatalf("asymDelay(0) = %d, want 0", got)
	}
	if got := asymDelay(180, testPeriod); got != want {
		t.Fatalf("asymDelay(180) = %d, want bounded %d", got, want)
	}
}

func TestPackPair(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Uint32().Draw(t, "a")
		b := rapid.Uint32().Draw(t, "b")
		ga, gb := unpackPair(packPair(a, b))
		if ga != a || gb != b {
			t.Fatalf("pack/unpack mangled (%d,%d) -> (%d,%d)", a, b, ga, gb)
		}
	})
}

func TestRequestAtomicPair(t *testing.T) {
	c := newTestChannel(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i <= 180; i++ {
			c.Request(i, 180-i)
		}
	}()
	for {
		pos, neg := c.Requested()
		if pos+neg != 180 && !(pos == 0 && neg == 0) {
			t.Fatalf("torn pair (%d,%d)", pos, neg)
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

func TestRecompute(t *testing.T) {
	c := newTestChannel(t)

	c.Request(90, 90)
	c.Recompute(Symmetric, testPeriod)
	pos, neg := c.Delays()
	if pos != testPeriod/4 || neg != testPeriod/4 {
		t.Fatalf("symmetric delays = (%d,%d)", pos, neg)
	}

	c.Request(2, 178)
	c.Recompute(Asymmetric, testPeriod)
	pos, neg = c.Delays()
	if pos != 0 {
		t.Fatalf("asym pos delay = %d, want skip", pos)
	}
	if want := AngleToNS(180-PhaseGuard, testPeriod); neg != want {
		t.Fatalf("asym neg delay = %d, want %d", neg, want)
	}

	// Losing sync clears the delays so the worker idles.
	c.Recompute(Asymmetric, 0)
	pos, neg = c.Delays()
	if pos != 0 || neg != 0 {
		t.Fatalf("delays after sync loss = (%d,%d)", pos, neg)
	}

	c.Request(90, 90)
	c.Recompute(Off, testPeriod)
	pos, neg = c.Delays()
	if pos != 0 || neg != 0 {
		t.Fatalf("off delays = (%d,%d)", pos, neg)
	}
}

func TestPulsePolicy(t *testing.T) {
	pin := &gatetest.Pin{N: "GPIO26"}
	c, err := NewChannel(0, "TRIAC1", pin)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	c.pulse(HighConductionNS - 1)
	long := time.Since(start)

	start = time.Now()
	c.pulse(HighConductionNS)
	short := time.Since(start)

	if long < LongPulse {
		t.Fatalf("long pulse lasted %v, want >= %v", long, LongPulse)
	}
	if short < ShortPulse {
		t.Fatalf("short pulse lasted %v, want >= %v", short, ShortPulse)
	}

	writes := pin.Writes()
	if len(writes) != 5 { // init low + 2 pulses
		t.Fatalf("writes = %d, want 5", len(writes))
	}
	for i, w := range writes[1:] {
		wantHigh := i%2 == 0
		if bool(w.Level) != wantHigh {
			t.Fatalf("write %d level = %v", i, w.Level)
		}
	}
}

func TestStatusString(t *testing.T) {
	if Off.String() != "off" || On.String() != "on" ||
		Symmetric.String() != "symmetric" || Asymmetric.String() != "asymmetric" {
		t.Fatal("status names changed")
	}
}

func TestFadePlan(t *testing.T) {
	plan := fadePlan(0, 0, 110, 110, 100)
	if len(plan) != 100 {
		t.Fatalf("plan length %d", len(plan))
	}
	last := [2]int{0, 0}
	for i, p := range plan {
		if p[0] < last[0] || p[1] < last[1] {
			t.Fatalf("ramp not monotonic at step %d: %v after %v", i, p, last)
		}
		last = p
	}
	if last != [2]int{110, 110} {
		t.Fatalf("plan ends at %v, want (110,110)", last)
	}
}

func TestFadePlanProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		fromPos := rapid.IntRange(0, 180).Draw(t, "fromPos")
		fromNeg := rapid.IntRange(0, 180).Draw(t, "fromNeg")
		toPos := rapid.IntRange(0, 180).Draw(t, "toPos")
		toNeg := rapid.IntRange(0, 180).Draw(t, "toNeg")
		steps := rapid.IntRange(1, 400).Draw(t, "steps")
		plan := fadePlan(fromPos, fromNeg, toPos, toNeg, steps)
		if len(plan) != steps {
			t.Fatalf("plan length %d, want %d", len(plan), steps)
		}
		if plan[steps-1] != [2]int{toPos, toNeg} {
			t.Fatalf("plan ends at %v", plan[steps-1])
		}
		last := [2]int{fromPos, fromNeg}
		for i, p := range plan {
			if p[0] < 0 || p[0] > 180 || p[1] < 0 || p[1] > 180 {
				t.Fatalf("step %d out of range: %v", i, p)
			}
			if sign(toPos-fromPos)*(p[0]-last[0]) < 0 ||
				sign(toNeg-fromNeg)*(p[1]-last[1]) < 0 {
				t.Fatalf("ramp reversed at step %d: %v after %v", i, p, last)
			}
			last = p
		}
	})
}

func sign(d int) int {
	switch {
	case d > 0:
		return 1
	case d < 0:
		return -1
	}
	return 0
}

func TestFadePlanRounding(t *testing.T) {
	// A one-degree fade over many steps must still land exactly.
	plan := fadePlan(10, 10, 11, 11, 300)
	end := plan[len(plan)-1]
	if end != [2]int{11, 11} {
		t.Fatalf("plan ends at %v", end)
	}
	for _, p := range plan {
		if math.Abs(float64(p[0]-10)) > 1 {
			t.Fatalf("overshoot: %v", p)
		}
	}
}

func newTestChannel(t *testing.T) *Channel {
	t.Helper()
	c, err := NewChannel(0, "TRIAC1", &gatetest.Pin{N: "GPIO26"})
	if err != nil {
		t.Fatal(err)
	}
	return c
}
