package triac

import (
	"testing"
	"time"
)

func TestFadeTooFast(t *testing.T) {
	c := newTestChannel(t)
	if err := c.StartFade(90, 90, 20*time.Millisecond); err != ErrFadeTooFast {
		t.Fatalf("err = %v, want ErrFadeTooFast", err)
	}
	if c.Fading() {
		t.Fatal("fader launched for a rejected fade")
	}
}

func TestFadeRamp(t *testing.T) {
	c := newTestChannel(t)
	if err := c.StartFade(110, 110, 500*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	lastPos, lastNeg := 0, 0
	deadline := time.Now().Add(3 * time.Second)
	for {
		pos, neg := c.Requested()
		if pos < lastPos || neg < lastNeg {
			t.Fatalf("ramp went backwards: (%d,%d) after (%d,%d)", pos, neg, lastPos, lastNeg)
		}
		lastPos, lastNeg = pos, neg
		if pos == 110 && neg == 110 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("fade stuck at (%d,%d)", pos, neg)
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.StopFade() // join the finished task
	if c.Fading() {
		t.Fatal("fader still attached")
	}
}

func TestFadeDown(t *testing.T) {
	c := newTestChannel(t)
	c.Request(150, 150)
	if err := c.StartFade(0, 0, 300*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	lastPos := 150
	deadline := time.Now().Add(3 * time.Second)
	for {
		pos, _ := c.Requested()
		if pos > lastPos {
			t.Fatalf("fade-out went up: %d after %d", pos, lastPos)
		}
		lastPos = pos
		if pos == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("fade stuck at %d", pos)
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.StopFade()
}

func TestFadeCancel(t *testing.T) {
	c := newTestChannel(t)
	if err := c.StartFade(180, 180, 10*time.Second); err != nil {
		t.Fatal(err)
	}
	time.Sleep(120 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		c.StopFade()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StopFade did not join")
	}
	pos, _ := c.Requested()
	if pos >= 180 {
		t.Fatal("cancelled fade reached the target")
	}
	if c.Fading() {
		t.Fatal("fader still attached")
	}
	// Stopping again is a no-op.
	c.StopFade()
}

func TestFadeRestart(t *testing.T) {
	c := newTestChannel(t)
	if err := c.StartFade(180, 180, 10*time.Second); err != nil {
		t.Fatal(err)
	}
	time.Sleep(120 * time.Millisecond)
	// Restarting cancels and joins the old fade first.
	if err := c.StartFade(50, 50, 200*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		pos, neg := c.Requested()
		if pos == 50 && neg == 50 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("restarted fade stuck at (%d,%d)", pos, neg)
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.StopFade()
}
