// Package rt provides the real-time plumbing the phase drivers depend on:
// a monotonic nanosecond clock, absolute-deadline sleeps and SCHED_FIFO
// thread promotion.
package rt

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// WorkerPriority is the SCHED_FIFO priority phase workers run at, the
// top of the FIFO band.
const WorkerPriority = 99

// Now returns the CLOCK_MONOTONIC time in nanoseconds.
func Now() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always readable on Linux.
		panic(err)
	}
	return ts.Nano()
}

// SleepUntil blocks until the absolute CLOCK_MONOTONIC deadline has
// passed. It returns immediately for deadlines in the past.
func SleepUntil(deadline int64) {
	ts := unix.NsecToTimespec(deadline)
	for {
		err := unix.ClockNanosleep(unix.CLOCK_MONOTONIC, unix.TIMER_ABSTIME, &ts, nil)
		if err != unix.EINTR {
			return
		}
	}
}

// LockThread pins the calling goroutine to its OS thread and switches
// the thread to SCHED_FIFO at the given priority. The pin is permanent;
// callers run their loop on the promoted thread until they exit.
func LockThread(prio int) error {
	runtime.LockOSThread()
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(prio),
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		return fmt.Errorf("rt: SCHED_FIFO priority %d: %w", prio, err)
	}
	return nil
}

// LockMemory pins current and future pages so a worker never takes a
// major fault between the zero crossing and its gate pulse.
func LockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("rt: mlockall: %w", err)
	}
	return nil
}
