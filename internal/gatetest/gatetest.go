// Package gatetest provides an in-memory gate pin for driver tests.
package gatetest

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Write is one recorded level change.
type Write struct {
	Level gpio.Level
	At    time.Time
}

// Pin implements gpio.PinIO in memory, recording every level write.
type Pin struct {
	N   string
	Num int

	mu     sync.Mutex
	level  gpio.Level
	writes []Write
	fail   error
}

func (p *Pin) String() string                  { return p.N }
func (p *Pin) Halt() error                     { return p.Out(gpio.Low) }
func (p *Pin) Name() string                    { return p.N }
func (p *Pin) Number() int                     { return p.Num }
func (p *Pin) Function() string                { return "Out" }
func (p *Pin) In(gpio.Pull, gpio.Edge) error   { return nil }
func (p *Pin) WaitForEdge(time.Duration) bool  { return false }
func (p *Pin) Pull() gpio.Pull                 { return gpio.PullNoChange }
func (p *Pin) DefaultPull() gpio.Pull          { return gpio.PullNoChange }
func (p *Pin) PWM(gpio.Duty, physic.Frequency) error {
	return nil
}

func (p *Pin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *Pin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.level = l
	p.writes = append(p.writes, Write{Level: l, At: time.Now()})
	return nil
}

// Fail makes every subsequent Out return err.
func (p *Pin) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

// Writes returns a copy of the recorded level changes.
func (p *Pin) Writes() []Write {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Write(nil), p.writes...)
}
