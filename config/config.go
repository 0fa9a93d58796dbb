// Package config resolves the daemon's pin map and transport settings.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openindoor/triacd/hat"
	"github.com/openindoor/triacd/triac"
)

// DefaultSocket is where the daemon listens for control clients.
const DefaultSocket = "/run/triacd.sock"

// Channel names one TRIAC output.
type Channel struct {
	Label string `yaml:"label"`
	Pin   int    `yaml:"pin"`
}

// Config is the daemon configuration.
type Config struct {
	GPIOChip string    `yaml:"gpiochip"`
	InputPin int       `yaml:"input_pin"`
	Channels []Channel `yaml:"channels"`
	Socket   string    `yaml:"socket"`
	Serial   string    `yaml:"serial"`
}

// Default is the pin map of the stock Opto-TRIAC board.
func Default() *Config {
	return &Config{
		GPIOChip: "gpiochip0",
		InputPin: 5,
		Channels: []Channel{
			{Label: "TRIAC1", Pin: 26},
			{Label: "TRIAC2", Pin: 19},
			{Label: "TRIAC3", Pin: 13},
			{Label: "TRIAC4", Pin: 6},
		},
		Socket: DefaultSocket,
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// FromHAT builds a configuration from the board's HAT descriptor.
func FromHAT(b *hat.Board) (*Config, error) {
	if len(b.Inputs) == 0 {
		return nil, errors.New("config: HAT descriptor has no mains input")
	}
	cfg := Default()
	cfg.InputPin = b.Inputs[0].Pin
	cfg.Channels = cfg.Channels[:0]
	for _, out := range b.Outputs {
		cfg.Channels = append(cfg.Channels, Channel{Label: out.Label, Pin: out.Pin})
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: HAT descriptor: %w", err)
	}
	return cfg, nil
}

// Validate checks the pin map for obvious wiring mistakes.
func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return errors.New("no output channels")
	}
	if len(c.Channels) > triac.MaxChannels {
		return fmt.Errorf("at most %d channels", triac.MaxChannels)
	}
	seen := map[int]bool{c.InputPin: true}
	for _, ch := range c.Channels {
		if ch.Label == "" {
			return fmt.Errorf("channel on GPIO %d has no label", ch.Pin)
		}
		if seen[ch.Pin] {
			return fmt.Errorf("GPIO %d assigned twice", ch.Pin)
		}
		seen[ch.Pin] = true
	}
	return nil
}
