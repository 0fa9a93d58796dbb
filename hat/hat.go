// Package hat reads the Opto-TRIAC board descriptor that the Pi
// firmware exposes under /proc/device-tree once the HAT EEPROM overlay
// is applied.
package hat

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// Node is the device-tree node the board's EEPROM overlay creates.
const Node = "/proc/device-tree/triacboard"

// IO is one descriptor entry: a labelled GPIO.
type IO struct {
	Label string
	Pin   int
}

// Board is the decoded HAT descriptor.
type Board struct {
	Vendor  string
	Product string
	Version int
	Inputs  []IO
	Outputs []IO
}

// Read loads the descriptor from the live device tree.
func Read() (*Board, error) {
	if _, err := os.Stat(Node); err != nil {
		return nil, fmt.Errorf("hat: %w", err)
	}
	return ReadFS(os.DirFS(Node))
}

// ReadFS decodes a descriptor rooted at fsys. Device-tree cells are
// big-endian 32-bit; strings are NUL-terminated.
func ReadFS(fsys fs.FS) (*Board, error) {
	b := &Board{}
	var err error
	if b.Vendor, err = readString(fsys, "vendor"); err != nil {
		return nil, err
	}
	if b.Product, err = readString(fsys, "product"); err != nil {
		return nil, err
	}
	if v, err := readCell(fsys, "version"); err == nil {
		b.Version = int(v)
	}
	if b.Inputs, err = readGroup(fsys, "in"); err != nil {
		return nil, err
	}
	if b.Outputs, err = readGroup(fsys, "out"); err != nil {
		return nil, err
	}
	return b, nil
}

func readString(fsys fs.FS, name string) (string, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", fmt.Errorf("hat: %s: %w", name, err)
	}
	return strings.TrimRight(string(data), "\x00"), nil
}

func readCell(fsys fs.FS, name string) (uint32, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return 0, fmt.Errorf("hat: %s: %w", name, err)
	}
	if len(data) < 4 {
		return 0, fmt.Errorf("hat: %s: short cell", name)
	}
	return binary.BigEndian.Uint32(data), nil
}

func readGroup(fsys fs.FS, dir string) ([]IO, error) {
	n, err := readCell(fsys, path.Join(dir, "channels"))
	if err != nil {
		return nil, err
	}
	ios := make([]IO, 0, n)
	for i := 0; i < int(n); i++ {
		sub := path.Join(dir, fmt.Sprintf("%d", i))
		label, err := readString(fsys, path.Join(sub, "label"))
		if err != nil {
			return nil, err
		}
		pin, err := readCell(fsys, path.Join(sub, "arm_gpio"))
		if err != nil {
			return nil, err
		}
		ios = append(ios, IO{Label: label, Pin: int(pin)})
	}
	return ios, nil
}
