package ipc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"
	"github.com/tarm/serial"
)

// Handler is the daemon surface the transports call into.
type Handler interface {
	Set(Request) error
	Frequency() string
	ChannelStatus(int) (string, error)
}

// Server accepts control connections on a unix socket and, optionally,
// a serial line.
type Server struct {
	ln   net.Listener
	h    Handler
	port io.ReadWriteCloser
}

// Listen binds the control socket and starts serving. A live socket at
// the path means another daemon owns the board, which is refused; a
// stale one is cleaned up.
func Listen(path string, h Handler) (*Server, error) {
	if _, err := os.Stat(path); err == nil {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return nil, fmt.Errorf("ipc: %s: is another triacd running?", path)
		}
		os.Remove(path)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen: %w", err)
	}
	s := &Server{ln: ln, h: h}
	go s.accept()
	return s, nil
}

func (s *Server) accept() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			s.Serve(conn)
		}()
	}
}

// Serve speaks the control protocol on one stream until EOF. The same
// loop serves socket connections and the serial line.
func (s *Server) Serve(rw io.ReadWriter) {
	dec := cbor.NewDecoder(rw)
	enc := cbor.NewEncoder(rw)
	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if err != io.EOF {
				log.Debug("control stream closed", "err", err)
			}
			return
		}
		var rep Reply
		switch {
		case msg.Set != nil:
			if err := s.h.Set(*msg.Set); err != nil {
				rep.Err = err.Error()
			}
		case msg.Frequency:
			rep.Text = s.h.Frequency()
		case msg.Status != 0:
			text, err := s.h.ChannelStatus(msg.Status)
			if err != nil {
				rep.Err = err.Error()
			} else {
				rep.Text = text
			}
		default:
			rep.Err = "empty message"
		}
		if err := enc.Encode(rep); err != nil {
			return
		}
	}
}

// ListenSerial attaches the control protocol to a serial port. With an
// empty device name the usual USB adapter nodes are probed.
func (s *Server) ListenSerial(dev string) error {
	port, err := OpenSerial(dev)
	if err != nil {
		return err
	}
	s.port = port
	go func() {
		defer port.Close()
		s.Serve(port)
	}()
	return nil
}

// OpenSerial opens the control serial line.
func OpenSerial(dev string) (io.ReadWriteCloser, error) {
	const baudRate = 115200

	var devices []string
	if dev != "" {
		devices = append(devices, dev)
	} else {
		devices = append(devices, "/dev/ttyUSB0", "/dev/ttyUSB1")
	}
	var firstErr error
	for _, dev := range devices {
		c := &serial.Config{Name: dev, Baud: baudRate}
		port, err := serial.OpenPort(c)
		if err == nil {
			return port, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = errors.New("ipc: no serial device")
	}
	return nil, firstErr
}

// Close stops accepting and tears down the transports.
func (s *Server) Close() {
	s.ln.Close()
	if s.port != nil {
		s.port.Close()
	}
}
