package ipc

import (
	"errors"
	"fmt"
	"net"

	"github.com/fxamacker/cbor/v2"
)

// ErrUnavailable reports that the daemon's control socket is not
// answering.
var ErrUnavailable = errors.New("daemon not reachable, is triacd running?")

// Client is a control connection to a running daemon.
type Client struct {
	conn net.Conn
	dec  *cbor.Decoder
	enc  *cbor.Encoder
}

// Dial connects to the daemon's control socket.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("%w (%v)", ErrUnavailable, err)
	}
	return &Client{
		conn: conn,
		dec:  cbor.NewDecoder(conn),
		enc:  cbor.NewEncoder(conn),
	}, nil
}

func (c *Client) roundTrip(msg Message) (Reply, error) {
	if err := c.enc.Encode(msg); err != nil {
		return Reply{}, fmt.Errorf("ipc: send: %w", err)
	}
	var rep Reply
	if err := c.dec.Decode(&rep); err != nil {
		return Reply{}, fmt.Errorf("ipc: receive: %w", err)
	}
	return rep, nil
}

// Set sends one command and waits for the daemon's verdict.
func (c *Client) Set(req Request) error {
	rep, err := c.roundTrip(Message{Set: &req})
	if err != nil {
		return err
	}
	if rep.Err != "" {
		return errors.New(rep.Err)
	}
	return nil
}

// Frequency reads the measured mains frequency.
func (c *Client) Frequency() (string, error) {
	rep, err := c.roundTrip(Message{Frequency: true})
	if err != nil {
		return "", err
	}
	if rep.Err != "" {
		return "", errors.New(rep.Err)
	}
	return rep.Text, nil
}

// ChannelStatus reads one channel's state.
func (c *Client) ChannelStatus(n int) (string, error) {
	rep, err := c.roundTrip(Message{Status: n})
	if err != nil {
		return "", err
	}
	if rep.Err != "" {
		return "", errors.New(rep.Err)
	}
	return rep.Text, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }
