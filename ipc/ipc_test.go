package ipc

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"plain set", Request{Channel: 1, Pos: 90, Neg: 90}, true},
		{"off", Request{Channel: 4}, true},
		{"full on", Request{Channel: 2, Pos: 180, Neg: 180}, true},
		{"fade", Request{Channel: 1, Fade: true, TimeMS: 5000, Pos: 110, Neg: 110}, true},
		{"fade stop", Request{Channel: 1, Fade: true}, true},
		{"fade to zero with duration", Request{Channel: 1, Fade: true, TimeMS: 1000}, true},
		{"channel zero", Request{Channel: 0, Pos: 90}, false},
		{"channel high", Request{Channel: 5, Pos: 90}, false},
		{"angle high", Request{Channel: 1, Pos: 181}, false},
		{"neg angle high", Request{Channel: 1, Neg: 200}, false},
		{"negative angle", Request{Channel: 1, Pos: -1}, false},
		{"negative time", Request{Channel: 1, Fade: true, TimeMS: -5, Pos: 90}, false},
		{"fade without duration", Request{Channel: 1, Fade: true, Pos: 90}, false},
	}
	for _, tc := range tests {
		err := tc.req.Validate(4)
		if tc.ok {
			assert.NoError(t, err, tc.name)
			continue
		}
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, tc.name)
	}
}

// fakeHandler records the last applied command.
type fakeHandler struct {
	mu   sync.Mutex
	last Request
	err  error
	freq string
}

func (h *fakeHandler) Set(req Request) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = req
	return h.err
}

func (h *fakeHandler) Frequency() string { return h.freq }

func (h *fakeHandler) ChannelStatus(n int) (string, error) {
	if n > 4 {
		return "", errors.New("no such channel")
	}
	return "off\n", nil
}

func (h *fakeHandler) lastReq() Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func TestClientServerRoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "triacd.sock")
	h := &fakeHandler{freq: "50.00Hz\n"}
	srv, err := Listen(sock, h)
	require.NoError(t, err)
	defer srv.Close()

	c, err := Dial(sock)
	require.NoError(t, err)
	defer c.Close()

	req := Request{Channel: 2, Fade: true, TimeMS: 5000, Pos: 110, Neg: 110}
	require.NoError(t, c.Set(req))
	assert.Equal(t, req, h.lastReq())

	freq, err := c.Frequency()
	require.NoError(t, err)
	assert.Equal(t, "50.00Hz\n", freq)

	status, err := c.ChannelStatus(1)
	require.NoError(t, err)
	assert.Equal(t, "off\n", status)

	_, err = c.ChannelStatus(9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such channel")
}

func TestServerReportsHandlerError(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "triacd.sock")
	h := &fakeHandler{err: &ValidationError{"angle", "conduction angle limit is 180deg"}}
	srv, err := Listen(sock, h)
	require.NoError(t, err)
	defer srv.Close()

	c, err := Dial(sock)
	require.NoError(t, err)
	defer c.Close()

	err = c.Set(Request{Channel: 1, Pos: 200})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "180deg")
}

func TestSecondDaemonRefused(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "triacd.sock")
	srv, err := Listen(sock, &fakeHandler{})
	require.NoError(t, err)
	defer srv.Close()

	_, err = Listen(sock, &fakeHandler{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another triacd")
}

func TestDialUnavailable(t *testing.T) {
	_, err := Dial(filepath.Join(t.TempDir(), "missing.sock"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMultipleClients(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "triacd.sock")
	h := &fakeHandler{freq: "49.98Hz\n"}
	srv, err := Listen(sock, h)
	require.NoError(t, err)
	defer srv.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c, err := Dial(sock)
			if err != nil {
				t.Error(err)
				return
			}
			defer c.Close()
			for j := 0; j < 10; j++ {
				if _, err := c.Frequency(); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
