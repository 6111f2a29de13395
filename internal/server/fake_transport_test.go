package server

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFakeWrite = errors.New("fake write failure")

// fakeTransport records written frames and serves reads from a channel.
type fakeTransport struct {
	name string

	mu      sync.Mutex
	written [][]byte
	failing bool
	gate    chan struct{} // when non-nil, writes block until it is closed
	closed  bool

	reads chan []byte
	done  chan struct{}
	once  sync.Once
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{
		name:  name,
		reads: make(chan []byte, 64),
		done:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadFrame() ([]byte, error) {
	select {
	case p := <-f.reads:
		return p, nil
	case <-f.done:
		return nil, io.EOF
	}
}

func (f *fakeTransport) WriteFrame(payload []byte) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-f.done:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing || f.closed {
		return errFakeWrite
	}
	f.written = append(f.written, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.done)
	})
	return nil
}

func (f *fakeTransport) RemoteAddr() string {
	return f.name
}

func (f *fakeTransport) setFailing(failing bool) {
	f.mu.Lock()
	f.failing = failing
	f.mu.Unlock()
}

func (f *fakeTransport) block() {
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()
}

func (f *fakeTransport) unblock() {
	f.mu.Lock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
	f.mu.Unlock()
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}

// waitFrames blocks until at least n frames were written.
func (f *fakeTransport) waitFrames(t *testing.T, n int) [][]byte {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(f.frames()) >= n
	}, 2*time.Second, 5*time.Millisecond, "%s: waiting for %d frames", f.name, n)
	return f.frames()
}

func payloads(frames [][]byte) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = string(f)
	}
	return out
}
