package serial

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-avr-can/internal/can"
)

// fakePort serves scripted reads and records writes.
type fakePort struct {
	mu      sync.Mutex
	reads   [][]byte
	readErr error
	written bytes.Buffer
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("file already closed")
	}
	if len(p.reads) == 0 {
		if p.readErr != nil {
			return 0, p.readErr
		}
		return 0, io.EOF
	}
	n := copy(b, p.reads[0])
	p.reads = p.reads[1:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func withFakePort(t *testing.T, p *fakePort) {
	t.Helper()
	prev := openPort
	openPort = func(string, int, time.Duration) (Port, error) { return p, nil }
	t.Cleanup(func() { openPort = prev })
}

func TestOpenSetsUpChannel(t *testing.T) {
	p := &fakePort{}
	withFakePort(t, p)
	a, err := Open(Config{Device: "/dev/ttyACM0", Baud: 115200, ReadTimeout: 10 * time.Millisecond, Bitrate: 125000})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := p.written.String(); got != "C\rS4\rO\r" {
		t.Fatalf("setup sequence %q", got)
	}
	_ = a.Close()
	if got := p.written.String(); got != "C\rS4\rO\rC\r" || !p.closed {
		t.Fatalf("close sequence %q closed=%v", got, p.closed)
	}
}

func TestOpenRejectsBitrate(t *testing.T) {
	withFakePort(t, &fakePort{})
	if _, err := Open(Config{Bitrate: 1}); err == nil {
		t.Fatalf("expected bitrate error")
	}
}

func TestReadFrameAcrossTimeouts(t *testing.T) {
	p := &fakePort{reads: [][]byte{[]byte("t10"), []byte("02AABB\rt2000\r")}}
	withFakePort(t, p)
	a, err := Open(Config{Bitrate: 500000})
	if err != nil {
		t.Fatal(err)
	}
	var fr can.Frame
	if err := a.ReadFrame(&fr); err != nil {
		t.Fatalf("read: %v", err)
	}
	if fr.CANID != 0x100 || fr.Len != 2 || fr.Data[0] != 0xAA || fr.Data[1] != 0xBB {
		t.Fatalf("unexpected frame %+v", fr)
	}
	if err := a.ReadFrame(&fr); err != nil || fr.CANID != 0x200 || fr.Len != 0 {
		t.Fatalf("second frame %+v err=%v", fr, err)
	}
}

func TestReadFrameError(t *testing.T) {
	p := &fakePort{readErr: errors.New("device gone")}
	withFakePort(t, p)
	a, _ := Open(Config{Bitrate: 500000})
	var fr can.Frame
	if err := a.ReadFrame(&fr); err == nil || errors.Is(err, ErrClosed) {
		t.Fatalf("expected read error, got %v", err)
	}
	_ = a.Close()
	if err := a.ReadFrame(&fr); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestWriteFrame(t *testing.T) {
	p := &fakePort{}
	withFakePort(t, p)
	a, _ := Open(Config{Bitrate: 500000})
	p.written.Reset()
	if err := a.WriteFrame(f(0x123, 1, 2, 3, 4)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := p.written.String(); got != "t12341020304\r" {
		t.Fatalf("wrote %q", got)
	}
}
