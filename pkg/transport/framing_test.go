package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/contextkit/contextd/pkg/log"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"single byte", []byte{0x42}},
		{"text", []byte("Battery.ChargePercentage")},
		{"binary", []byte{0x00, 0xFF, 0x7F, 0x80}},
		{"max size", bytes.Repeat([]byte("y"), DefaultMaxMessageSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			if err := NewFrameWriter(buf).WriteFrame(tt.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
			if buf.Len() != FrameSize(len(tt.payload)) {
				t.Errorf("frame size = %d, want %d", buf.Len(), FrameSize(len(tt.payload)))
			}

			got, err := NewFrameReader(buf).ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(got), len(tt.payload))
			}
		})
	}
}

func TestFrameWriterRejects(t *testing.T) {
	w := NewFrameWriterWithMaxSize(new(bytes.Buffer), 8)

	if err := w.WriteFrame(nil); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("WriteFrame(nil) = %v, want ErrMessageEmpty", err)
	}
	if err := w.WriteFrame(make([]byte, 9)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("WriteFrame(9 bytes) = %v, want ErrMessageTooLarge", err)
	}
}

func lengthPrefix(n uint32) []byte {
	var b [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(b[:], n)
	return b[:]
}

func TestFrameReaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		maxSize uint32
		want    error
	}{
		{"eof", nil, DefaultMaxMessageSize, io.EOF},
		{"zero length", lengthPrefix(0), DefaultMaxMessageSize, ErrMessageEmpty},
		{"too large", append(lengthPrefix(1000), make([]byte, 1000)...), 100, ErrMessageTooLarge},
		{"truncated prefix", []byte{0x00, 0x01}, DefaultMaxMessageSize, ErrFrameTruncated},
		{"truncated payload", append(lengthPrefix(100), make([]byte, 50)...), DefaultMaxMessageSize, ErrFrameTruncated},
		{"missing payload", lengthPrefix(10), DefaultMaxMessageSize, ErrFrameTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewFrameReaderWithMaxSize(bytes.NewReader(tt.data), tt.maxSize)
			if _, err := r.ReadFrame(); !errors.Is(err, tt.want) {
				t.Errorf("ReadFrame() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFrameSequence(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewFrameWriter(buf)
	messages := []string{"first", "second", "third"}
	for _, m := range messages {
		if err := w.WriteFrame([]byte(m)); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	r := NewFrameReader(buf)
	for i, want := range messages {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if string(got) != want {
			t.Errorf("message %d = %q, want %q", i, got, want)
		}
	}
	if _, err := r.ReadFrame(); err != io.EOF {
		t.Errorf("ReadFrame after last = %v, want io.EOF", err)
	}
}

func TestFramerOverPipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- NewFramer(a).WriteFrame([]byte("ping"))
	}()

	got, err := NewFramer(b).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if string(got) != "ping" {
		t.Errorf("ReadFrame = %q, want %q", got, "ping")
	}
	if err := <-errCh; err != nil {
		t.Errorf("WriteFrame failed: %v", err)
	}
}

// capturingLogger captures log events for testing.
type capturingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *capturingLogger) Log(event log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *capturingLogger) Events() []log.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]log.Event(nil), l.events...)
}

func TestFramerLogsFrames(t *testing.T) {
	logger := &capturingLogger{}
	buf := new(bytes.Buffer)
	f := NewFramer(buf)
	f.SetLogger(logger, "conn-1")

	if err := f.WriteFrame([]byte("hello")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := f.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	events := logger.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for i, dir := range []log.Direction{log.DirectionOut, log.DirectionIn} {
		ev := events[i]
		if ev.Direction != dir {
			t.Errorf("event %d direction = %v, want %v", i, ev.Direction, dir)
		}
		if ev.ConnectionID != "conn-1" {
			t.Errorf("event %d ConnectionID = %q, want %q", i, ev.ConnectionID, "conn-1")
		}
		if ev.Layer != log.LayerTransport || ev.Category != log.CategoryMessage {
			t.Errorf("event %d = %v/%v, want TRANSPORT/MESSAGE", i, ev.Layer, ev.Category)
		}
		if ev.Frame == nil || ev.Frame.Size != 9 || string(ev.Frame.Data) != "hello" {
			t.Errorf("event %d frame = %+v, want size 9 with data", i, ev.Frame)
		}
	}
}

func TestFramerLogsTruncatedData(t *testing.T) {
	logger := &capturingLogger{}
	w := NewFrameWriter(new(bytes.Buffer))
	w.SetLogger(logger, "conn-1")

	if err := w.WriteFrame(bytes.Repeat([]byte("z"), MaxLogFrameDataSize+10)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	frame := events[0].Frame
	if !frame.Truncated || len(frame.Data) != MaxLogFrameDataSize {
		t.Errorf("frame truncated=%v len=%d, want true %d", frame.Truncated, len(frame.Data), MaxLogFrameDataSize)
	}
	if frame.Size != FrameSize(MaxLogFrameDataSize+10) {
		t.Errorf("frame size = %d, want %d", frame.Size, FrameSize(MaxLogFrameDataSize+10))
	}
}

func BenchmarkFrameWrite(b *testing.B) {
	w := NewFrameWriter(io.Discard)
	payload := bytes.Repeat([]byte("x"), 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WriteFrame(payload)
	}
}
