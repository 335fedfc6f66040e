package stream

import (
	"bytes"
	"context"
	"io"
	"math"
	"sync"
)

// MaxVolume is the largest accepted gain (200%).
const MaxVolume = 2.0

// ClampVolume bounds v to [0, MaxVolume]; NaN becomes 0.
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}

// Source is a playable audio source producing encoded 20 ms Opus frames.
type Source interface {
	// ReadFrame returns the next frame, or io.EOF once the stream is done.
	ReadFrame() ([]byte, error)
	SetVolume(v float64)
	Volume() float64
	Close() error
}

// Decoder turns the stream process's stdout into a Source.
type Decoder interface {
	// Probe identifies the container/codec from the head of r.
	Probe(ctx context.Context, r io.Reader) (Source, error)
	// Arbitrary decodes r without knowing its format.
	Arbitrary(ctx context.Context, r io.Reader) (Source, error)
}

// headReader watches the first bytes of the stream and, until recording
// stops, keeps a copy of everything read so a failed probe can be replayed.
type headReader struct {
	r io.Reader

	data      chan struct{} // closed on the first non-empty read
	empty     chan struct{} // closed when the stream ends before any data
	dataOnce  sync.Once
	emptyOnce sync.Once

	mu        sync.Mutex
	recording bool
	received  bool
	head      bytes.Buffer
}

func newHeadReader(r io.Reader) *headReader {
	return &headReader{
		r:         r,
		data:      make(chan struct{}),
		empty:     make(chan struct{}),
		recording: true,
	}
}

func (h *headReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	h.mu.Lock()
	if n > 0 {
		h.received = true
		if h.recording {
			h.head.Write(p[:n])
		}
	}
	received := h.received
	h.mu.Unlock()

	if n > 0 {
		h.dataOnce.Do(func() { close(h.data) })
	}
	if err != nil && !received {
		h.emptyOnce.Do(func() { close(h.empty) })
	}
	return n, err
}

func (h *headReader) Received() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.received
}

func (h *headReader) stopRecording() {
	h.mu.Lock()
	h.recording = false
	h.head = bytes.Buffer{}
	h.mu.Unlock()
}

// replay returns a reader yielding every byte seen so far followed by the
// rest of the stream.
func (h *headReader) replay() io.Reader {
	h.mu.Lock()
	head := bytes.NewReader(bytes.Clone(h.head.Bytes()))
	h.recording = false
	h.head = bytes.Buffer{}
	h.mu.Unlock()
	return io.MultiReader(head, h)
}
