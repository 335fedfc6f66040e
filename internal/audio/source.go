package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/sonroyaalmerol/tubequeue/internal/stream"
)

var ErrClosed = errors.New("audio source closed")

// opusSource encodes a PCM stream into Opus frames on demand.
type opusSource struct {
	pcm io.ReadCloser
	enc *Encoder

	volume atomic.Uint64 // float64 bits

	closing atomic.Bool

	mu      sync.Mutex
	closed  bool
	eof     bool
	buf     []byte
	pending [][]byte

	closeOnce sync.Once
}

func newOpusSource(pcm io.ReadCloser, enc *Encoder) *opusSource {
	s := &opusSource{pcm: pcm, enc: enc, buf: make([]byte, FrameBytes)}
	s.SetVolume(1)
	return s
}

func (s *opusSource) SetVolume(v float64) {
	s.volume.Store(math.Float64bits(stream.ClampVolume(v)))
}

func (s *opusSource) Volume() float64 {
	return math.Float64frombits(s.volume.Load())
}

// ReadFrame returns the next Opus packet or io.EOF after the encoder has
// been flushed.
func (s *opusSource) ReadFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) == 0 {
		if s.closed {
			return nil, ErrClosed
		}
		if s.eof {
			return nil, io.EOF
		}
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
	pkt := s.pending[0]
	s.pending = s.pending[1:]
	return pkt, nil
}

func (s *opusSource) fill() error {
	n, err := io.ReadFull(s.pcm, s.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		clear(s.buf[n:])
	case errors.Is(err, io.EOF):
		s.eof = true
		return s.enc.Flush(s.queue)
	default:
		if s.closing.Load() {
			return ErrClosed
		}
		return fmt.Errorf("read pcm: %w", err)
	}

	ApplyGain(s.buf, s.Volume())
	if err := s.enc.EncodeFrame(s.buf, s.queue); err != nil {
		return err
	}
	if n < FrameBytes && n > 0 {
		s.eof = true
		return s.enc.Flush(s.queue)
	}
	return nil
}

func (s *opusSource) queue(pkt []byte) error {
	s.pending = append(s.pending, append([]byte(nil), pkt...))
	return nil
}

// Close unblocks any pending ReadFrame before releasing the encoder.
func (s *opusSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		err = s.pcm.Close()
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.enc.Close()
		s.mu.Unlock()
	})
	return err
}
