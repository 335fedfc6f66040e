package player

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sonroyaalmerol/tubequeue/internal/stream"
)

const frameDuration = 20 * time.Millisecond

type IdleReason int

const (
	IdleFinished IdleReason = iota
	IdleStopped
	IdleFailed
)

// IdleFunc is called once per Play when the player returns to Idle.
// err is set only for IdleFailed.
type IdleFunc func(src stream.Source, reason IdleReason, err error)

// AudioPlayer pushes one source at a time into a transport, paced at one
// frame per 20 ms.
type AudioPlayer struct {
	guildID string
	onIdle  IdleFunc
	pace    time.Duration

	mu        sync.Mutex
	status    Status
	listeners bool
	transport Transport
	src       stream.Source
	cancel    context.CancelFunc
	wake      chan struct{}
	frames    int64
}

func NewAudioPlayer(guildID string, onIdle IdleFunc) *AudioPlayer {
	return &AudioPlayer{
		guildID:   guildID,
		onIdle:    onIdle,
		pace:      frameDuration,
		status:    StatusIdle,
		listeners: true,
		wake:      make(chan struct{}, 1),
	}
}

func (p *AudioPlayer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Position is how much of the current source has been played.
func (p *AudioPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.frames) * frameDuration
}

// SetTransport swaps the output. With no transport frames are dropped.
func (p *AudioPlayer) SetTransport(t Transport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transport = t
}

// Play starts src. It fails if something is already playing.
func (p *AudioPlayer) Play(src stream.Source) error {
	p.mu.Lock()
	if p.status != StatusIdle {
		p.mu.Unlock()
		return errors.New("player is busy")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.src = src
	p.cancel = cancel
	p.frames = 0
	p.status = StatusPlaying
	if !p.listeners {
		p.status = StatusAutoPaused
	}
	p.mu.Unlock()

	go p.sendLoop(ctx, src)
	return nil
}

// Stop ends the current source. The Idle transition is reported through
// the IdleFunc once the send loop has exited.
func (p *AudioPlayer) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return false
	}
	p.cancel()
	return true
}

func (p *AudioPlayer) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPlaying && p.status != StatusAutoPaused {
		return false
	}
	p.status = StatusPaused
	p.signal()
	return true
}

func (p *AudioPlayer) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPaused {
		return false
	}
	p.status = StatusPlaying
	if !p.listeners {
		p.status = StatusAutoPaused
	}
	p.signal()
	return true
}

// SetListeners records whether anyone can hear the transport. Losing the
// audience moves Playing to AutoPaused and back when it returns.
func (p *AudioPlayer) SetListeners(present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listeners == present {
		return
	}
	p.listeners = present
	switch {
	case !present && p.status == StatusPlaying:
		p.status = StatusAutoPaused
		slog.Warn("audio player auto-paused", "guildID", p.guildID)
	case present && p.status == StatusAutoPaused:
		p.status = StatusPlaying
		slog.Debug("audio player resumed from auto-pause", "guildID", p.guildID)
	}
	p.signal()
}

func (p *AudioPlayer) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *AudioPlayer) sendLoop(ctx context.Context, src stream.Source) {
	var speaking Transport
	reason, err := p.pump(ctx, src, &speaking)

	p.mu.Lock()
	if p.src == src {
		p.src = nil
		p.cancel = nil
		p.status = StatusIdle
	}
	p.mu.Unlock()

	if speaking != nil {
		_ = speaking.Speaking(false)
	}
	if err != nil {
		slog.Warn("audio player error", "guildID", p.guildID, "err", err)
	}
	if p.onIdle != nil {
		p.onIdle(src, reason, err)
	}
}

// pump runs until src ends or ctx is cancelled. speaking tracks the
// transport currently flagged as speaking.
func (p *AudioPlayer) pump(ctx context.Context, src stream.Source, speaking *Transport) (IdleReason, error) {
	ticker := time.NewTicker(p.pace)
	defer ticker.Stop()

	quiet := func() {
		if *speaking != nil {
			_ = (*speaking).Speaking(false)
			*speaking = nil
		}
	}

	for {
		if ctx.Err() != nil {
			return IdleStopped, nil
		}

		p.mu.Lock()
		st, t := p.status, p.transport
		p.mu.Unlock()

		if st == StatusPaused {
			quiet()
			select {
			case <-ctx.Done():
				return IdleStopped, nil
			case <-p.wake:
			}
			continue
		}

		frame, err := src.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return IdleStopped, nil
			}
			if errors.Is(err, io.EOF) {
				return IdleFinished, nil
			}
			return IdleFailed, err
		}

		select {
		case <-ctx.Done():
			return IdleStopped, nil
		case <-ticker.C:
		}

		if st == StatusPlaying && t != nil {
			if *speaking != t {
				quiet()
				_ = t.Speaking(true)
				*speaking = t
			}
			if err := t.SendOpus(ctx, frame); err != nil {
				if ctx.Err() != nil {
					return IdleStopped, nil
				}
				p.mu.Lock()
				swapped := p.transport != t
				p.mu.Unlock()
				if !swapped {
					return IdleFailed, err
				}
				// the binding moved mid-frame
				*speaking = nil
			}
		}

		p.mu.Lock()
		p.frames++
		p.mu.Unlock()
	}
}
