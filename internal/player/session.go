package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sonroyaalmerol/tubequeue/internal/errclass"
	"github.com/sonroyaalmerol/tubequeue/internal/stream"
)

var ErrSessionClosed = errors.New("session is closed")

// Settings are the per-guild knobs a session starts with.
type Settings struct {
	Volume         float64 // 0..2
	IdleDisconnect time.Duration
}

// Session is one guild's playback: a FIFO queue, at most one active
// track, and the voice binding it plays into. A single worker goroutine
// performs every provisioning attempt, so attempts never overlap.
type Session struct {
	guildID     string
	connector   Connector
	provisioner Provisioner
	events      chan<- Event
	errs        chan<- ErrorRecord
	onDestroy   func(*Session)

	player *AudioPlayer
	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	connectMu      sync.Mutex
	connectTimeout time.Duration

	mu            sync.Mutex
	queue         []stream.Track
	current       *stream.Track
	source        stream.Source
	process       Process
	transport     Transport
	textChannelID string
	volume        float64
	idleDelay     time.Duration
	idleTimer     *time.Timer
	idleSeq       uint64
	lastError     *ErrorRecord
	provisioning  bool
	attempt       context.CancelFunc
	gen           uint64
	destroyed     bool
}

type sessionDeps struct {
	connector   Connector
	provisioner Provisioner
	events      chan<- Event
	errs        chan<- ErrorRecord
	onDestroy   func(*Session)
}

func newSession(guildID string, set Settings, deps sessionDeps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		guildID:        guildID,
		connector:      deps.connector,
		provisioner:    deps.provisioner,
		events:         deps.events,
		errs:           deps.errs,
		onDestroy:      deps.onDestroy,
		kick:           make(chan struct{}, 1),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		connectTimeout: ConnectTimeout,
		volume:         stream.ClampVolume(set.Volume),
		idleDelay:      set.IdleDisconnect,
	}
	s.player = NewAudioPlayer(guildID, s.handleIdle)
	go s.run()
	return s
}

func (s *Session) GuildID() string { return s.guildID }

// Connect binds the session to a voice channel. Binding to the channel it
// is already on is a no-op.
func (s *Session) Connect(ctx context.Context, channelID string) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.transport != nil && s.transport.ChannelID() == channelID {
		s.mu.Unlock()
		return nil
	}
	old := s.transport
	s.transport = nil
	s.cancelIdleLocked()
	s.mu.Unlock()

	if old != nil {
		s.player.SetTransport(nil)
		if err := old.Close(); err != nil {
			slog.Warn("closing previous voice binding", "guildID", s.guildID, "err", err)
		}
	}

	jctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()
	t, err := s.connector.Join(jctx, s.guildID, channelID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrConnectTimeout
		}
		return fmt.Errorf("join voice channel: %w", err)
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		_ = t.Close()
		return ErrSessionClosed
	}
	s.transport = t
	s.cancelIdleLocked()
	s.mu.Unlock()

	s.player.SetTransport(t)
	slog.Info("voice connected", "guildID", s.guildID, "channelID", channelID)
	s.wake()
	return nil
}

// Connected reports whether a voice binding exists.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil
}

// VoiceChannelID is the bound voice channel, or "".
func (s *Session) VoiceChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return ""
	}
	return s.transport.ChannelID()
}

// SetTextChannel sets where notifications for this session go.
func (s *Session) SetTextChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textChannelID = channelID
}

// Enqueue stamps tracks with requester, appends them in order and returns
// how many were added. Playback starts asynchronously.
func (s *Session) Enqueue(tracks []stream.Track, requester string) int {
	if len(tracks) == 0 {
		return 0
	}
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return 0
	}
	for _, t := range tracks {
		t.RequestedBy = requester
		s.queue = append(s.queue, t)
	}
	s.cancelIdleLocked()
	s.mu.Unlock()

	s.wake()
	return len(tracks)
}

// Skip stops the active source; the idle transition advances the queue.
// The stream process is killed so a stalled read returns.
func (s *Session) Skip() bool {
	if !s.player.Stop() {
		return false
	}
	s.mu.Lock()
	proc := s.process
	s.mu.Unlock()
	if proc != nil {
		_ = proc.Kill()
	}
	return true
}

func (s *Session) Pause() bool  { return s.player.Pause() }
func (s *Session) Resume() bool { return s.player.Resume() }

// SetListeners forwards audience presence to the audio player.
func (s *Session) SetListeners(present bool) { s.player.SetListeners(present) }

// Stop clears the queue and ends the active track, keeping the voice
// binding.
func (s *Session) Stop() {
	s.mu.Lock()
	s.queue = nil
	s.gen++
	if s.attempt != nil {
		s.attempt()
	}
	s.mu.Unlock()

	s.player.Stop()

	s.mu.Lock()
	src, proc := s.detachLocked()
	s.mu.Unlock()
	release(src, proc)
}

// Destroy stops playback, drops the voice binding and retires the session.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.cancelIdleLocked()
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	s.Stop()
	s.cancel()
	s.player.SetTransport(nil)
	if t != nil {
		if err := t.Close(); err != nil {
			slog.Warn("voice disconnect failed", "guildID", s.guildID, "err", err)
		}
	}
	slog.Info("session destroyed", "guildID", s.guildID)
	if s.onDestroy != nil {
		s.onDestroy(s)
	}
}

// Destroyed reports whether Destroy has been called.
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// SetVolume takes a percentage, clamps it to 0-200 and applies it to the
// active source, if any.
func (s *Session) SetVolume(percent int) float64 {
	v := stream.ClampVolume(float64(percent) / 100)
	s.mu.Lock()
	s.volume = v
	src := s.source
	s.mu.Unlock()
	if src != nil {
		src.SetVolume(v)
	}
	return v
}

// Volume is the normalized gain in [0, 2].
func (s *Session) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *Session) Status() Status { return s.player.Status() }

func (s *Session) Position() time.Duration { return s.player.Position() }

// Current returns a copy of the playing track, or nil.
func (s *Session) Current() *stream.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	t := *s.current
	return &t
}

// Queue returns a copy of the tracks waiting to play.
func (s *Session) Queue() []stream.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Track(nil), s.queue...)
}

func (s *Session) LastError() *ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastError == nil {
		return nil
	}
	rec := *s.lastError
	return &rec
}

// IdleArmed reports whether the idle-disconnect timer is pending.
func (s *Session) IdleArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleTimer != nil
}

// RecordError classifies err and stores it as the session's last error.
func (s *Session) RecordError(where string, err error, track *stream.Track) ErrorRecord {
	rec := ErrorRecord{
		ID:        uuid.NewString(),
		GuildID:   s.guildID,
		Timestamp: time.Now(),
		Context:   where,
		Summary:   errclass.SummarizeError(err),
	}
	if track != nil {
		t := *track
		rec.Track = &t
	}

	s.mu.Lock()
	s.lastError = &rec
	s.mu.Unlock()

	select {
	case s.errs <- rec:
	default:
		slog.Debug("error record dropped", "guildID", s.guildID, "id", rec.ID)
	}
	return rec
}

func (s *Session) emit(e Event) {
	s.mu.Lock()
	e.GuildID = s.guildID
	e.ChannelID = s.textChannelID
	s.mu.Unlock()

	select {
	case s.events <- e:
	default:
		slog.Debug("event dropped", "guildID", s.guildID, "kind", e.Kind)
	}
}

func (s *Session) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.kick:
		}
		s.playNext()
	}
}

// playNext provisions queued tracks until one starts or the queue runs
// dry. A failed track is reported and the loop moves on to the next one.
func (s *Session) playNext() {
	for s.ctx.Err() == nil {
		track, attempt, gen, ok := s.dequeue()
		if !ok {
			return
		}

		s.mu.Lock()
		vol := s.volume
		s.mu.Unlock()

		slog.Debug("provisioning track", "guildID", s.guildID, "title", track.Title, "url", track.URL)
		src, proc, err := s.provisioner.Open(attempt, track.URL, vol)
		if s.bind(track, gen, src, proc, err) {
			return
		}
	}
}

func (s *Session) dequeue() (stream.Track, context.Context, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || s.transport == nil || s.current != nil || s.provisioning {
		return stream.Track{}, nil, 0, false
	}
	if s.player.Status() != StatusIdle {
		return stream.Track{}, nil, 0, false
	}
	if len(s.queue) == 0 {
		s.armIdleLocked()
		return stream.Track{}, nil, 0, false
	}

	track := s.queue[0]
	s.queue[0] = stream.Track{}
	s.queue = s.queue[1:]
	s.cancelIdleLocked()

	attempt, cancel := context.WithCancel(s.ctx)
	s.provisioning = true
	s.attempt = cancel
	return track, attempt, s.gen, true
}

// bind settles one provisioning attempt and reports whether the worker
// should stop looping.
func (s *Session) bind(track stream.Track, gen uint64, src stream.Source, proc Process, err error) bool {
	s.mu.Lock()
	s.provisioning = false
	if s.attempt != nil {
		s.attempt()
		s.attempt = nil
	}

	if s.gen != gen || s.destroyed {
		s.mu.Unlock()
		release(src, proc)
		return false
	}

	if err != nil {
		s.mu.Unlock()
		slog.Error("failed to play", "guildID", s.guildID, "title", track.Title, "err", err)
		s.RecordError(ContextPlayback, err, &track)
		s.emit(Event{Kind: EventPlaybackFailed, Track: &track, Reason: errclass.UserMessage(err, "")})
		return false
	}

	if perr := s.player.Play(src); perr != nil {
		s.mu.Unlock()
		release(src, proc)
		slog.Error("audio player refused source", "guildID", s.guildID, "err", perr)
		return true
	}
	s.current = &track
	s.source = src
	s.process = proc
	s.cancelIdleLocked()
	s.mu.Unlock()

	slog.Info("now playing", "guildID", s.guildID, "title", track.Title)
	s.emit(Event{Kind: EventNowPlaying, Track: &track})
	return true
}

// handleIdle runs whenever the audio player returns to Idle.
func (s *Session) handleIdle(src stream.Source, reason IdleReason, err error) {
	s.mu.Lock()
	var track *stream.Track
	var proc Process
	if s.source == src {
		track = s.current
		src, proc = s.detachLocked()
	} else {
		src = nil
	}
	s.mu.Unlock()

	// a source that hit EOF may still be backed by a process that died
	if reason == IdleFinished && track != nil && proc != nil {
		if perr := exitFailure(proc); perr != nil {
			reason, err = IdleFailed, perr
		}
	}
	release(src, proc)

	if reason == IdleFailed && track != nil {
		s.RecordError(ContextPlayback, err, track)
		s.emit(Event{Kind: EventPlaybackFailed, Track: track, Reason: errclass.UserMessage(err, "")})
	}
	s.wake()
}

func (s *Session) detachLocked() (stream.Source, Process) {
	src, proc := s.source, s.process
	s.current = nil
	s.source = nil
	s.process = nil
	return src, proc
}

// exitGrace bounds the wait for a stream process to be reaped after its
// output ends.
const exitGrace = time.Second

func exitFailure(proc Process) error {
	t := time.NewTimer(exitGrace)
	defer t.Stop()
	select {
	case <-proc.Done():
		return proc.ExitError()
	case <-t.C:
		return nil
	}
}

// release kills the process before closing the source so a blocked read
// returns.
func release(src stream.Source, proc Process) {
	if proc != nil {
		if err := proc.Kill(); err != nil {
			slog.Debug("kill stream process", "err", err)
		}
	}
	if src != nil {
		_ = src.Close()
	}
}

func (s *Session) armIdleLocked() {
	if s.idleDelay <= 0 || s.idleTimer != nil || s.destroyed {
		return
	}
	if s.transport == nil || s.current != nil || s.provisioning || len(s.queue) > 0 {
		return
	}
	s.idleSeq++
	seq := s.idleSeq
	s.idleTimer = time.AfterFunc(s.idleDelay, func() { s.idleFired(seq) })
	slog.Debug("idle disconnect armed", "guildID", s.guildID, "after", s.idleDelay)
}

func (s *Session) cancelIdleLocked() {
	s.idleSeq++
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

func (s *Session) idleFired(seq uint64) {
	s.mu.Lock()
	if s.idleSeq != seq || s.idleTimer == nil {
		s.mu.Unlock()
		return
	}
	s.idleTimer = nil
	if s.destroyed || s.current != nil || s.provisioning || len(s.queue) > 0 {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	slog.Info("queue idle, leaving voice channel", "guildID", s.guildID)
	s.emit(Event{Kind: EventIdleLeaving})
	s.Destroy()
}
