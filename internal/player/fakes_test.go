package player

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sonroyaalmerol/tubequeue/internal/stream"
)

type fakeTransport struct {
	channelID string

	mu       sync.Mutex
	frames   int
	speaking bool
	closed   bool
}

func (t *fakeTransport) ChannelID() string { return t.channelID }

func (t *fakeTransport) SendOpus(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	t.frames++
	return nil
}

func (t *fakeTransport) Speaking(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speaking = on
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) Frames() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

func (t *fakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeConnector struct {
	block bool

	mu         sync.Mutex
	joins      int
	transports []*fakeTransport
}

func (c *fakeConnector) Join(ctx context.Context, guildID, channelID string) (Transport, error) {
	c.mu.Lock()
	c.joins++
	c.mu.Unlock()
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	t := &fakeTransport{channelID: channelID}
	c.mu.Lock()
	c.transports = append(c.transports, t)
	c.mu.Unlock()
	return t, nil
}

func (c *fakeConnector) Joins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joins
}

func (c *fakeConnector) Last() *fakeTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.transports) == 0 {
		return nil
	}
	return c.transports[len(c.transports)-1]
}

// fakeSource yields a frame per millisecond until it is told to end or
// fail, or is closed.
type fakeSource struct {
	fail      chan error
	eof       chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	eofOnce   sync.Once

	mu     sync.Mutex
	volume float64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		fail:   make(chan error, 1),
		eof:    make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (s *fakeSource) ReadFrame() ([]byte, error) {
	select {
	case err := <-s.fail:
		return nil, err
	case <-s.eof:
		return nil, io.EOF
	case <-s.closed:
		return nil, io.ErrClosedPipe
	case <-time.After(time.Millisecond):
		return []byte{0xf8, 0xff, 0xfe}, nil
	}
}

func (s *fakeSource) End() { s.eofOnce.Do(func() { close(s.eof) }) }

func (s *fakeSource) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
}

func (s *fakeSource) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *fakeSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSource) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeProcess has already exited, with exitErr when it is set.
type fakeProcess struct {
	killed  atomic.Bool
	exitErr error
	done    chan struct{}
}

func newFakeProcess(exitErr error) *fakeProcess {
	p := &fakeProcess{exitErr: exitErr, done: make(chan struct{})}
	close(p.done)
	return p
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitError() error {
	if p.killed.Load() {
		return nil
	}
	return p.exitErr
}

type opened struct {
	url  string
	src  *fakeSource
	proc *fakeProcess
}

// fakeProvisioner fails the URLs listed in errs and opens a fakeSource
// for everything else. Processes for URLs in exits report that error once
// their source ends.
type fakeProvisioner struct {
	errs  map[string]error
	exits map[string]error

	mu     sync.Mutex
	opens  []opened
	failed int
}

func (p *fakeProvisioner) Open(ctx context.Context, url string, volume float64) (stream.Source, Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.errs[url]; ok {
		p.failed++
		p.opens = append(p.opens, opened{url: url})
		return nil, nil, err
	}
	src := newFakeSource()
	src.SetVolume(volume)
	proc := newFakeProcess(p.exits[url])
	p.opens = append(p.opens, opened{url: url, src: src, proc: proc})
	return src, proc, nil
}

func (p *fakeProvisioner) Opened(url string) (opened, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.opens) - 1; i >= 0; i-- {
		if p.opens[i].url == url {
			return p.opens[i], true
		}
	}
	return opened{}, false
}

func (p *fakeProvisioner) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.opens)
}

type fakeResolver struct {
	mu        sync.Mutex
	resolve   func(ref string) ([]stream.Track, error)
	playlist  func(url string, rng stream.Range) ([]stream.Track, error)
	resolves  []string
	playlists []stream.Range
}

func (r *fakeResolver) Resolve(ctx context.Context, ref string) ([]stream.Track, error) {
	r.mu.Lock()
	r.resolves = append(r.resolves, ref)
	r.mu.Unlock()
	return r.resolve(ref)
}

func (r *fakeResolver) ResolvePlaylist(ctx context.Context, url string, rng stream.Range) ([]stream.Track, error) {
	r.mu.Lock()
	r.playlists = append(r.playlists, rng)
	r.mu.Unlock()
	return r.playlist(url, rng)
}

func (r *fakeResolver) Ranges() []stream.Range {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stream.Range(nil), r.playlists...)
}

func tracks(titles ...string) []stream.Track {
	out := make([]stream.Track, len(titles))
	for i, t := range titles {
		out[i] = stream.Track{Title: t, URL: "https://example.com/" + t}
	}
	return out
}

func titles(ts []stream.Track) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Title
	}
	return out
}

func newTestManager(prov *fakeProvisioner, conn *fakeConnector, set Settings) *Manager {
	return NewManager(Options{
		Connector:   conn,
		Provisioner: prov,
		Settings:    func(string) Settings { return set },
		EventBuffer: 256,
	})
}

// testSession returns the guild's session with a fast frame pace.
func testSession(m *Manager, guildID string) *Session {
	s := m.GetOrCreate(guildID)
	s.player.mu.Lock()
	s.player.pace = time.Millisecond
	s.player.mu.Unlock()
	return s
}

func nextEvent(t *testing.T, m *Manager) Event {
	t.Helper()
	select {
	case e := <-m.Events():
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

// drainEvents collects whatever is buffered without blocking.
func drainEvents(m *Manager) []Event {
	var out []Event
	for {
		select {
		case e := <-m.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}
