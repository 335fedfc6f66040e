package handlers

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sonroyaalmerol/tubequeue/internal/config"
	"github.com/sonroyaalmerol/tubequeue/internal/player"
	"github.com/sonroyaalmerol/tubequeue/internal/repository"
	"github.com/sonroyaalmerol/tubequeue/internal/stream"
)

type fakeTransport struct{ channelID string }

func (t *fakeTransport) ChannelID() string { return t.channelID }

func (t *fakeTransport) SendOpus(ctx context.Context, frame []byte) error { return nil }

func (t *fakeTransport) Speaking(on bool) error { return nil }

func (t *fakeTransport) Close() error { return nil }

type fakeConnector struct{ err error }

func (c *fakeConnector) Join(ctx context.Context, guildID, channelID string) (player.Transport, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &fakeTransport{channelID: channelID}, nil
}

// blockingSource produces nothing until closed, so a track stays current.
type blockingSource struct {
	once   sync.Once
	closed chan struct{}
	volume float64
}

func (s *blockingSource) ReadFrame() ([]byte, error) {
	<-s.closed
	return nil, io.EOF
}

func (s *blockingSource) SetVolume(v float64) { s.volume = v }
func (s *blockingSource) Volume() float64     { return s.volume }

func (s *blockingSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type sourceProcess struct{ src *blockingSource }

func (p sourceProcess) Kill() error           { return p.src.Close() }
func (p sourceProcess) Done() <-chan struct{} { return p.src.closed }
func (p sourceProcess) ExitError() error      { return nil }

type fakeProvisioner struct{}

func (fakeProvisioner) Open(ctx context.Context, url string, volume float64) (stream.Source, player.Process, error) {
	src := &blockingSource{closed: make(chan struct{}), volume: volume}
	return src, sourceProcess{src}, nil
}

type fakeResolver struct {
	tracks   []stream.Track
	playlist []stream.Track
	err      error
	delay    time.Duration
}

func (r *fakeResolver) Resolve(ctx context.Context, ref string) ([]stream.Track, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.tracks, r.err
}

func (r *fakeResolver) ResolvePlaylist(ctx context.Context, url string, rng stream.Range) ([]stream.Track, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.playlist, nil
}

type memStore struct {
	mu       sync.Mutex
	defaults repository.Settings
	rows     map[string]repository.Settings
	err      error
}

func newMemStore(defaults repository.Settings) *memStore {
	return &memStore{defaults: defaults, rows: map[string]repository.Settings{}}
}

func (m *memStore) UpsertSettings(ctx context.Context, guild string) (*repository.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	set, ok := m.rows[guild]
	if !ok {
		set = m.defaults
		set.GuildID = guild
		m.rows[guild] = set
	}
	return &set, nil
}

func (m *memStore) UpdateSettings(ctx context.Context, s *repository.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.GuildID]; !ok {
		return repository.ErrNotFound
	}
	m.rows[s.GuildID] = *s
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultVolumePercent: 100,
		PlaylistPrefetch:     5,
		CommandPrefix:        "!",
	}
}

type harness struct {
	cfg      *config.Config
	store    *memStore
	resolver *fakeResolver
	conn     *fakeConnector
	pm       *player.Manager
	h        *CommandHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig()
	hs := &harness{
		cfg:      cfg,
		store:    newMemStore(DefaultSettings(cfg)),
		resolver: &fakeResolver{},
		conn:     &fakeConnector{},
	}
	hs.pm = player.NewManager(player.Options{
		Connector:   hs.conn,
		Provisioner: fakeProvisioner{},
		Settings:    SessionSettings(cfg, hs.store),
	})
	t.Cleanup(hs.pm.CloseAll)
	hs.h = NewCommandHandler(cfg, hs.store, hs.pm, hs.resolver, nil, nil)
	return hs
}

func (hs *harness) run(cmd, args string) string {
	return hs.h.Dispatch(context.Background(), hs.req(cmd, args)).Content
}

func (hs *harness) req(cmd, args string) Request {
	return Request{
		GuildID:        "g1",
		TextChannelID:  "text",
		UserID:         "u1",
		UserName:       "alice",
		VoiceChannelID: "voice",
		Command:        cmd,
		Args:           args,
	}
}

var errBoom = errors.New("boom")

const wait = 2 * time.Second
const tick = 5 * time.Millisecond
