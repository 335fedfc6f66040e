package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/tubequeue/internal/player"
)

var ErrClosed = errors.New("voice connection closed")

const disconnectTimeout = 3 * time.Second

// Connector joins voice channels through a discordgo session.
type Connector struct {
	s *discordgo.Session
}

var _ player.Connector = (*Connector)(nil)

func NewConnector(s *discordgo.Session) *Connector {
	return &Connector{s: s}
}

// Join connects and waits until the connection can carry audio or ctx is
// done.
func (c *Connector) Join(ctx context.Context, guildID, channelID string) (player.Transport, error) {
	vc, err := c.s.ChannelVoiceJoin(ctx, guildID, channelID, false, true)
	if err != nil {
		return nil, err
	}
	ensureChannels(vc)

	for !isReady(vc) {
		select {
		case <-ctx.Done():
			_ = newConn(vc, guildID, channelID).Close()
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return newConn(vc, guildID, channelID), nil
}

// ensureChannels keeps Kill() from closing nil channels on disconnect.
func ensureChannels(vc *discordgo.VoiceConnection) {
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}
	if vc.OpusRecv == nil {
		vc.OpusRecv = make(chan *discordgo.Packet, 2)
	}
}

func isReady(vc *discordgo.VoiceConnection) bool {
	if vc == nil {
		return false
	}
	vc.RLock()
	defer vc.RUnlock()
	return vc.Ready
}

// Conn is a live voice binding.
type Conn struct {
	vc        *discordgo.VoiceConnection
	guildID   string
	channelID string

	closeOnce sync.Once
	closed    chan struct{}
	err       error
}

var _ player.Transport = (*Conn)(nil)

func newConn(vc *discordgo.VoiceConnection, guildID, channelID string) *Conn {
	return &Conn{vc: vc, guildID: guildID, channelID: channelID, closed: make(chan struct{})}
}

func (c *Conn) ChannelID() string { return c.channelID }

// SendOpus hands one frame to the voice connection, blocking until it is
// accepted, ctx is done or the connection closes.
func (c *Conn) SendOpus(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.vc.OpusSend <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	}
}

func (c *Conn) Speaking(on bool) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	return c.vc.Speaking(on)
}

// Close disconnects. Panics from the voice library are recovered.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.err = c.disconnect()
	})
	return c.err
}

func (c *Conn) disconnect() (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("voice disconnect panic recovered", "panic", r, "guildID", c.guildID)
			err = errors.New("voice disconnect panicked")
		}
	}()

	ensureChannels(c.vc)
	_ = c.vc.Speaking(false)

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return c.vc.Disconnect(ctx)
}
