package audio

import (
	"context"
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
	"github.com/sonroyaalmerol/tubequeue/internal/stream"
)

// Decoder turns yt-dlp output into Opus sources. Known containers are
// demuxed in-process; anything else is piped through ffmpeg.
type Decoder struct {
	FFmpegPath string
	ProbeSize  string
}

var _ stream.Decoder = (*Decoder)(nil)

func NewDecoder() *Decoder {
	astiav.SetLogLevel(astiav.LogLevelError)
	return &Decoder{FFmpegPath: "ffmpeg", ProbeSize: "131072"}
}

func (d *Decoder) Probe(_ context.Context, r io.Reader) (stream.Source, error) {
	dm, err := openDemuxer(r, d.ProbeSize)
	if err != nil {
		return nil, err
	}
	return d.wrap(dm)
}

func (d *Decoder) Arbitrary(ctx context.Context, r io.Reader) (stream.Source, error) {
	path := d.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	ff, err := startFFmpeg(ctx, path, r)
	if err != nil {
		return nil, err
	}
	return d.wrap(ff)
}

func (d *Decoder) wrap(pcm io.ReadCloser) (stream.Source, error) {
	enc, err := NewEncoder()
	if err != nil {
		_ = pcm.Close()
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return newOpusSource(pcm, enc), nil
}
