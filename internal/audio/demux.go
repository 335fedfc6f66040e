package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/asticode/go-astiav"
)

const ioBufferSize = 16 * 1024

// demuxer decodes a container read from an io.Reader into interleaved
// s16le stereo 48 kHz PCM, available on its Read side.
type demuxer struct {
	ioCtx  *astiav.IOContext
	fc     *astiav.FormatContext
	stream *astiav.Stream
	decCtx *astiav.CodecContext
	swr    *astiav.SoftwareResampleContext

	pr *io.PipeReader
	pw *io.PipeWriter

	stopped atomic.Bool
}

// openDemuxer probes r until the best audio stream and its decoder are
// known. Once it returns successfully, decoding continues in the
// background.
func openDemuxer(r io.Reader, probeSize string) (*demuxer, error) {
	d := &demuxer{}

	ioCtx, err := astiav.AllocIOContext(ioBufferSize, false, func(b []byte) (int, error) {
		if d.stopped.Load() {
			return 0, io.EOF
		}
		return r.Read(b)
	}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("alloc io context: %w", err)
	}
	d.ioCtx = ioCtx

	fc := astiav.AllocFormatContext()
	if fc == nil {
		d.free()
		return nil, errors.New("alloc format context")
	}
	fc.SetPb(ioCtx)
	fc.SetFlags(fc.Flags().Add(astiav.FormatContextFlagCustomIo))

	dict := astiav.NewDictionary()
	defer dict.Free()
	if probeSize != "" {
		_ = dict.Set("probesize", probeSize, 0)
	}

	if err := fc.OpenInput("", nil, dict); err != nil {
		fc.Free()
		d.free()
		return nil, fmt.Errorf("open input: %w", err)
	}
	d.fc = fc

	if err := fc.FindStreamInfo(nil); err != nil {
		d.free()
		return nil, fmt.Errorf("find stream info: %w", err)
	}

	st, codec, err := fc.FindBestStream(astiav.MediaTypeAudio, -1, -1)
	if err != nil || st == nil || codec == nil {
		d.free()
		if err != nil {
			return nil, fmt.Errorf("find best audio stream: %w", err)
		}
		return nil, errors.New("no audio stream found")
	}
	d.stream = st

	decCtx := astiav.AllocCodecContext(codec)
	if decCtx == nil {
		d.free()
		return nil, errors.New("alloc codec context")
	}
	d.decCtx = decCtx
	if err := decCtx.FromCodecParameters(st.CodecParameters()); err != nil {
		d.free()
		return nil, fmt.Errorf("codec from params: %w", err)
	}
	decCtx.SetTimeBase(st.TimeBase())
	if err := decCtx.Open(codec, nil); err != nil {
		d.free()
		return nil, fmt.Errorf("open decoder: %w", err)
	}

	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		d.free()
		return nil, errors.New("alloc swr")
	}
	d.swr = swr

	slog.Debug("demuxer opened",
		"codec", codec.Name(),
		"sample_rate", decCtx.SampleRate(),
		"channels", decCtx.ChannelLayout().Channels())

	d.pr, d.pw = io.Pipe()
	go d.run()
	return d, nil
}

func (d *demuxer) Read(p []byte) (int, error) { return d.pr.Read(p) }

// Close stops decoding. The decode loop releases its resources once its
// next read or write returns, which happens when the input is closed.
func (d *demuxer) Close() error {
	d.stopped.Store(true)
	return d.pr.Close()
}

func (d *demuxer) free() {
	if d.swr != nil {
		d.swr.Free()
		d.swr = nil
	}
	if d.decCtx != nil {
		d.decCtx.Free()
		d.decCtx = nil
	}
	if d.fc != nil {
		d.fc.CloseInput()
		d.fc.Free()
		d.fc = nil
	}
	if d.ioCtx != nil {
		d.ioCtx.Free()
		d.ioCtx = nil
	}
}

func (d *demuxer) run() {
	defer d.free()

	packet := astiav.AllocPacket()
	defer packet.Free()
	src := astiav.AllocFrame()
	defer src.Free()
	dst := astiav.AllocFrame()
	defer dst.Free()

	err := d.decode(packet, src, dst)
	if err != nil && !d.stopped.Load() {
		slog.Debug("demuxer stopped", "err", err)
		_ = d.pw.CloseWithError(err)
		return
	}
	_ = d.pw.Close()
}

func (d *demuxer) decode(packet *astiav.Packet, src, dst *astiav.Frame) error {
	for !d.stopped.Load() {
		packet.Unref()
		if err := d.fc.ReadFrame(packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				if err := d.decCtx.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
					return fmt.Errorf("flush decoder: %w", err)
				}
				return d.receive(src, dst)
			}
			if errors.Is(err, astiav.ErrEagain) {
				continue
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if packet.StreamIndex() != d.stream.Index() {
			continue
		}
		if err := d.decCtx.SendPacket(packet); err != nil && !errors.Is(err, astiav.ErrEagain) {
			return fmt.Errorf("send packet: %w", err)
		}
		if err := d.receive(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func (d *demuxer) receive(src, dst *astiav.Frame) error {
	for {
		src.Unref()
		if err := d.decCtx.ReceiveFrame(src); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("receive frame: %w", err)
		}
		if err := d.writePCM(src, dst); err != nil {
			return err
		}
	}
}

func (d *demuxer) writePCM(src, dst *astiav.Frame) error {
	if !src.ChannelLayout().Valid() {
		switch d.decCtx.ChannelLayout().Channels() {
		case 1:
			src.SetChannelLayout(astiav.ChannelLayoutMono)
		default:
			src.SetChannelLayout(astiav.ChannelLayoutStereo)
		}
	}

	nb := int(astiav.RescaleQ(int64(src.NbSamples()),
		astiav.NewRational(1, src.SampleRate()),
		astiav.NewRational(1, SampleRate))) + 32

	dst.Unref()
	dst.SetChannelLayout(astiav.ChannelLayoutStereo)
	dst.SetSampleRate(SampleRate)
	dst.SetSampleFormat(astiav.SampleFormatS16)
	dst.SetNbSamples(nb)
	if err := dst.AllocBuffer(0); err != nil {
		return fmt.Errorf("dst alloc buffer: %w", err)
	}
	if err := d.swr.ConvertFrame(src, dst); err != nil {
		return fmt.Errorf("swr convert: %w", err)
	}
	if dst.NbSamples() == 0 {
		return nil
	}

	b, err := dst.Data().Bytes(1)
	if err != nil {
		return fmt.Errorf("dst bytes: %w", err)
	}
	if _, err := d.pw.Write(b); err != nil {
		return err
	}
	return nil
}
