package stream

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	arbitrary bool
	head      []byte
	volume    float64
	closed    bool
}

func (s *fakeSource) ReadFrame() ([]byte, error) { return nil, io.EOF }

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
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// magicDecoder accepts streams starting with "OggS" and reads a fixed
// number of bytes when decoding arbitrary input.
type magicDecoder struct {
	arbitraryLen int
}

func (d magicDecoder) Probe(_ context.Context, r io.Reader) (Source, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if string(buf) != "OggS" {
		return nil, errors.New("unknown container")
	}
	return &fakeSource{head: buf}, nil
}

func (d magicDecoder) Arbitrary(_ context.Context, r io.Reader) (Source, error) {
	buf := make([]byte, d.arbitraryLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &fakeSource{arbitrary: true, head: buf}, nil
}

type recordedCmd struct {
	mu  sync.Mutex
	cmd *exec.Cmd
}

func (r *recordedCmd) get() *exec.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd
}

func newScriptProvisioner(script string, dec Decoder) (*Provisioner, *recordedCmd) {
	rec := &recordedCmd{}
	p := &Provisioner{
		command: func(ctx context.Context, url string) *exec.Cmd {
			cmd := exec.CommandContext(ctx, "sh", "-c", script)
			rec.mu.Lock()
			rec.cmd = cmd
			rec.mu.Unlock()
			return cmd
		},
		decoder: dec,
		timeout: 5 * time.Second,
	}
	return p, rec
}

func processGone(cmd *exec.Cmd) bool {
	if cmd == nil || cmd.Process == nil {
		return false
	}
	return cmd.Process.Signal(syscall.Signal(0)) != nil
}

func TestOpenProbeSuccess(t *testing.T) {
	p, _ := newScriptProvisioner(`printf 'OggS'; sleep 2`, magicDecoder{})

	src, proc, err := p.Open(context.Background(), "https://example.com/a", 1.5)
	require.NoError(t, err)
	require.NotNil(t, proc)
	defer proc.Kill()

	fs := src.(*fakeSource)
	assert.False(t, fs.arbitrary)
	assert.Equal(t, 1.5, src.Volume(), "source is pre-set to the requested volume")
}

func TestOpenProbeFailureFallsBack(t *testing.T) {
	p, _ := newScriptProvisioner(`printf 'garbage-bytes'; sleep 2`, magicDecoder{arbitraryLen: len("garbage-bytes")})

	src, proc, err := p.Open(context.Background(), "https://example.com/a", 0.5)
	require.NoError(t, err)
	defer proc.Kill()

	fs := src.(*fakeSource)
	assert.True(t, fs.arbitrary)
	assert.Equal(t, "garbage-bytes", string(fs.head), "probed bytes are replayed to the fallback decoder")
	assert.Equal(t, 0.5, src.Volume())
}

func TestOpenShortStreamExitsCleanly(t *testing.T) {
	p, _ := newScriptProvisioner(`printf 'OggS'`, magicDecoder{})

	_, proc, err := p.Open(context.Background(), "https://example.com/a", 1)
	require.NoError(t, err)
	_ = proc.Kill()
}

func TestOpenNoData(t *testing.T) {
	p, _ := newScriptProvisioner(`exit 0`, magicDecoder{})

	_, proc, err := p.Open(context.Background(), "https://example.com/a", 1)
	require.Error(t, err)
	assert.Nil(t, proc)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, "yt-dlp exited before producing audio data.", err.Error())
}

func TestOpenExitCode(t *testing.T) {
	p, _ := newScriptProvisioner(`echo "ERROR: [youtube] a: Private video" >&2; exit 3`, magicDecoder{})

	_, _, err := p.Open(context.Background(), "https://example.com/a", 1)
	require.Error(t, err)
	var ee *ExitCodeError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 3, ee.Code)
	assert.Contains(t, ee.Stderr, "Private video")
	assert.ErrorIs(t, err, ErrExitCode)
}

func TestOpenStderrIsBounded(t *testing.T) {
	p, _ := newScriptProvisioner(`i=0; while [ $i -lt 300 ]; do echo "line $i xxxxxxxxxxxxxxxxxxxx" >&2; i=$((i+1)); done; exit 1`, magicDecoder{})

	_, _, err := p.Open(context.Background(), "https://example.com/a", 1)
	var ee *ExitCodeError
	require.True(t, errors.As(err, &ee))
	assert.LessOrEqual(t, len(ee.Stderr), stderrTail)
	assert.Contains(t, ee.Stderr, "line 299")
}

func TestOpenTimeoutKillsProcess(t *testing.T) {
	p, rec := newScriptProvisioner(`exec sleep 10`, magicDecoder{})

	start := time.Now()
	_, proc, err := p.OpenTimeout(context.Background(), "https://example.com/a", 1, 150*time.Millisecond)
	require.Error(t, err)
	assert.Nil(t, proc)
	assert.ErrorIs(t, err, ErrStreamTimeout)
	assert.Equal(t, "yt-dlp timed out after 150ms.", err.Error())
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Eventually(t, func() bool { return processGone(rec.get()) }, 3*time.Second, 20*time.Millisecond)
}

func TestOpenContextCancel(t *testing.T) {
	p, rec := newScriptProvisioner(`exec sleep 10`, magicDecoder{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, _, err := p.OpenTimeout(ctx, "https://example.com/a", 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
	require.Eventually(t, func() bool { return processGone(rec.get()) }, 3*time.Second, 20*time.Millisecond)
}

func TestOpenLaunchError(t *testing.T) {
	p := &Provisioner{
		command: func(ctx context.Context, url string) *exec.Cmd {
			return exec.CommandContext(ctx, "/nonexistent/yt-dlp-binary", url)
		},
		decoder: magicDecoder{},
		timeout: time.Second,
	}
	_, _, err := p.Open(context.Background(), "https://example.com/a", 1)
	assert.ErrorIs(t, err, ErrLaunch)
}

func TestProcessKillIsIdempotent(t *testing.T) {
	p, _ := newScriptProvisioner(`printf 'OggS'; exec sleep 10`, magicDecoder{})
	_, proc, err := p.Open(context.Background(), "https://example.com/a", 1)
	require.NoError(t, err)

	require.NoError(t, proc.Kill())
	require.NoError(t, proc.Kill())
	select {
	case <-proc.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("process not reaped after kill")
	}
	assert.Error(t, proc.Err())
	assert.NoError(t, proc.ExitError(), "a killed process did not fail on its own")
}

func TestProcessExitErrorAfterStart(t *testing.T) {
	p, _ := newScriptProvisioner(`printf 'OggS'; sleep 0.3; echo "ERROR: unable to download video data: HTTP Error 403: Forbidden" >&2; exit 1`, magicDecoder{})
	_, proc, err := p.Open(context.Background(), "https://example.com/a", 1)
	require.NoError(t, err)
	defer proc.Kill()

	assert.NoError(t, proc.ExitError(), "still running")
	select {
	case <-proc.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("process did not exit")
	}

	err = proc.ExitError()
	var ee *ExitCodeError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 1, ee.Code)
	assert.Contains(t, ee.Stderr, "HTTP Error 403")
}

func TestNewProvisionerKeepsZeroTimeout(t *testing.T) {
	p := NewProvisioner(Options{}, magicDecoder{}, 0)
	assert.Equal(t, time.Duration(0), p.timeout, "0 waits without a deadline")
}

func TestProcessCleanExit(t *testing.T) {
	p, _ := newScriptProvisioner(`printf 'OggS'; sleep 0.2`, magicDecoder{})
	_, proc, err := p.Open(context.Background(), "https://example.com/a", 1)
	require.NoError(t, err)
	defer proc.Kill()

	select {
	case <-proc.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.NoError(t, proc.ExitError())
}
