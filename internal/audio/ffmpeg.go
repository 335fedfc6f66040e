package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// ffmpegPCM decodes arbitrary input piped to an ffmpeg child into s16le
// stereo 48 kHz PCM.
type ffmpegPCM struct {
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    *bytes.Buffer
	closeOnce sync.Once
}

func startFFmpeg(ctx context.Context, path string, input io.Reader) (*ffmpegPCM, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-ac", "2",
		"-ar", "48000",
		"-f", "s16le",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = input
	cmd.WaitDelay = time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	slog.Debug("ffmpeg fallback started", "pid", cmd.Process.Pid)

	return &ffmpegPCM{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

func (f *ffmpegPCM) Read(p []byte) (int, error) { return f.stdout.Read(p) }

func (f *ffmpegPCM) Close() error {
	f.closeOnce.Do(func() {
		if f.cmd.Process != nil {
			_ = f.cmd.Process.Kill()
		}
		if err := f.cmd.Wait(); err != nil && f.stderr.Len() > 0 {
			slog.Debug("ffmpeg exited", "err", err, "stderr", f.stderr.String())
		}
	})
	return nil
}
