package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// StreamCommand builds the process that writes the audio for url to stdout.
type StreamCommand func(ctx context.Context, url string) *exec.Cmd

// YtDlpStreamCommand is the production StreamCommand.
func YtDlpStreamCommand(opts Options) StreamCommand {
	return func(ctx context.Context, url string) *exec.Cmd {
		return baseCommand(opts).
			Format("bestaudio/best").
			Output("-").
			NoPlaylist().
			Quiet().
			BuildCommand(ctx, url)
	}
}

// Process is a running stream process. The owner must Kill it once the
// track is no longer needed.
type Process struct {
	cmd      *exec.Cmd
	stdout   *os.File
	stderr   *tailBuffer
	done     chan struct{}
	err      error
	killed   atomic.Bool
	killOnce sync.Once
}

// Kill terminates the process without a grace period and closes its
// stdout. Safe to call more than once.
func (p *Process) Kill() error {
	var err error
	p.killOnce.Do(func() {
		p.killed.Store(true)
		if p.cmd.Process != nil {
			if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
				err = kerr
			}
		}
		_ = p.stdout.Close()
	})
	return err
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err is the exit error; only meaningful after Done.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Stderr returns the last diagnostic output of the process.
func (p *Process) Stderr() string { return p.stderr.String() }

// ExitError reports a failed exit as an *ExitCodeError carrying the stderr
// tail. It is nil while the process runs, after a clean exit, and after Kill.
func (p *Process) ExitError() error {
	werr := p.Err()
	if werr == nil || p.killed.Load() {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(werr, &exitErr) {
		return &ExitCodeError{Code: exitErr.ExitCode(), Stderr: p.Stderr()}
	}
	return fmt.Errorf("yt-dlp wait: %w", werr)
}

// Provisioner opens playable sources for track URLs.
type Provisioner struct {
	command StreamCommand
	decoder Decoder
	timeout time.Duration
}

// NewProvisioner returns a provisioner whose Open waits at most timeout for
// a stream to start. A timeout of 0 waits until the process fails.
func NewProvisioner(opts Options, dec Decoder, timeout time.Duration) *Provisioner {
	return &Provisioner{command: YtDlpStreamCommand(opts), decoder: dec, timeout: timeout}
}

// Open is OpenTimeout with the configured start timeout.
func (p *Provisioner) Open(ctx context.Context, url string, volume float64) (Source, *Process, error) {
	return p.OpenTimeout(ctx, url, volume, p.timeout)
}

type probeResult struct {
	src Source
	err error
}

// OpenTimeout starts the stream process for url and waits until its output
// is playable, the process fails, or timeout elapses (timeout <= 0 waits
// forever). On any failure the process is killed before returning.
func (p *Provisioner) OpenTimeout(ctx context.Context, url string, volume float64, timeout time.Duration) (Source, *Process, error) {
	log := slog.With("attempt", uuid.NewString(), "url", url)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}

	// the process outlives this call; its lifetime is managed through Kill
	procCtx := context.WithoutCancel(ctx)
	cmd := p.command(procCtx, url)
	stderr := newTailBuffer(stderrTail)
	cmd.Stdout = pw
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	log.Debug("starting stream process", "timeout", timeout)
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, nil, &LaunchError{Err: err}
	}
	_ = pw.Close()

	proc := &Process{cmd: cmd, stdout: pr, stderr: stderr, done: make(chan struct{})}
	exited := make(chan error, 1)
	go func() {
		werr := cmd.Wait()
		proc.err = werr
		close(proc.done)
		exited <- werr
	}()

	head := newHeadReader(pr)
	probed := make(chan probeResult, 1)
	go func() {
		src, perr := p.decoder.Probe(procCtx, head)
		probed <- probeResult{src: src, err: perr}
	}()
	probePending := true

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	// every return below settles the attempt exactly once
	fail := func(err error) (Source, *Process, error) {
		_ = proc.Kill()
		if probePending {
			go func() {
				if res := <-probed; res.src != nil {
					_ = res.src.Close()
				}
			}()
		}
		log.Debug("stream attempt failed", "err", err)
		return nil, nil, err
	}

	var exitedClean, emptySeen, probeFailed bool
	empty := head.empty
	for {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())

		case <-timer:
			return fail(&StreamTimeoutError{After: timeout})

		case werr := <-exited:
			exited = nil
			if werr != nil {
				var exitErr *exec.ExitError
				if errors.As(werr, &exitErr) {
					return fail(&ExitCodeError{Code: exitErr.ExitCode(), Stderr: stderr.String()})
				}
				return fail(fmt.Errorf("yt-dlp wait: %w", werr))
			}
			exitedClean = true
			if emptySeen || (probeFailed && !head.Received()) {
				return fail(&NoDataError{})
			}

		case <-empty:
			empty = nil
			emptySeen = true
			if exitedClean {
				return fail(&NoDataError{})
			}

		case res := <-probed:
			probePending = false
			if res.err == nil {
				head.stopRecording()
				res.src.SetVolume(volume)
				log.Debug("stream probe resolved")
				return res.src, proc, nil
			}
			if !head.Received() {
				// nothing to fall back on; the exit status decides
				log.Debug("probe failed before any data", "err", res.err)
				probeFailed = true
				if exitedClean {
					return fail(&NoDataError{})
				}
				continue
			}
			log.Warn("stream probe failed, decoding as arbitrary stream", "err", res.err)
			src, aerr := p.decoder.Arbitrary(procCtx, head.replay())
			if aerr != nil {
				return fail(fmt.Errorf("arbitrary decoder: %w", aerr))
			}
			src.SetVolume(volume)
			return src, proc, nil
		}
	}
}
