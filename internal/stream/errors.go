package stream

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrLaunch        = errors.New("yt-dlp could not be started")
	ErrExitCode      = errors.New("yt-dlp exited with a non-zero code")
	ErrExtraction    = errors.New("yt-dlp extraction failed")
	ErrParse         = errors.New("yt-dlp output could not be parsed")
	ErrStreamTimeout = errors.New("stream start timed out")
	ErrNoData        = errors.New("yt-dlp produced no audio data")
)

type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("Failed to start yt-dlp (%v). Is yt-dlp installed and in PATH?", e.Err)
}

func (e *LaunchError) Unwrap() []error { return []error{ErrLaunch, e.Err} }

// ExitCodeError is a stream process that ran and failed.
type ExitCodeError struct {
	Code   int
	Stderr string
}

func (e *ExitCodeError) Error() string {
	msg := fmt.Sprintf("yt-dlp exited with code %d.", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\n" + s
	}
	return msg
}

func (e *ExitCodeError) Is(target error) bool { return target == ErrExitCode }

// ExtractionError is a metadata run that exited non-zero. Stderr is the
// raw diagnostic text.
type ExtractionError struct {
	Code   int
	Stderr string
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("yt-dlp exited with code %d", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// ParseError is unparseable extraction output. It also matches
// ErrExtraction since callers treat both the same way.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("Failed to parse yt-dlp output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool {
	return target == ErrParse || target == ErrExtraction
}

type StreamTimeoutError struct {
	After time.Duration
}

func (e *StreamTimeoutError) Error() string {
	return fmt.Sprintf("yt-dlp timed out after %dms.", e.After.Milliseconds())
}

func (e *StreamTimeoutError) Is(target error) bool { return target == ErrStreamTimeout }

type NoDataError struct{}

func (e *NoDataError) Error() string { return "yt-dlp exited before producing audio data." }

func (e *NoDataError) Is(target error) bool { return target == ErrNoData }
