package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var ErrStale = errors.New("heartbeat is stale")

// Beat writes now as Unix milliseconds to path, replacing the file
// atomically.
func Beat(path string, now time.Time) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".heartbeat-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Run beats immediately and then every interval until ctx is done.
func Run(ctx context.Context, path string, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	beat := func() {
		if err := Beat(path, time.Now()); err != nil {
			slog.Warn("heartbeat write failed", "path", path, "err", err)
		}
	}
	beat()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			beat()
		}
	}
}

// Check fails when the heartbeat at path is missing, unreadable or older
// than maxAge.
func Check(path string, maxAge time.Duration, now time.Time) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read heartbeat: %w", err)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	age := now.Sub(time.UnixMilli(ms))
	if age > maxAge {
		return fmt.Errorf("%w: %ds old", ErrStale, int(age.Round(time.Second)/time.Second))
	}
	return nil
}
