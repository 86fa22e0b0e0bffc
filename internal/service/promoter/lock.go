package promoter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ps "github.com/mitchellh/go-ps"

	"github.com/forgedist/forgedist/internal/config"
	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
)

// lockPath picks the marker location for a channel. Channels promote
// independently, so each gets its own marker.
func lockPath(opts *Options) string {
	if opts.LockPath != "" {
		return opts.LockPath
	}

	return filepath.Join(os.TempDir(), "forgedist-promote-"+opts.Channel+".lock")
}

// flightLock is a PID marker file keeping two promoters off the same
// channel on one host. The conditional pointer write remains the
// cross-host backstop.
type flightLock struct {
	path string
}

// acquireLock writes the marker, reclaiming it when its holder is gone.
func acquireLock(ctx context.Context, path string) (*flightLock, error) {
	data, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && pid > 0 && pid != os.Getpid() && processAlive(pid) {
			return nil, release.FatalErrorf(release.ClassCutoverConflict,
				"another promotion is already running: pid %d holds %s", pid, path)
		}

		logger.InfoKV(ctx, "Reclaiming stale promotion marker",
			"path", path,
			"pid", pid)
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read promotion marker: %w", err)
	}

	pid := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(path, pid, config.DefaultFilePermissions); err != nil {
		return nil, fmt.Errorf("write promotion marker: %w", err)
	}

	return &flightLock{path: path}, nil
}

// unlock removes the marker.
func (l *flightLock) unlock(ctx context.Context) {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Failed to remove promotion marker",
			"path", l.path,
			"error", err)
	}
}

// processAlive reports whether a process with pid exists.
func processAlive(pid int) bool {
	process, err := ps.FindProcess(pid)

	return err == nil && process != nil
}
