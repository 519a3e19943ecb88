//go:build !windows

package feed

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// ensureFIFO creates path as a named pipe when it does not exist. An existing
// named pipe or regular file is used as is.
func ensureFIFO(path string) (created bool, err error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		mode := info.Mode()
		if mode&fs.ModeNamedPipe != 0 || mode.IsRegular() {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s (%s)", ErrNotFIFO, path, mode.Type())
	case errors.Is(err, fs.ErrNotExist):
		if err := unix.Mkfifo(path, 0o600); err != nil {
			return false, fmt.Errorf("feed: creating named pipe %s: %w", path, err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("feed: %w", err)
	}
}
