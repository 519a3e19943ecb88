//go:build windows

package feed

import (
	"fmt"
	"os"
)

// ensureFIFO only accepts existing files; named pipes cannot be created here.
func ensureFIFO(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("feed: %w", err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("%w: %s", ErrNotFIFO, path)
	}
	return false, nil
}
