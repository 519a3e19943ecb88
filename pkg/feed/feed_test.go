//go:build !windows

package feed

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestIsStdin(t *testing.T) {
	assert.True(t, IsStdin("stdin"))
	assert.True(t, IsStdin("-"))
	assert.False(t, IsStdin("/tmp/tcpdump_fifo"))
	assert.Equal(t, "standard input", Describe("-"))
	assert.Equal(t, "named pipe /tmp/x", Describe("/tmp/x"))
}

func TestOpen_CreatesFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture_fifo")

	go func() {
		// Wait for Open to create the pipe, then connect as the writer.
		for i := 0; i < 200; i++ {
			if _, err := os.Stat(path); err == nil {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		w, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return
		}
		_, _ = w.Write([]byte("capture bytes"))
		_ = w.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rc, err := Open(ctx, path)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "capture bytes", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&fs.ModeNamedPipe)
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm()&0o600)
}

func TestOpen_CancelWhileWaitingForWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture_fifo")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Open(ctx, path)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Unblock the pending open so the helper goroutine exits.
	if w, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
		_ = w.Close()
	}
}

func TestOpen_RegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.pcap")
	require.NoError(t, os.WriteFile(path, []byte("recorded"), 0o600))

	rc, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "recorded", string(data))
}

func TestOpen_RejectsDirectory(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNotFIFO)
}

func TestOpen_Stdin(t *testing.T) {
	rc, err := Open(context.Background(), "-")
	require.NoError(t, err)
	assert.Same(t, os.Stdin, rc)
}
