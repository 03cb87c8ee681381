package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "data", "daemon.pid")

	_, running := Running(pidPath)
	assert.False(t, running)

	release, err := WritePID(pidPath)
	require.NoError(t, err)

	pid, running := Running(pidPath)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	release()
	_, err = os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
}

func TestStalePIDFileIsIgnored(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte("garbage"), 0o644))
	_, running := Running(pidPath)
	assert.False(t, running)

	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(1<<22+12345)), 0o644))
	_, running = Running(pidPath)
	assert.False(t, running)
}

func TestProgramStartStop(t *testing.T) {
	started := make(chan struct{})
	p := NewProgram(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, nil)

	require.NoError(t, p.Start(nil))
	<-started
	assert.Error(t, p.Start(nil))
	require.NoError(t, p.Stop(nil))
	require.NoError(t, p.Stop(nil))
}

func TestProgramStopReturnsRunError(t *testing.T) {
	p := NewProgram(func(ctx context.Context) error {
		<-ctx.Done()
		return errors.New("flush failed")
	}, nil)
	require.NoError(t, p.Start(nil))
	time.Sleep(10 * time.Millisecond)
	assert.EqualError(t, p.Stop(nil), "flush failed")
}

func TestControlRejectsUnknownAction(t *testing.T) {
	assert.ErrorContains(t, Control(nil, "explode"), "unknown service action")
	assert.Contains(t, Actions(), "install")
}
