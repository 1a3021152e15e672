package executor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mattjoyce/zika/internal/dispatch"
	"github.com/mattjoyce/zika/internal/queue"
)

func makeFIFO(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zika-command.fifo")
	require.NoError(t, unix.Mkfifo(path, 0o600))
	return path
}

// openReader opens the read end without waiting for a writer.
func openReader(t *testing.T, path string) *os.File {
	t.Helper()
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	f := os.NewFile(uintptr(fd), path)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func readAll(t *testing.T, f *os.File) string {
	t.Helper()
	require.NoError(t, f.SetReadDeadline(time.Now().Add(5*time.Second)))
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

// fillPipe writes through a second descriptor until the pipe buffer is
// full, so the next write would block.
func fillPipe(t *testing.T, path string) {
	t.Helper()
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(fd) })

	for _, size := range []int{4096, 1} {
		chunk := make([]byte, size)
		for {
			if _, err := unix.Write(fd, chunk); err != nil {
				require.ErrorIs(t, err, unix.EAGAIN)
				break
			}
		}
	}
}

func TestPipe_WritesLine(t *testing.T) {
	path := makeFIFO(t)
	r := openReader(t, path)

	res := run(t, NewPipe(path, 0, discard), "systemctl restart nginx")

	require.Equal(t, dispatch.OutcomeSucceeded, res.Outcome, res.ErrString())
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "systemctl restart nginx\n", readAll(t, r))
}

func TestPipe_NoReaderFailsFast(t *testing.T) {
	path := makeFIFO(t)

	start := time.Now()
	res := run(t, NewPipe(path, 0, discard), "reboot")

	assert.Equal(t, dispatch.OutcomeTransportFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrNoReader)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPipe_MissingPath(t *testing.T) {
	res := run(t, NewPipe(filepath.Join(t.TempDir(), "absent.fifo"), 0, discard), "reboot")

	assert.Equal(t, dispatch.OutcomeTransportFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, os.ErrNotExist)
}

func TestPipe_RegularFileRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-fifo")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	res := run(t, NewPipe(path, 0, discard), "reboot")

	assert.Equal(t, dispatch.OutcomeTransportFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrNotFIFO)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestPipe_ContextCancelUnblocksFullPipe(t *testing.T) {
	path := makeFIFO(t)
	_ = openReader(t, path) // reader that never reads

	fillPipe(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res := NewPipe(path, 0, discard).Execute(ctx, queue.NewRequest("test", "stuck"))

	assert.Equal(t, dispatch.OutcomeTransportFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestPipe_WriteDeadline(t *testing.T) {
	path := makeFIFO(t)
	_ = openReader(t, path)

	fillPipe(t, path)

	res := run(t, NewPipe(path, 50*time.Millisecond, discard), "stuck")

	assert.Equal(t, dispatch.OutcomeTransportFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, os.ErrDeadlineExceeded)
}

// With a reader present the action is handed off; once the reader goes
// away the next action is a transport failure and the queue keeps moving.
func TestPipe_DispatchHandoffThenNoReader(t *testing.T) {
	path := makeFIFO(t)
	r := openReader(t, path)

	obs := &completions{}
	d := dispatch.New(NewPipe(path, 0, discard), dispatch.WithLogger(discard), dispatch.WithObserver(obs))

	d.Enqueue("shutdown", "shutdown-now")
	drain(t, d)
	assert.Equal(t, "shutdown-now\n", readAll(t, r))

	require.NoError(t, r.Close())
	d.Enqueue("shutdown", "shutdown-now")
	d.Enqueue("shutdown", "shutdown-now")
	drain(t, d)

	_, results := obs.get()
	require.Len(t, results, 3)
	assert.Equal(t, dispatch.OutcomeSucceeded, results[0].Outcome)
	assert.Equal(t, dispatch.OutcomeTransportFailed, results[1].Outcome)
	assert.ErrorIs(t, results[1].Err, ErrNoReader)
	assert.Equal(t, dispatch.OutcomeTransportFailed, results[2].Outcome)
}
