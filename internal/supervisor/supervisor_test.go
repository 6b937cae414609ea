package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunShellEmptyCommandIsNoOp(t *testing.T) {
	res, err := RunShell(context.Background(), "", 0)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.False(t, res.TimedOut)
}

func TestRunShellReportsExitCode(t *testing.T) {
	res, err := RunShell(context.Background(), "exit 7", time.Second)
	require.NoError(t, err)
	require.Equal(t, 7, res.ExitCode)
	require.False(t, res.TimedOut)
}

func TestRunShellSuccessIsZero(t *testing.T) {
	res, err := RunShell(context.Background(), "true", time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
}

func TestRunShellKillsOnTimeout(t *testing.T) {
	start := time.Now()
	res, err := RunShell(context.Background(), "sleep 5", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.TimedOut)
	require.Equal(t, KilledSentinel, res.ExitCode)
	require.Less(t, time.Since(start), 4*time.Second, "the process group must be killed, not waited out")
}

func TestRunShellCapturesStderrTail(t *testing.T) {
	res, err := RunShell(context.Background(), "echo one 1>&2; echo two 1>&2", time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, res.StderrTail)
}

func TestRunShellCancelledContextKillsCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	res, err := RunShell(ctx, "sleep 5", 0)
	require.NoError(t, err)
	require.True(t, res.TimedOut)
}

func TestPollQuantumScalesWithTimeout(t *testing.T) {
	require.Equal(t, 200*time.Millisecond, pollQuantum(0))
	require.Equal(t, 50*time.Millisecond, pollQuantum(500*time.Millisecond))
	require.Equal(t, 200*time.Millisecond, pollQuantum(5*time.Second))
	require.Equal(t, 500*time.Millisecond, pollQuantum(30*time.Second))
}

func TestRunCallableSuccess(t *testing.T) {
	res := RunCallable(context.Background(), func(ctx context.Context) error {
		return nil
	}, time.Second)
	require.Equal(t, 0, res.ExitCode)
	require.False(t, res.TimedOut)
}

func TestRunCallableFailureIsNonZero(t *testing.T) {
	res := RunCallable(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	}, time.Second)
	require.Equal(t, 1, res.ExitCode)
}

func TestRunCallableTimeoutReportsKilledSentinel(t *testing.T) {
	res := RunCallable(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 50*time.Millisecond)
	require.True(t, res.TimedOut)
	require.Equal(t, KilledSentinel, res.ExitCode)
}
