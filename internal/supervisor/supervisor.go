// Package supervisor launches a child command or an in-process callable
// under a hard wall-clock timeout, forwarding termination to the whole
// process group on expiry, and returns an exit code the caller treats as
// the kill/survive signal (spec §4.7).
package supervisor

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// KilledSentinel is the exit code reported when an in-process Callable
// times out; it has no real process exit code, so it is treated as a
// kill per spec §4.7.
const KilledSentinel = 1

// Result is what one supervised run produced.
type Result struct {
	ExitCode   int
	Elapsed    time.Duration
	TimedOut   bool
	StderrTail []string
}

// maxStderrLines bounds the tail retained for verbose reporting (spec
// §4.7 "truncate to the last N lines").
const maxStderrLines = 200

// pollQuantum scales a wait quantum with the timeout, sub-second for
// sub-second timeouts (spec §4.7). RunShell waits on the child's exit
// rather than polling; it uses the quantum only to size the grace
// period after killing a timed-out process group, which grace never
// lets drop below two seconds.
func pollQuantum(timeout time.Duration) time.Duration {
	switch {
	case timeout <= 0:
		return 200 * time.Millisecond
	case timeout < time.Second:
		return timeout / 10
	case timeout < 10*time.Second:
		return 200 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// RunShell runs cmdline through "sh -c" under timeout, killing its
// entire process group if it outruns the budget. timeout <= 0 means no
// timeout.
func RunShell(ctx context.Context, cmdline string, timeout time.Duration) (Result, error) {
	if cmdline == "" {
		return Result{ExitCode: 0}, nil
	}

	scratch, err := os.CreateTemp("", "muttfuzz-stderr-*")
	if err != nil {
		return Result{}, errors.Wrap(err, "supervisor: creating stderr scratch file")
	}
	scratchPath := scratch.Name()
	defer os.Remove(scratchPath)

	cmd := exec.Command("sh", "-c", cmdline)
	cmd.Stdout = nil
	cmd.Stderr = scratch
	configureProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		scratch.Close()
		return Result{}, errors.Wrapf(err, "supervisor: starting command %q", cmdline)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timedOut bool
	quantum := pollQuantum(timeout)
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case waitErr := <-done:
		_ = waitErr // exit code extracted below via ProcessState
	case <-timeoutCh:
		timedOut = true
		log.WithField("cmd", cmdline).WithField("timeout", timeout).Warn("supervisor: timeout expired, killing process group")
		killProcessGroup(cmd)
		select {
		case <-done:
		case <-time.After(grace(quantum)):
			// Process group refused to die within a grace period; best
			// effort, fall through and report what we have.
		}
	case <-ctx.Done():
		timedOut = true
		killProcessGroup(cmd)
		<-done
	}

	scratch.Close()
	elapsed := time.Since(start)

	exitCode := 0
	if timedOut {
		exitCode = KilledSentinel
	} else if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	tail, _ := tailLines(scratchPath, maxStderrLines)

	return Result{
		ExitCode:   exitCode,
		Elapsed:    elapsed,
		TimedOut:   timedOut,
		StderrTail: tail,
	}, nil
}

func grace(quantum time.Duration) time.Duration {
	if quantum < 2*time.Second {
		return 2 * time.Second
	}
	return quantum
}

// Callable is an in-process function a caller may run under the same
// timeout/kill semantics as RunShell, without forking a real process.
type Callable func(ctx context.Context) error

// RunCallable runs fn under timeout; on expiry, fn's ctx is cancelled
// and the result is reported as killed (exit code KilledSentinel)
// regardless of whether fn ever observes the cancellation (spec §4.7
// "On timeout of a callable, return a non-zero sentinel").
func RunCallable(ctx context.Context, fn Callable, timeout time.Duration) Result {
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn(runCtx) }()

	select {
	case err := <-done:
		exitCode := 0
		if err != nil {
			exitCode = 1
		}
		return Result{ExitCode: exitCode, Elapsed: time.Since(start)}
	case <-runCtx.Done():
		return Result{ExitCode: KilledSentinel, Elapsed: time.Since(start), TimedOut: true}
	}
}

// tailLines returns the last n lines of the file at path.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[len(lines)-n:]
		}
	}
	return lines, scanner.Err()
}
