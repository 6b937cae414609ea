// Package fsutil holds small filesystem helpers shared by discovery and
// the orchestrator: checking that a required external tool is on PATH,
// and checking that a path exists before committing to reading it.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// PathExists reports whether path exists, treating "not exist" as a
// plain false rather than an error; any other stat failure (e.g.
// permission denied) is still surfaced.
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// CheckBinary searches PATH for binaryName and returns a clear error
// naming what it's needed for if it can't be found, so a missing
// disassembler or fuzzer command fails at bootstrap instead of
// partway through the mutant loop.
func CheckBinary(binaryName, neededFor string) error {
	path, err := exec.LookPath(binaryName)
	if err != nil {
		logrus.WithError(err).Errorf("unable to find %s in PATH (needed for %s)", binaryName, neededFor)
		return fmt.Errorf("unable to find %s in PATH (needed for %s)", binaryName, neededFor)
	}
	if path == "" {
		return fmt.Errorf("%s not found in PATH (needed for %s)", binaryName, neededFor)
	}
	return nil
}
