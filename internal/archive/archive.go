// Package archive writes the optional per-mutant artifacts the
// orchestrator produces during a run: numbered metadata/binary pairs
// under an archive directory, renamed to their outcome once a mutant
// has been evaluated, and the CSV results file (spec §4.6 step 7, §6
// Outputs).
package archive

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Archive writes numbered mutant artifacts to dir and appends evaluated
// results to an optional CSV file. A zero-value Archive with an empty
// Dir and no CSV path is a no-op writer, so callers can embed it
// unconditionally without branching on "is archiving enabled".
type Archive struct {
	mu sync.Mutex

	// Dir is the directory mutant_<n>.metadata / mutant_<n>.exe files are
	// written to. Empty disables per-mutant archival.
	Dir string
	// SaveBinary additionally writes the mutant executable, not just its
	// metadata.
	SaveBinary bool
	// CSVPath, if non-empty, receives one appended row per evaluated
	// mutant.
	CSVPath string

	next int
}

// New constructs an Archive, creating dir if it doesn't already exist.
// dir may be empty, in which case per-mutant archival is disabled but
// CSV writing (if csvPath is set) still works.
func New(dir string, saveBinary bool, csvPath string) (*Archive, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "archive: creating directory %s", dir)
		}
	}
	return &Archive{Dir: dir, SaveBinary: saveBinary, CSVPath: csvPath}, nil
}

// Saved is the handle returned by Save, used to later rename the pair
// to its evaluated outcome.
type Saved struct {
	n            int
	metadataPath string
	binaryPath   string
}

// Save writes mutant_<n>.metadata (and, if SaveBinary, mutant_<n>.exe)
// to the archive directory, where n is a run-local monotonically
// increasing counter. If Dir is empty, Save is a no-op and returns a
// zero Saved whose Rename calls are themselves no-ops.
func (a *Archive) Save(metadata string, mutant []byte) (Saved, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Dir == "" {
		return Saved{}, nil
	}

	n := a.next
	a.next++

	metaPath := filepath.Join(a.Dir, fmt.Sprintf("mutant_%d.metadata", n))
	if err := os.WriteFile(metaPath, []byte(metadata), 0o644); err != nil {
		return Saved{}, errors.Wrapf(err, "archive: writing %s", metaPath)
	}

	saved := Saved{n: n, metadataPath: metaPath}
	if a.SaveBinary {
		binPath := filepath.Join(a.Dir, fmt.Sprintf("mutant_%d.exe", n))
		if err := os.WriteFile(binPath, mutant, 0o755); err != nil {
			return Saved{}, errors.Wrapf(err, "archive: writing %s", binPath)
		}
		saved.binaryPath = binPath
	}
	return saved, nil
}

// MarkKilled renames s's files to killed_<n>.metadata / killed_<n>.exe.
func (a *Archive) MarkKilled(s Saved) error {
	return a.rename(s, "killed")
}

// MarkSurvived renames s's files to survived_<n>.metadata / survived_<n>.exe.
func (a *Archive) MarkSurvived(s Saved) error {
	return a.rename(s, "survived")
}

func (a *Archive) rename(s Saved, outcome string) error {
	if s.metadataPath == "" {
		return nil
	}
	dst := filepath.Join(filepath.Dir(s.metadataPath), fmt.Sprintf("%s_%d.metadata", outcome, s.n))
	if err := os.Rename(s.metadataPath, dst); err != nil {
		return errors.Wrapf(err, "archive: renaming %s to %s", s.metadataPath, dst)
	}
	if s.binaryPath != "" {
		dstBin := filepath.Join(filepath.Dir(s.binaryPath), fmt.Sprintf("%s_%d.exe", outcome, s.n))
		if err := os.Rename(s.binaryPath, dstBin); err != nil {
			return errors.Wrapf(err, "archive: renaming %s to %s", s.binaryPath, dstBin)
		}
	}
	return nil
}

// AppendResult appends one row to the CSV results file (spec §6): the
// plan metadata with its lines flattened and joined by "::", the
// elapsed seconds, and the exit code. A no-op if CSVPath is empty.
func (a *Archive) AppendResult(metadata string, elapsedSeconds float64, exitCode int) error {
	if a.CSVPath == "" {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	flattened := strings.Join(strings.Split(strings.TrimRight(metadata, "\n"), "\n"), "::")

	exists := true
	if _, err := os.Stat(a.CSVPath); os.IsNotExist(err) {
		exists = false
	}

	f, err := os.OpenFile(a.CSVPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "archive: opening CSV results file %s", a.CSVPath)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if !exists {
		if err := w.Write([]string{"plan_metadata", "elapsed_seconds", "exit_code"}); err != nil {
			return errors.Wrap(err, "archive: writing CSV header")
		}
	}
	row := []string{flattened, strconv.FormatFloat(elapsedSeconds, 'f', -1, 64), strconv.Itoa(exitCode)}
	if err := w.Write(row); err != nil {
		return errors.Wrap(err, "archive: writing CSV row")
	}
	w.Flush()
	return w.Error()
}
