package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveWritesMetadataAndBinary(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, true, "")
	require.NoError(t, err)

	saved, err := a.Save("plan-metadata\n", []byte{0x90, 0x90})
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(dir, "mutant_0.metadata"))
	require.FileExists(t, filepath.Join(dir, "mutant_0.exe"))

	data, err := os.ReadFile(filepath.Join(dir, "mutant_0.metadata"))
	require.NoError(t, err)
	require.Equal(t, "plan-metadata\n", string(data))

	// Second save increments the counter.
	saved2, err := a.Save("other\n", []byte{0x75})
	require.NoError(t, err)
	require.NotEqual(t, saved, saved2)
	require.FileExists(t, filepath.Join(dir, "mutant_1.metadata"))
}

func TestSaveSkipsBinaryWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, false, "")
	require.NoError(t, err)

	_, err = a.Save("meta\n", []byte{0x90})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "mutant_0.metadata"))
	require.NoFileExists(t, filepath.Join(dir, "mutant_0.exe"))
}

func TestSaveIsNoOpWithoutDir(t *testing.T) {
	a, err := New("", false, "")
	require.NoError(t, err)

	saved, err := a.Save("meta\n", []byte{0x90})
	require.NoError(t, err)
	require.Equal(t, Saved{}, saved)

	// A no-op Saved's rename calls must also be no-ops, not errors.
	require.NoError(t, a.MarkKilled(saved))
	require.NoError(t, a.MarkSurvived(saved))
}

func TestMarkKilledRenamesMetadataAndBinary(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, true, "")
	require.NoError(t, err)

	saved, err := a.Save("meta\n", []byte{0x90})
	require.NoError(t, err)

	require.NoError(t, a.MarkKilled(saved))
	require.FileExists(t, filepath.Join(dir, "killed_0.metadata"))
	require.FileExists(t, filepath.Join(dir, "killed_0.exe"))
	require.NoFileExists(t, filepath.Join(dir, "mutant_0.metadata"))
}

func TestMarkSurvivedRenamesMetadataAndBinary(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, true, "")
	require.NoError(t, err)

	saved, err := a.Save("meta\n", []byte{0x90})
	require.NoError(t, err)

	require.NoError(t, a.MarkSurvived(saved))
	require.FileExists(t, filepath.Join(dir, "survived_0.metadata"))
	require.FileExists(t, filepath.Join(dir, "survived_0.exe"))
}

func TestAppendResultWritesHeaderOnceThenAppends(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "results.csv")
	a, err := New("", false, csvPath)
	require.NoError(t, err)

	require.NoError(t, a.AppendResult("fn::0x1000::flip\n", 1.5, 1))
	require.NoError(t, a.AppendResult("fn::0x2000::erase\n", 0.25, 0))

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := splitLines(string(data))
	require.Len(t, lines, 3, "header + two rows")
	require.Equal(t, "plan_metadata,elapsed_seconds,exit_code", lines[0])
}

func TestAppendResultIsNoOpWithoutCSVPath(t *testing.T) {
	a, err := New("", false, "")
	require.NoError(t, err)
	require.NoError(t, a.AppendResult("fn::0x1000::flip\n", 1.5, 1))
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
