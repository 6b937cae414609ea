package jumpindex

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/agroce/muttfuzz/internal/disasm"
	"github.com/agroce/muttfuzz/internal/isa"
)

func headerRecord(name string, entry uint64) disasm.Record {
	return disasm.Record{Kind: disasm.FunctionHeader, FunctionName: name, EntryOffset: entry}
}

func sourceRecord(tag string) disasm.Record {
	return disasm.Record{Kind: disasm.SourceAnnotation, SourceTag: tag}
}

func jeRecord(offset uint64) disasm.Record {
	return disasm.Record{
		Kind:       disasm.Instruction,
		FileOffset: offset,
		Opcode:     "je",
		RawBytes:   []byte{0x74, 0x05},
		Line:       "je",
	}
}

func TestBuildClassifiesShortAndNearSites(t *testing.T) {
	records := []disasm.Record{
		headerRecord("foo(int)", 0x1000),
		jeRecord(0x1010),
		{Kind: disasm.Instruction, FileOffset: 0x1020, Opcode: "je", RawBytes: []byte{0x0F, 0x84, 0x01, 0x00, 0x00, 0x00}, Line: "je near"},
	}

	idx := Build(records, Filters{})
	require.Len(t, idx.Sites, 2)
	require.Equal(t, isa.Short, idx.Sites[0x1010].Encoding)
	require.Equal(t, isa.Near, idx.Sites[0x1020].Encoding)

	want := map[string][]uint64{"foo(int)": {0x1010, 0x1020}}
	if diff := cmp.Diff(want, idx.Functions.Sites); diff != "" {
		t.Errorf("Functions.Sites mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildRecordsEntryOffsetEvenForExcludedFunctions(t *testing.T) {
	records := []disasm.Record{
		headerRecord("memcpy_sse2", 0x2000),
		jeRecord(0x2010),
	}

	idx := Build(records, Filters{})
	require.Empty(t, idx.Sites, "memcpy_sse2 is default-excluded, its jumps must not be mutable")

	off, ok := idx.FunctionEntry("memcpy_sse2")
	require.True(t, ok, "entry offsets are recorded unconditionally, even for excluded functions")
	require.Equal(t, uint64(0x2000), off)
}

func TestBuildRespectsAvoidSource(t *testing.T) {
	records := []disasm.Record{
		headerRecord("f", 0x1000),
		sourceRecord("/vendor/zlib/inflate.c:42"),
		jeRecord(0x1010),
		sourceRecord("/src/app.c:7"),
		jeRecord(0x1020),
	}

	idx := Build(records, Filters{AvoidSource: []string{"vendor"}})
	require.NotContains(t, idx.Sites, uint64(0x1010))
	require.Contains(t, idx.Sites, uint64(0x1020))
}

func TestBuildRespectsOnlySource(t *testing.T) {
	records := []disasm.Record{
		headerRecord("f", 0x1000),
		sourceRecord("/src/app.c:7"),
		jeRecord(0x1010),
		sourceRecord("/src/other.c:3"),
		jeRecord(0x1020),
	}

	idx := Build(records, Filters{OnlySource: []string{"app.c"}})
	require.Contains(t, idx.Sites, uint64(0x1010))
	require.NotContains(t, idx.Sites, uint64(0x1020))
}

func TestBuildRespectsOnlyMutateFunctions(t *testing.T) {
	records := []disasm.Record{
		headerRecord("target_fn", 0x1000),
		jeRecord(0x1010),
		headerRecord("other_fn", 0x2000),
		jeRecord(0x2010),
	}

	idx := Build(records, Filters{OnlyMutateFunctions: []string{"target_fn"}})
	require.Contains(t, idx.Sites, uint64(0x1010))
	require.NotContains(t, idx.Sites, uint64(0x2010))
}

func TestBuildExcludesStandardLibraryUnlessEnabled(t *testing.T) {
	records := []disasm.Record{
		headerRecord("std::vector<int>::push_back", 0x1000),
		jeRecord(0x1010),
	}

	idx := Build(records, Filters{})
	require.Empty(t, idx.Sites)

	idx = Build(records, Filters{MutateStandardLibraries: true})
	require.Contains(t, idx.Sites, uint64(0x1010))
}

func TestBuildSkipsInstrumentationLinesRegardlessOfFilters(t *testing.T) {
	records := []disasm.Record{
		headerRecord("target_fn", 0x1000),
		{Kind: disasm.Instruction, FileOffset: 0x1010, Opcode: "je", RawBytes: []byte{0x74, 0x05}, Line: "call __afl_maybe_log"},
	}

	idx := Build(records, Filters{OnlyMutateFunctions: []string{"target_fn"}})
	require.Empty(t, idx.Sites, "instrumentation-marked jumps are never mutable, even inside an included function")
}

func TestBuildDisableDefaultExcludesReenablesLibcWrappers(t *testing.T) {
	records := []disasm.Record{
		headerRecord("memcpy_sse2", 0x2000),
		jeRecord(0x2010),
	}

	idx := Build(records, Filters{DisableDefaultExcludes: true})
	require.Contains(t, idx.Sites, uint64(0x2010))
}
