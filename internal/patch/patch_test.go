package patch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agroce/muttfuzz/internal/isa"
	"github.com/agroce/muttfuzz/internal/jumpindex"
)

func testIndex() (*jumpindex.Index, []byte) {
	base := make([]byte, 0x3000)
	// Entry + one je site in function "f".
	base[0x0FF0] = 0x55 // push rbp, irrelevant filler
	copy(base[0x1000:], []byte{0x74, 0x05})
	// Entry + one near je site in function "g".
	base[0x1FF0] = 0x55
	copy(base[0x2000:], []byte{0x0F, 0x84, 0x10, 0x00, 0x00, 0x00})

	idx := &jumpindex.Index{
		Sites: map[uint64]*jumpindex.JumpSite{
			0x1000: {FileOffset: 0x1000, Mnemonic: isa.JE, Encoding: isa.Short, RawBytes: []byte{0x74, 0x05}, FunctionName: "f"},
			0x2000: {FileOffset: 0x2000, Mnemonic: isa.JE, Encoding: isa.Near, RawBytes: []byte{0x0F, 0x84, 0x10, 0x00, 0x00, 0x00}, FunctionName: "g"},
		},
		Functions: jumpindex.FunctionMap{
			Sites: map[string][]uint64{"f": {0x1000}, "g": {0x2000}},
			Entry: map[string]uint64{"f": 0x0FF0, "g": 0x1FF0},
		},
	}
	return idx, base
}

func TestSynthesizeFlipOnly(t *testing.T) {
	idx, base := testIndex()
	plan := Plan{{FunctionName: "f", SiteOffset: 0x1000, Replacement: []byte{0x75, 0x05}}}

	artifact, err := Synthesize(base, idx, plan)
	require.NoError(t, err)
	require.Equal(t, byte(0x75), artifact.Mutant[0x1000])
	require.Equal(t, byte(0x05), artifact.Mutant[0x1001])
}

func TestSynthesizeJumpProbeAndFunctionProbe(t *testing.T) {
	idx, base := testIndex()
	plan := Plan{{FunctionName: "f", SiteOffset: 0x1000, Replacement: []byte{0x90, 0x90}}}

	artifact, err := Synthesize(base, idx, plan)
	require.NoError(t, err)

	require.Equal(t, isa.Halt, artifact.JumpProbe[0x1000])
	require.Equal(t, isa.NOP, artifact.JumpProbe[0x1001])
	for i := range base {
		if i != 0x1000 && i != 0x1001 {
			require.Equal(t, base[i], artifact.JumpProbe[i], "jump probe diverges from base outside the site at offset %#x", i)
		}
	}

	require.Equal(t, isa.Halt, artifact.FunctionProbe[0x0FF0])
	for i := range base {
		if i != 0x0FF0 {
			require.Equal(t, base[i], artifact.FunctionProbe[i], "function probe diverges from base outside the entry at offset %#x", i)
		}
	}
}

func TestSynthesizeRejectsLengthMismatch(t *testing.T) {
	idx, base := testIndex()
	plan := Plan{{FunctionName: "f", SiteOffset: 0x1000, Replacement: []byte{0x90}}}
	_, err := Synthesize(base, idx, plan)
	require.Error(t, err)
}

func TestSynthesizeRejectsByteMismatch(t *testing.T) {
	idx, base := testIndex()
	base[0x1000] = 0x90 // image no longer matches the jump index
	plan := Plan{{FunctionName: "f", SiteOffset: 0x1000, Replacement: []byte{0x75, 0x05}}}
	_, err := Synthesize(base, idx, plan)
	require.Error(t, err)
}

func TestMetadataRoundTrip(t *testing.T) {
	idx, base := testIndex()
	plan := Plan{
		{FunctionName: "f", SiteOffset: 0x1000, Replacement: []byte{0x75, 0x05}},
		{FunctionName: "g", SiteOffset: 0x2000, Replacement: []byte{0x90, 0xE9, 0x10, 0x00, 0x00, 0x00}},
	}

	metadata, err := WriteMetadata(plan, idx)
	require.NoError(t, err)

	parsed, err := ParseMetadata(metadata, idx)
	require.NoError(t, err)
	require.Equal(t, plan, parsed)

	want, err := Synthesize(base, idx, plan)
	require.NoError(t, err)
	got, err := Synthesize(base, idx, parsed)
	require.NoError(t, err)
	require.Equal(t, want.Mutant, got.Mutant)
}
