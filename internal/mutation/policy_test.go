package mutation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agroce/muttfuzz/internal/isa"
	"github.com/agroce/muttfuzz/internal/jumpindex"
)

func shortJE() *jumpindex.JumpSite {
	return &jumpindex.JumpSite{
		FileOffset: 0x1000,
		Mnemonic:   isa.JE,
		Encoding:   isa.Short,
		RawBytes:   []byte{0x74, 0x05},
	}
}

func nearJE() *jumpindex.JumpSite {
	return &jumpindex.JumpSite{
		FileOffset: 0x2000,
		Mnemonic:   isa.JE,
		Encoding:   isa.Near,
		RawBytes:   []byte{0x0F, 0x84, 0x10, 0x00, 0x00, 0x00},
	}
}

func TestFlipShort(t *testing.T) {
	out := flip(shortJE().RawBytes)
	require.Equal(t, []byte{0x75, 0x05}, out)
}

func TestEraseProducesNOPSled(t *testing.T) {
	out := erase(shortJE().RawBytes)
	require.Equal(t, []byte{0x90, 0x90}, out)
}

func TestForceUnconditionalShort(t *testing.T) {
	out := forceUnconditional(shortJE().RawBytes)
	require.Equal(t, []byte{0xEB, 0x05}, out)
}

func TestForceUnconditionalNear(t *testing.T) {
	out := forceUnconditional(nearJE().RawBytes)
	require.Equal(t, []byte{0x90, 0xE9, 0x10, 0x00, 0x00, 0x00}, out)
}

func TestOtherConditionalNeverReproducesOriginal(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	site := shortJE()
	for i := 0; i < 1000; i++ {
		_, repl := otherConditional(rng, site.RawBytes)
		require.NotEqual(t, site.RawBytes[0], repl[0])
		require.Len(t, repl, len(site.RawBytes))
	}
}

func TestChooseAlwaysPreservesLength(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, site := range []*jumpindex.JumpSite{shortJE(), nearJE()} {
		for i := 0; i < 500; i++ {
			_, repl := Choose(rng, site)
			require.Len(t, repl, len(site.RawBytes))
		}
	}
}

// TestPolicyDistribution checks the observed branch frequencies against
// the fixed mixture of spec §4.3/§8: each stage draws a fresh uniform
// sample, so the branch probabilities compound rather than split a fixed
// remainder — flip 0.70, erase 0.3*0.4=0.12, force 0.3*0.6*(0.4/0.6)=0.12,
// other-conditional the remaining 0.06.
func TestPolicyDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	site := shortJE()
	const n = 20000
	var counts [4]int
	for i := 0; i < n; i++ {
		d, _ := Choose(rng, site)
		counts[d.Kind]++
	}

	frac := func(k Kind) float64 { return float64(counts[k]) / float64(n) }

	require.InDelta(t, 0.70, frac(Flip), 0.03)
	require.InDelta(t, 0.12, frac(Erase), 0.03)
	require.InDelta(t, 0.12, frac(ForceUnconditional), 0.03)
	require.InDelta(t, 0.06, frac(OtherConditional), 0.03)
}

func TestValidateRejectsLengthMismatch(t *testing.T) {
	require.NoError(t, Validate([]byte{0x74, 0x05}, []byte{0x75, 0x05}))
	require.Error(t, Validate([]byte{0x74, 0x05}, []byte{0x75}))
}
