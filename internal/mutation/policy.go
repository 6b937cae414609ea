// Package mutation implements the probabilistic replacement policy (spec
// §4.3): given a jump site's original encoding, produce one
// length-preserving replacement under a fixed mixture distribution.
package mutation

import (
	"fmt"
	"math/rand"

	"github.com/agroce/muttfuzz/internal/isa"
	"github.com/agroce/muttfuzz/internal/jumpindex"
)

// Kind tags which branch of the distribution produced a replacement, so
// the mixture is testable independently of byte emission (spec §9
// Design Notes).
type Kind int

const (
	Flip Kind = iota
	Erase
	ForceUnconditional
	OtherConditional
)

func (k Kind) String() string {
	switch k {
	case Flip:
		return "flip"
	case Erase:
		return "erase"
	case ForceUnconditional:
		return "force-unconditional"
	case OtherConditional:
		return "other-conditional"
	default:
		return "unknown"
	}
}

// Decision records which branch fired and, for OtherConditional, which
// mnemonic was substituted.
type Decision struct {
	Kind   Kind
	Target isa.Mnemonic // only meaningful for OtherConditional
}

// Fixed mixture constants from spec §4.3, matched bit-for-bit against
// the original tool's implementation.
const (
	pFlip      = 0.70
	pEraseCond = 0.40 // conditional probability of erase, given flip didn't fire
	pForceCond = 0.40 / 0.60
)

// Choose selects a replacement for site's original bytes under the fixed
// mixture and returns both the tagged Decision and the replacement
// bytes, which always have the same length as site.RawBytes.
func Choose(rng *rand.Rand, site *jumpindex.JumpSite) (Decision, []byte) {
	raw := site.RawBytes

	if rng.Float64() <= pFlip {
		return Decision{Kind: Flip}, flip(raw)
	}
	if rng.Float64() <= pEraseCond {
		return Decision{Kind: Erase}, erase(raw)
	}
	if rng.Float64() <= pForceCond {
		return Decision{Kind: ForceUnconditional}, forceUnconditional(raw)
	}
	target, repl := otherConditional(rng, raw)
	return Decision{Kind: OtherConditional, Target: target}, repl
}

func flip(raw []byte) []byte {
	out := make([]byte, len(raw))
	copy(out, raw)
	if raw[0] == 0x0F && len(raw) >= 2 {
		if v, ok := isa.FlipNear(raw[1]); ok {
			out[1] = v
			return out
		}
	}
	if v, ok := isa.FlipShort(raw[0]); ok {
		out[0] = v
		return out
	}
	// Unreachable for any site that classify() accepted into the index.
	return out
}

func erase(raw []byte) []byte {
	out := make([]byte, len(raw))
	for i := range out {
		out[i] = isa.NOP
	}
	return out
}

func forceUnconditional(raw []byte) []byte {
	out := make([]byte, len(raw))
	if raw[0] == 0x0F {
		// Near form: pad with a leading NOP, then EB-equivalent near jmp
		// byte sequence "90 E9 <disp32>" — but we only need to keep the
		// total length; the original near jmp encoding is 0F8x + 4-byte
		// disp (6 bytes total), so the unconditional form is NOP + E9 +
		// the same 4-byte displacement.
		out[0] = isa.NOP
		out[1] = 0xE9
		copy(out[2:], raw[2:])
		return out
	}
	// Short form: EB + the same 1-byte displacement.
	out[0] = isa.ShortJMP
	copy(out[1:], raw[1:])
	return out
}

func otherConditional(rng *rand.Rand, raw []byte) (isa.Mnemonic, []byte) {
	out := make([]byte, len(raw))
	copy(out, raw)
	if raw[0] == 0x0F && len(raw) >= 2 {
		choices := isa.OtherNearOpcodes(raw[1])
		chosen := choices[rng.Intn(len(choices))]
		out[1] = chosen
		m, _ := isa.ClassifyNear(chosen)
		return m, out
	}
	choices := isa.OtherShortOpcodes(raw[0])
	chosen := choices[rng.Intn(len(choices))]
	out[0] = chosen
	m, _ := isa.ClassifyShort(chosen)
	return m, out
}

// Validate returns an error if repl does not have the same length as
// original.
func Validate(original, repl []byte) error {
	if len(original) != len(repl) {
		return fmt.Errorf("mutation: replacement length %d does not match original length %d", len(repl), len(original))
	}
	return nil
}
