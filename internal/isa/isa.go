// Package isa classifies and re-encodes the x86/x86-64 conditional jump
// forms that the mutation engine patches. It is deliberately narrow: the
// six signed/equality conditional mnemonics, in their 1-byte short and
// 2-byte near encodings, plus the unconditional jump form used to force a
// branch and the no-op byte used to erase one.
package isa

import "fmt"

// Mnemonic identifies one of the conditional mnemonics the engine mutates,
// or the unconditional jump it can substitute in.
type Mnemonic string

const (
	JE  Mnemonic = "je"
	JNE Mnemonic = "jne"
	JL  Mnemonic = "jl"
	JGE Mnemonic = "jge"
	JLE Mnemonic = "jle"
	JG  Mnemonic = "jg"
	JMP Mnemonic = "jmp"
)

// Conditional lists the six mutable conditional mnemonics, in a fixed
// order used wherever "uniformly choose one of the alternatives" applies.
var Conditional = []Mnemonic{JE, JNE, JL, JGE, JLE, JG}

// Encoding distinguishes the short (1-byte opcode + 1-byte displacement)
// and near (2-byte opcode + 4-byte displacement) jump forms.
type Encoding int

const (
	Short Encoding = iota
	Near
)

const (
	// NOP is the single-byte no-op used to erase a jump or pad a
	// length-preserving replacement.
	NOP byte = 0x90
	// Halt is the single-byte opcode planted by reachability probes.
	Halt byte = 0xF4
)

// shortOpcode/nearOpcode tables mirror the original tool's byte tables
// exactly: index i of the mnemonic slice corresponds to index i of the
// opcode slice.
var shortMnemonics = []Mnemonic{JE, JNE, JL, JGE, JLE, JG, JMP}
var shortOpcodes = []byte{0x74, 0x75, 0x7C, 0x7D, 0x7E, 0x7F, 0xEB}

var nearMnemonics = []Mnemonic{JE, JNE, JL, JGE, JLE, JG, JMP}
var nearOpcodes = []byte{0x84, 0x85, 0x8C, 0x8D, 0x8E, 0x8F} // 0F prefix implied; JMP has no near conditional opcode

// shortFlip and nearFlip hold the logical-complement pairing used by the
// condition-flip mutation: je<->jne, jl<->jge, jle<->jg.
var shortFlip = map[byte]byte{
	0x74: 0x75, 0x75: 0x74,
	0x7C: 0x7D, 0x7D: 0x7C,
	0x7E: 0x7F, 0x7F: 0x7E,
}

var nearFlip = map[byte]byte{
	0x84: 0x85, 0x85: 0x84,
	0x8C: 0x8D, 0x8D: 0x8C,
	0x8E: 0x8F, 0x8F: 0x8E,
}

// Site describes one classified occurrence of a mutable opcode at a
// given offset, independent of where it was found in the image.
type Site struct {
	Mnemonic Mnemonic
	Encoding Encoding
	// RawBytes is the complete original instruction encoding: opcode
	// byte(s) plus displacement, exactly as it appears in the image.
	RawBytes []byte
}

// ClassifyShort reports whether b is one of the 1-byte conditional jump
// opcodes (not the unconditional EB form, which is an emission target,
// not a mutation source).
func ClassifyShort(b byte) (Mnemonic, bool) {
	for i, op := range shortOpcodes[:len(shortOpcodes)-1] {
		if op == b {
			return shortMnemonics[i], true
		}
	}
	return "", false
}

// ClassifyNear reports whether b, the byte following a 0x0F prefix, is
// the second byte of one of the 2-byte conditional jump opcodes.
func ClassifyNear(b byte) (Mnemonic, bool) {
	for i, op := range nearOpcodes {
		if op == b {
			return nearMnemonics[i], true
		}
	}
	return "", false
}

// FlipShort returns the logical complement of a 1-byte conditional
// opcode (je -> jne, jl -> jge, jle -> jg, and their reverses).
func FlipShort(b byte) (byte, bool) {
	v, ok := shortFlip[b]
	return v, ok
}

// FlipNear returns the logical complement of a 2-byte conditional
// opcode's second byte.
func FlipNear(b byte) (byte, bool) {
	v, ok := nearFlip[b]
	return v, ok
}

// ShortJMP is the unconditional short jump opcode (0xEB) used to force a
// branch to always be taken while preserving a 2-byte instruction length.
const ShortJMP byte = 0xEB

// OtherShortOpcodes returns the 1-byte conditional opcodes other than
// exclude, in the engine's fixed iteration order, for uniform random
// substitution.
func OtherShortOpcodes(exclude byte) []byte {
	var out []byte
	for _, op := range shortOpcodes[:len(shortOpcodes)-1] {
		if op != exclude {
			out = append(out, op)
		}
	}
	return out
}

// OtherNearOpcodes returns the 2-byte conditional opcodes (second byte
// only) other than exclude, in fixed iteration order.
func OtherNearOpcodes(exclude byte) []byte {
	var out []byte
	for _, op := range nearOpcodes {
		if op != exclude {
			out = append(out, op)
		}
	}
	return out
}

// NameOf maps a full raw encoding back to its mnemonic, used for logging.
func NameOf(raw []byte) (Mnemonic, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("isa: empty instruction bytes")
	}
	if raw[0] == 0x0F && len(raw) >= 2 {
		if m, ok := ClassifyNear(raw[1]); ok {
			return m, nil
		}
		return "", fmt.Errorf("isa: unrecognized near opcode 0F %02X", raw[1])
	}
	if m, ok := ClassifyShort(raw[0]); ok {
		return m, nil
	}
	if raw[0] == ShortJMP {
		return JMP, nil
	}
	return "", fmt.Errorf("isa: unrecognized opcode %02X", raw[0])
}
