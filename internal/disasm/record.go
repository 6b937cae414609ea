package disasm

// Kind distinguishes the three record shapes the ingest stream produces.
type Kind int

const (
	// FunctionHeader marks the start of a new function's disassembly,
	// e.g. objdump's "<name> (File Offset: 0x...)". function headers are
	// always followed, somewhere before the next header, by the
	// function's first Instruction record.
	FunctionHeader Kind = iota
	// SourceAnnotation is a source-line marker ("path:line") interleaved
	// with instructions by tools run with source annotation enabled.
	SourceAnnotation
	// Instruction is a single disassembled instruction line.
	Instruction
)

// Record is one parsed line of disassembler output. Only the fields
// relevant to Kind are populated.
type Record struct {
	Kind Kind

	// FunctionHeader
	FunctionName string // demangled, with signature, angle brackets stripped
	EntryOffset  uint64 // absolute file offset of the function's first byte

	// SourceAnnotation
	SourceTag string // "path:line", verbatim

	// Instruction
	FileOffset uint64 // absolute file offset of this instruction
	Opcode     string // first whitespace-delimited token of the mnemonic column
	RawBytes   []byte // the instruction's raw encoding bytes
	Line       string // the original disassembly line, for logging
}
