// Package jumpindex classifies disassembled instructions into mutable
// conditional-jump JumpSites, applies function-name and source-location
// filters, and builds the FunctionMap that the rest of the engine
// replays mutations against.
package jumpindex

import (
	"sort"

	"github.com/agroce/muttfuzz/internal/disasm"
	"github.com/agroce/muttfuzz/internal/isa"
)

// JumpSite is an immutable record of one mutable conditional jump found
// during discovery (spec §3).
type JumpSite struct {
	FileOffset   uint64
	Mnemonic     isa.Mnemonic
	Encoding     isa.Encoding
	RawBytes     []byte
	FunctionName string
	SourceTag    string
	DisasmLine   string
}

// FunctionMap maps function names to their ordered jump-site offsets and
// to their entry offset. Entry offsets are recorded for every function
// seen during discovery, even one entirely filtered out of Sites,
// because probes need to halt at a function's entry regardless of
// whether any of its jumps were eligible for mutation (spec §3, §4.2).
type FunctionMap struct {
	Sites map[string][]uint64
	Entry map[string]uint64
}

// Index is the full result of a discovery pass: the offset->site lookup
// used to pick and synthesize mutations, and the FunctionMap used to
// drive per-function accounting and probes.
type Index struct {
	Sites     map[uint64]*JumpSite
	Functions FunctionMap
}

// Build classifies a disassembly record stream into an Index, applying
// filters. Malformed records were already dropped by the disassembler;
// Build only ever skips a record it cannot classify as a mutable jump.
func Build(records []disasm.Record, filters Filters) *Index {
	idx := &Index{
		Sites: make(map[uint64]*JumpSite),
		Functions: FunctionMap{
			Sites: make(map[string][]uint64),
			Entry: make(map[string]uint64),
		},
	}

	var (
		currentFunc    string
		currentExclude bool
		currentSource  string
	)

	for _, rec := range records {
		switch rec.Kind {
		case disasm.FunctionHeader:
			currentFunc = rec.FunctionName
			currentExclude = filters.excludeFunction(currentFunc)
			currentSource = ""
			// Entry offsets are recorded unconditionally, regardless of
			// the function filter (spec §3 invariant).
			if _, ok := idx.Functions.Entry[currentFunc]; !ok {
				idx.Functions.Entry[currentFunc] = rec.EntryOffset
			}
		case disasm.SourceAnnotation:
			currentSource = rec.SourceTag
		case disasm.Instruction:
			if currentFunc == "" {
				continue
			}
			if isInstrumentation(rec.Line) {
				continue
			}
			if currentExclude {
				continue
			}
			if filters.excludeSource(currentSource) {
				continue
			}

			mnemonic, encoding, ok := classify(rec)
			if !ok {
				continue
			}

			site := &JumpSite{
				FileOffset:   rec.FileOffset,
				Mnemonic:     mnemonic,
				Encoding:     encoding,
				RawBytes:     rec.RawBytes,
				FunctionName: currentFunc,
				SourceTag:    currentSource,
				DisasmLine:   rec.Line,
			}
			idx.Sites[rec.FileOffset] = site
			idx.Functions.Sites[currentFunc] = append(idx.Functions.Sites[currentFunc], rec.FileOffset)
		}
	}

	for fn := range idx.Functions.Sites {
		sort.Slice(idx.Functions.Sites[fn], func(i, j int) bool {
			return idx.Functions.Sites[fn][i] < idx.Functions.Sites[fn][j]
		})
	}

	return idx
}

// classify maps a raw instruction record to a mutable jump mnemonic and
// encoding, confirming the opcode field matches one of the six
// conditional mnemonics the engine mutates (spec §4.2).
func classify(rec disasm.Record) (isa.Mnemonic, isa.Encoding, bool) {
	isConditional := false
	for _, m := range isa.Conditional {
		if string(m) == rec.Opcode {
			isConditional = true
			break
		}
	}
	if !isConditional {
		return "", 0, false
	}

	if len(rec.RawBytes) >= 2 && rec.RawBytes[0] == 0x0F {
		if m, ok := isa.ClassifyNear(rec.RawBytes[1]); ok {
			return m, isa.Near, true
		}
		return "", 0, false
	}
	if len(rec.RawBytes) >= 1 {
		if m, ok := isa.ClassifyShort(rec.RawBytes[0]); ok {
			return m, isa.Short, true
		}
	}
	return "", 0, false
}

// FunctionEntry looks up a function's entry offset; a false result means
// the function is missing from the entry map, which callers surface as
// a fatal internal error (§9 Open Question).
func (idx *Index) FunctionEntry(name string) (uint64, bool) {
	off, ok := idx.Functions.Entry[name]
	return off, ok
}
