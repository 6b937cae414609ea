// Package disasm drives an external disassembler (by default objdump) and
// turns its textual output into a stream of Records: function headers,
// source-line annotations, and instructions, each carrying an absolute
// file offset into the executable image.
//
// Malformed or unparseable lines are skipped, never fatal — per-line
// corruption in disassembler output must not abort discovery (spec §4.1,
// §7).
package disasm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/agroce/muttfuzz/internal/fsutil"
)

// Options configures the external disassembler invocation.
type Options struct {
	// Tool is the disassembler binary name; defaults to "objdump".
	Tool string
	// ExtraArgs are placed after the fixed flags ("-d", "-C",
	// "--file-offsets") and before executablePath.
	ExtraArgs []string
	// Timeout bounds the disassembler run. Zero means no timeout.
	Timeout time.Duration
}

func (o Options) tool() string {
	if o.Tool == "" {
		return "objdump"
	}
	return o.Tool
}

// Run invokes the external disassembler against executablePath and
// parses its stdout into Records. A disassembler that cannot be found,
// or that exits non-zero having produced nothing usable, is a bootstrap
// failure per spec §9 ("fail fast ... rather than silently fuzz the
// un-mutated binary").
func Run(ctx context.Context, executablePath string, opts Options) ([]Record, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if err := fsutil.CheckBinary(opts.tool(), "disassembly"); err != nil {
		return nil, errors.Wrapf(err, "disassembler %q not found in PATH", opts.tool())
	}

	args := append([]string{"-d", "-C", "--file-offsets"}, opts.ExtraArgs...)
	args = append(args, executablePath)

	cmd := exec.CommandContext(ctx, opts.tool(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.WithFields(log.Fields{"tool": opts.tool(), "target": executablePath}).Debug("running disassembler")

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, errors.Wrapf(err, "disassembler %q not found in PATH", opts.tool())
		}
		return nil, errors.Wrapf(err, "disassembler %q failed: %s", opts.tool(), strings.TrimSpace(stderr.String()))
	}

	records, err := Parse(&stdout)
	if err != nil {
		return nil, errors.Wrap(err, "parsing disassembler output")
	}
	if !anyFunctionHeader(records) {
		return nil, errors.Errorf("disassembler %q produced no function headers for %s", opts.tool(), executablePath)
	}
	return records, nil
}

func anyFunctionHeader(records []Record) bool {
	for _, r := range records {
		if r.Kind == FunctionHeader {
			return true
		}
	}
	return false
}

// headerRe matches an objdump --file-offsets function header, e.g.:
//
//	0000000000001140 <Foo::bar(int)> (File Offset: 0x1140):
var headerRe = regexp.MustCompile(`^([0-9a-fA-F]+)\s+<(.+)>\s+\(File Offset:\s*0x([0-9a-fA-F]+)\)\s*:\s*$`)

// sourceRe matches a plain "path:line" source annotation line, with no
// leading tab and no trailing colon-terminated offset syntax.
var sourceRe = regexp.MustCompile(`^\S+:[0-9]+\s*$`)

// Parse reads disassembler output and produces the Record stream. It
// never returns an error for individual malformed lines; it only
// returns an error if the underlying reader fails.
func Parse(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		records          []Record
		currentFunc      string
		sectionDelta     uint64 // file-offset - reported-address, for the current function
		firstInstPending bool
		avoid            bool
	)

	for scanner.Scan() {
		line := scanner.Text()

		if m := headerRe.FindStringSubmatch(line); m != nil {
			addr, err := strconv.ParseUint(m[1], 16, 64)
			if err != nil {
				continue
			}
			fileOff, err := strconv.ParseUint(m[3], 16, 64)
			if err != nil {
				continue
			}
			currentFunc = cleanFunctionName(m[2])
			sectionDelta = fileOff - addr
			firstInstPending = true
			avoid = false
			records = append(records, Record{Kind: FunctionHeader, FunctionName: currentFunc})
			continue
		}

		if currentFunc == "" {
			// Haven't seen a function header yet; nothing to attach this
			// line to.
			continue
		}

		if sourceRe.MatchString(strings.TrimSpace(line)) && !strings.Contains(line, "\t") {
			records = append(records, Record{Kind: SourceAnnotation, SourceTag: strings.TrimSpace(line)})
			continue
		}

		inst, ok := parseInstructionLine(line)
		if !ok {
			continue
		}
		inst.FileOffset += sectionDelta

		if firstInstPending {
			// Patch the most recent FunctionHeader record with its
			// resolved entry offset; entry offsets are recorded
			// unconditionally, even for functions later excluded by a
			// filter (spec §3, §4.2).
			for i := len(records) - 1; i >= 0; i-- {
				if records[i].Kind == FunctionHeader && records[i].FunctionName == currentFunc && records[i].EntryOffset == 0 {
					records[i].EntryOffset = inst.FileOffset
					break
				}
			}
			firstInstPending = false
		}

		if avoid {
			continue
		}

		records = append(records, inst)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning disassembler output")
	}
	return records, nil
}

// cleanFunctionName strips the anonymous-namespace marker objdump emits;
// unlike the filter-time "just name" used for substring matching, this
// keeps the function's full signature for storage and logging.
func cleanFunctionName(name string) string {
	return strings.ReplaceAll(name, "(anonymous namespace)", "")
}

// parseInstructionLine parses a single tab-delimited objdump instruction
// line: "  <hex offset>:\t<hex bytes>\t<mnemonic> <operands>". Lines that
// don't match this shape (including the continuation lines objdump emits
// for long byte sequences) are reported as not-ok and skipped by the
// caller, matching the original tool's "if we can't parse, skip" rule.
func parseInstructionLine(line string) (Record, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) < 3 {
		return Record{}, false
	}

	locField := strings.TrimSpace(fields[0])
	locField = strings.TrimSuffix(locField, ":")
	offset, err := strconv.ParseUint(locField, 16, 64)
	if err != nil {
		return Record{}, false
	}

	hexField := strings.TrimSpace(fields[1])
	hexField = strings.ReplaceAll(hexField, " ", "")
	if len(hexField)%2 != 0 {
		return Record{}, false
	}
	raw, err := hex.DecodeString(hexField)
	if err != nil || len(raw) == 0 {
		return Record{}, false
	}

	mnemonicField := strings.TrimSpace(fields[2])
	parts := strings.Fields(mnemonicField)
	if len(parts) == 0 {
		return Record{}, false
	}

	return Record{
		Kind:       Instruction,
		FileOffset: offset,
		Opcode:     parts[0],
		RawBytes:   raw,
		Line:       line,
	}, true
}

// FormatOffset renders a file offset for log messages: lowercase hex,
// no 0x prefix ambiguity resolved by context. Metadata files do not use
// it; they record offsets in decimal.
func FormatOffset(off uint64) string {
	return fmt.Sprintf("%x", off)
}
