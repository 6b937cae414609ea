// Package patch synthesizes the three byte buffers that make up a
// MutantArtifact (spec §3, §4.4): the mutant itself, a jump-reachability
// probe, and a function-reachability probe. It also defines the
// line-delimited, replayable metadata format for a MutationPlan.
package patch

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/agroce/muttfuzz/internal/errs"
	"github.com/agroce/muttfuzz/internal/isa"
	"github.com/agroce/muttfuzz/internal/jumpindex"
)

// Step is one (function, site, replacement) tuple of a MutationPlan.
type Step struct {
	FunctionName string
	SiteOffset   uint64
	Replacement  []byte
}

// Plan is the replayable unit of mutation: an ordered list of Steps for
// an order-k mutant (spec §3).
type Plan []Step

// Artifact holds the three byte buffers derived from one base image and
// Plan (spec §3 MutantArtifact).
type Artifact struct {
	Mutant        []byte
	JumpProbe     []byte
	FunctionProbe []byte
}

// Synthesize copies base three times and applies plan's edits to
// produce a Mutant, a JumpProbe (halt byte at each site, NOP for the
// remainder of the site's bytes), and a FunctionProbe (halt byte at
// each plan function's entry). It validates every invariant from spec
// §3 before editing: offsets in range, original bytes matching the
// jump index, and replacement length equal to original length.
func Synthesize(base []byte, idx *jumpindex.Index, plan Plan) (*Artifact, error) {
	mutant := make([]byte, len(base))
	jumpProbe := make([]byte, len(base))
	functionProbe := make([]byte, len(base))
	copy(mutant, base)
	copy(jumpProbe, base)
	copy(functionProbe, base)

	seenFunctions := make(map[string]bool)

	for _, step := range plan {
		site, ok := idx.Sites[step.SiteOffset]
		if !ok {
			return nil, errors.Errorf("patch: site at offset 0x%x not present in jump index", step.SiteOffset)
		}
		if site.FunctionName != step.FunctionName {
			return nil, errors.Errorf("patch: site at offset 0x%x belongs to function %q, plan says %q",
				step.SiteOffset, site.FunctionName, step.FunctionName)
		}
		if len(step.Replacement) != len(site.RawBytes) {
			return nil, errors.Errorf("patch: replacement for site 0x%x has length %d, want %d",
				step.SiteOffset, len(step.Replacement), len(site.RawBytes))
		}

		end := step.SiteOffset + uint64(len(site.RawBytes))
		if end > uint64(len(base)) {
			return nil, errors.Errorf("patch: site 0x%x extends past end of image", step.SiteOffset)
		}
		for i, b := range site.RawBytes {
			if base[step.SiteOffset+uint64(i)] != b {
				return nil, errors.Errorf("patch: image byte at 0x%x does not match jump index (found %02x, expected %02x)",
					step.SiteOffset+uint64(i), base[step.SiteOffset+uint64(i)], b)
			}
		}

		for i, b := range step.Replacement {
			off := step.SiteOffset + uint64(i)
			mutant[off] = b
			if i == 0 {
				jumpProbe[off] = isa.Halt
			} else {
				jumpProbe[off] = isa.NOP
			}
		}

		if !seenFunctions[step.FunctionName] {
			seenFunctions[step.FunctionName] = true
			entry, ok := idx.FunctionEntry(step.FunctionName)
			if !ok {
				return nil, errors.Wrapf(errs.ErrMissingEntryOffset, "patch: function %q referenced by plan has no recorded entry offset", step.FunctionName)
			}
			if entry >= uint64(len(base)) {
				return nil, errors.Errorf("patch: entry offset 0x%x for function %q is out of range", entry, step.FunctionName)
			}
			functionProbe[entry] = isa.Halt
		}
	}

	return &Artifact{Mutant: mutant, JumpProbe: jumpProbe, FunctionProbe: functionProbe}, nil
}

// WriteMetadata renders plan in the line-delimited format of spec §4.4:
// for each step, the function name, the site offset relative to the
// function's entry, the replacement length, then one line per
// replacement byte as its unsigned decimal value.
func WriteMetadata(plan Plan, idx *jumpindex.Index) (string, error) {
	var b strings.Builder
	for _, step := range plan {
		entry, ok := idx.FunctionEntry(step.FunctionName)
		if !ok {
			return "", errors.Wrapf(errs.ErrMissingEntryOffset, "patch: function %q has no recorded entry offset", step.FunctionName)
		}
		if step.SiteOffset < entry {
			return "", errors.Errorf("patch: site 0x%x precedes entry 0x%x of function %q", step.SiteOffset, entry, step.FunctionName)
		}
		rel := step.SiteOffset - entry

		fmt.Fprintln(&b, step.FunctionName)
		fmt.Fprintln(&b, rel)
		fmt.Fprintln(&b, len(step.Replacement))
		for _, by := range step.Replacement {
			fmt.Fprintln(&b, by)
		}
	}
	return b.String(), nil
}

// ParseMetadata reconstructs a Plan from the format WriteMetadata
// produces, resolving each step's absolute site offset via idx's
// entry-offset map. Given the same base image, jump index, and
// metadata, Synthesize on the result reproduces the original mutant
// bit-for-bit (spec §4.4 round-trip requirement).
func ParseMetadata(data string, idx *jumpindex.Index) (Plan, error) {
	scanner := bufio.NewScanner(strings.NewReader(data))
	var plan Plan

	for scanner.Scan() {
		functionName := scanner.Text()
		if functionName == "" {
			continue
		}
		if !scanner.Scan() {
			return nil, errors.New("patch: metadata truncated reading relative offset")
		}
		rel, err := strconv.ParseUint(scanner.Text(), 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "patch: metadata relative offset")
		}
		if !scanner.Scan() {
			return nil, errors.New("patch: metadata truncated reading replacement length")
		}
		length, err := strconv.Atoi(scanner.Text())
		if err != nil {
			return nil, errors.Wrap(err, "patch: metadata replacement length")
		}

		repl := make([]byte, length)
		for i := 0; i < length; i++ {
			if !scanner.Scan() {
				return nil, errors.New("patch: metadata truncated reading replacement bytes")
			}
			v, err := strconv.Atoi(scanner.Text())
			if err != nil || v < 0 || v > 255 {
				return nil, errors.Errorf("patch: metadata replacement byte %q out of range", scanner.Text())
			}
			repl[i] = byte(v)
		}

		entry, ok := idx.FunctionEntry(functionName)
		if !ok {
			return nil, errors.Wrapf(errs.ErrMissingEntryOffset, "patch: metadata references function %q with no recorded entry offset", functionName)
		}

		plan = append(plan, Step{
			FunctionName: functionName,
			SiteOffset:   entry + rel,
			Replacement:  repl,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "patch: scanning metadata")
	}
	return plan, nil
}
