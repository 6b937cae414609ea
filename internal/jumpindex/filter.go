package jumpindex

import "strings"

// DefaultFunctionExcludes covers fuzzer/sanitizer glue and common libc
// wrappers that are never interesting mutation targets. Kept as a plain
// slice (not a set) so its order is stable for logging.
var DefaultFunctionExcludes = []string{
	"Fuzz",
	"asan",
	"sanitizer",
	"interceptor",
	"printf",
	"memcpy",
	"strcmp",
	"operator new",
	"_init",
	"_fini",
	"__libc_csu",
	"__do_global",
	"LLVMFuzzer",
}

// StandardLibraryPrefixes are demangled-name substrings that mark a
// function as part of the C++ standard library or Boost, excluded
// unless MutateStandardLibraries is set.
var StandardLibraryPrefixes = []string{"std::", "boost::"}

// InstrumentationMarkers appear in a disassembly line when the
// instruction belongs to compiler- or fuzzer-injected instrumentation
// (AFL/ASan/UBSan/sancov/DeepState glue) and must never be mutated
// regardless of function filters.
var InstrumentationMarkers = []string{
	"__afl", "__asan", "__ubsan", "__sanitizer", "__lsan", "__sancov", "AFL_",
	"DeepState", "deepstate",
}

// Filters configures which functions and sites are eligible for
// mutation. Substring semantics throughout: a non-empty include list
// requires a match, an exclude match always wins.
type Filters struct {
	OnlyMutateFunctions   []string
	AvoidMutatingFunctions []string
	OnlySource             []string
	AvoidSource            []string
	MutateStandardLibraries bool
	DisableDefaultExcludes  bool
}

// filterName strips a function's signature (everything from the first
// '(' onward) for substring filter matching, matching the original
// tool's "just_name" normalization. The full name, with signature, is
// still what's stored and logged.
func filterName(fullName string) string {
	if i := indexByte(fullName, '('); i >= 0 {
		return fullName[:i]
	}
	return fullName
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// excludeFunction reports whether fullName should be filtered out of the
// jump index under f.
func (f Filters) excludeFunction(fullName string) bool {
	name := filterName(fullName)

	if !f.DisableDefaultExcludes {
		for _, s := range DefaultFunctionExcludes {
			if strings.Contains(name, s) {
				return true
			}
		}
	}

	if !f.MutateStandardLibraries {
		for _, s := range StandardLibraryPrefixes {
			if strings.Contains(name, s) {
				return true
			}
		}
	}

	for _, s := range f.AvoidMutatingFunctions {
		if strings.Contains(name, s) {
			return true
		}
	}

	if len(f.OnlyMutateFunctions) > 0 {
		found := false
		for _, s := range f.OnlyMutateFunctions {
			if strings.Contains(name, s) {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}

	return false
}

// excludeSource reports whether a source annotation should exclude the
// following instructions from the jump index.
func (f Filters) excludeSource(sourceTag string) bool {
	for _, s := range f.AvoidSource {
		if strings.Contains(sourceTag, s) {
			return true
		}
	}
	if len(f.OnlySource) > 0 {
		for _, s := range f.OnlySource {
			if strings.Contains(sourceTag, s) {
				return false
			}
		}
		return true
	}
	return false
}

// isInstrumentation reports whether a raw disassembly line carries one
// of the known instrumentation markers.
func isInstrumentation(line string) bool {
	for _, m := range InstrumentationMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}
