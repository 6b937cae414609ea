// Package cache implements the three in-memory tables (plus optional
// on-disk persistence) that gate mutation-site selection and dedup
// (spec §4.5, §8 "Cache monotonicity" and "Dedup"):
//
//   - unreachable functions/sites: never select a site proven unreachable
//   - reachable tuples: ephemeral positive cache, keyed by a plan's full
//     sorted function-name tuple and site-offset tuple
//   - visited mutants: dedup counter with a least-visited fallback
package cache

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// reachableTTL bounds how long a demonstrated-reachable plan shape is
// trusted before the orchestrator re-probes it; a long-running session
// can see the corpus regress, so positive evidence ages out (spec §4.5).
const reachableTTL = 30 * time.Minute

// MutantKey identifies one (site, replacement) pair for dedup purposes.
type MutantKey struct {
	SiteOffset  uint64
	Replacement string // hex-encoded replacement bytes
}

// NewMutantKey builds a MutantKey from a site offset and replacement.
func NewMutantKey(offset uint64, replacement []byte) MutantKey {
	return MutantKey{SiteOffset: offset, Replacement: hex.EncodeToString(replacement)}
}

// Caches bundles the three tables behind a single mutex; the engine is
// single-threaded per spec §5, but the mutex keeps the type safe to
// reuse from tests that exercise it concurrently.
type Caches struct {
	mu sync.Mutex

	unreachableFunctions map[string]bool
	unreachableSites     map[uint64]bool
	reachable            *gocache.Cache
	visited              map[MutantKey]int

	persistPath string
}

// New constructs an empty Caches, optionally loading a previously
// persisted unreachable-functions file (one name per line).
func New(persistPath string) (*Caches, error) {
	c := &Caches{
		unreachableFunctions: make(map[string]bool),
		unreachableSites:     make(map[uint64]bool),
		reachable:            gocache.New(reachableTTL, reachableTTL/2),
		visited:              make(map[MutantKey]int),
		persistPath:          persistPath,
	}
	if persistPath == "" {
		return c, nil
	}
	f, err := os.Open(persistPath)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "cache: opening unreachable-function cache")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			c.unreachableFunctions[name] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "cache: reading unreachable-function cache")
	}
	return c, nil
}

// MarkFunctionUnreachable records name as unreachable. Once added, a
// function is never selected again for the remainder of the run (spec
// §8 "Cache monotonicity"). If persistence is configured, the name is
// appended immediately so a crash doesn't lose the discovery.
func (c *Caches) MarkFunctionUnreachable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unreachableFunctions[name] {
		return nil
	}
	c.unreachableFunctions[name] = true

	if c.persistPath == "" {
		return nil
	}
	f, err := os.OpenFile(c.persistPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "cache: opening unreachable-function cache for append")
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, name); err != nil {
		return errors.Wrap(err, "cache: appending to unreachable-function cache")
	}
	return nil
}

// IsFunctionUnreachable reports whether name was previously proven
// unreachable.
func (c *Caches) IsFunctionUnreachable(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreachableFunctions[name]
}

// MarkSiteUnreachable records a site offset as unreachable. Not
// persisted across runs (spec §4.5).
func (c *Caches) MarkSiteUnreachable(offset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unreachableSites[offset] = true
}

// IsSiteUnreachable reports whether offset was previously proven
// unreachable.
func (c *Caches) IsSiteUnreachable(offset uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreachableSites[offset]
}

// functionsKey and sitesKey build stable cache keys for the reachable
// positive cache, one namespace per kind so a function-name tuple can
// never collide with a site-offset tuple.
func functionsKey(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return "fn:" + strings.Join(sorted, ",")
}

func sitesKey(offsets []uint64) string {
	parts := make([]string, len(offsets))
	for i, o := range offsets {
		parts[i] = fmt.Sprintf("%x", o)
	}
	sort.Strings(parts)
	return "site:" + strings.Join(parts, ",")
}

// MarkFunctionsReachable records that the given function-name tuple has
// been demonstrated reachable, so a future plan with the same set of
// functions can skip the function-probe run.
func (c *Caches) MarkFunctionsReachable(names []string) {
	c.reachable.Set(functionsKey(names), true, gocache.DefaultExpiration)
}

// FunctionsReachable reports whether the function-name tuple was
// recently demonstrated reachable. The key is the whole sorted tuple, so
// a multi-function plan only matches an entry recorded for exactly the
// same set of functions; per-function results are never combined
// (spec §4.5).
func (c *Caches) FunctionsReachable(names []string) bool {
	_, ok := c.reachable.Get(functionsKey(names))
	return ok
}

// MarkSitesReachable records that the given site-offset tuple has been
// demonstrated reachable.
func (c *Caches) MarkSitesReachable(offsets []uint64) {
	c.reachable.Set(sitesKey(offsets), true, gocache.DefaultExpiration)
}

// SitesReachable reports whether the site-offset tuple was recently
// demonstrated reachable.
func (c *Caches) SitesReachable(offsets []uint64) bool {
	_, ok := c.reachable.Get(sitesKey(offsets))
	return ok
}

// RecordVisit increments key's visit counter, used by the dedup policy.
func (c *Caches) RecordVisit(key MutantKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visited[key]++
}

// VisitCount returns how many times key has been produced so far.
func (c *Caches) VisitCount(key MutantKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visited[key]
}

// LeastVisited returns the (site, replacement) pair with the fewest
// recorded visits, used when the repeat-retry budget is exhausted (spec
// §4.5, §7 "Repeat-mutant budget exhausted"). Ties are broken by a
// shuffle so repeated exhaustion doesn't always reuse the same entry.
func (c *Caches) LeastVisited(shuffle func([]MutantKey)) (MutantKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.visited) == 0 {
		return MutantKey{}, false
	}
	keys := make([]MutantKey, 0, len(c.visited))
	for k := range c.visited {
		keys = append(keys, k)
	}
	if shuffle != nil {
		shuffle(keys)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return c.visited[keys[i]] < c.visited[keys[j]]
	})
	log.WithField("candidates", len(keys)).Warn("repeat-mutant retries exhausted, reusing least-visited mutant")
	return keys[0], true
}
