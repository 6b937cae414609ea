// Package orchestrator drives the bootstrap, mutant loop, final fuzz,
// and teardown phases described in spec §4.6, wiring together the
// disassembly, jump index, mutation policy, patch synthesis,
// reachability caches, and subprocess supervisor packages.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/juju/clock"
	atomicfile "github.com/natefinch/atomic"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/agroce/muttfuzz/internal/archive"
	"github.com/agroce/muttfuzz/internal/cache"
	"github.com/agroce/muttfuzz/internal/disasm"
	"github.com/agroce/muttfuzz/internal/errs"
	"github.com/agroce/muttfuzz/internal/fsutil"
	"github.com/agroce/muttfuzz/internal/jumpindex"
	"github.com/agroce/muttfuzz/internal/mutation"
	"github.com/agroce/muttfuzz/internal/patch"
	"github.com/agroce/muttfuzz/internal/supervisor"
)

// Config is everything one Run needs. It mirrors internal/config.Run's
// fields directly rather than importing that package, so orchestrator
// stays usable from tests and from cmd/muttfuzz without a config-file
// round trip.
type Config struct {
	Target string

	FuzzCmd        string
	ReachCmd       string
	PruneCmd       string
	InitialCmd     string
	PostInitialCmd string
	PostMutantCmd  string
	StatusCmd      string

	Budget         time.Duration
	InitialBudget  time.Duration
	FractionMutant float64

	MutantTimeout time.Duration
	ReachTimeout  time.Duration
	PruneTimeout  time.Duration

	Order         int
	AvoidRepeats  bool
	RepeatRetries int

	Filters jumpindex.Filters

	SaveMutants      string
	SaveBinaries     bool
	ResultsCSV       string
	UnreachableCache string

	DisasmTool string

	ScoreMode bool

	// Replay, if non-empty, is a directory of saved .metadata files
	// applied round-robin instead of generating new plans (spec §6
	// Replay).
	Replay string

	// Seed fixes the RNG for deterministic tests; zero means derive one
	// from the wall clock.
	Seed int64

	// Clock is the injectable clock backing budget arithmetic; nil means
	// clock.WallClock.
	Clock clock.Clock
}

// FunctionTally is one row of per-function accounting (spec §4.6 step
// 7, §8 "Accounting").
type FunctionTally struct {
	Kills int
	Hits  int
}

// ResultRecord is one evaluated mutant (spec §6 Outputs).
type ResultRecord struct {
	Metadata string
	Elapsed  time.Duration
	ExitCode int
}

// Orchestrator owns the base image, jump index, caches, accounting, and
// archive for one run.
type Orchestrator struct {
	cfg Config
	clk clock.Clock
	rng *rand.Rand

	base   []byte
	idx    *jumpindex.Index
	caches *cache.Caches
	arch   *archive.Archive
	lock   *flock.Flock

	runID string

	FunctionTallies map[string]*FunctionTally
	Results         []ResultRecord

	replayFiles []string
	replayNext  int
}

// New constructs an Orchestrator; Bootstrap must be called before Run.
func New(cfg Config) (*Orchestrator, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	caches, err := cache.New(cfg.UnreachableCache)
	if err != nil {
		return nil, err
	}
	arch, err := archive.New(cfg.SaveMutants, cfg.SaveBinaries, cfg.ResultsCSV)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:             cfg,
		clk:             clk,
		rng:             rand.New(rand.NewSource(seed)),
		caches:          caches,
		arch:            arch,
		runID:           uuid.NewString(),
		FunctionTallies: make(map[string]*FunctionTally),
	}, nil
}

// Bootstrap reads the base image, builds the jump index, takes the
// run lock, and optionally runs the initial-fuzz and post-initial
// commands (spec §4.6 Bootstrap).
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	o.lock = flock.New(o.cfg.Target + ".muttfuzz.lock")
	locked, err := o.lock.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return errors.Wrap(err, "orchestrator: acquiring run lock")
	}
	if !locked {
		return errors.Errorf("orchestrator: another run already holds the lock on %s", o.cfg.Target)
	}

	if exists, err := fsutil.PathExists(o.cfg.Target); err != nil {
		return errors.Wrapf(err, "orchestrator: checking target %s", o.cfg.Target)
	} else if !exists {
		return errors.Errorf("orchestrator: target %s does not exist", o.cfg.Target)
	}

	base, err := os.ReadFile(o.cfg.Target)
	if err != nil {
		return errors.Wrapf(err, "orchestrator: reading base image %s", o.cfg.Target)
	}
	o.base = base

	opts := disasm.Options{Tool: o.cfg.DisasmTool, Timeout: 60 * time.Second}
	records, err := disasm.Run(ctx, o.cfg.Target, opts)
	if err != nil {
		if strings.Contains(err.Error(), "not found in PATH") {
			return errors.Wrap(errs.ErrDisassemblerMissing, err.Error())
		}
		if strings.Contains(err.Error(), "no function headers") {
			return errors.Wrap(errs.ErrNoFunctionHeaders, err.Error())
		}
		return err
	}

	o.idx = jumpindex.Build(records, o.cfg.Filters)
	if len(o.idx.Sites) == 0 {
		return errs.ErrEmptyJumpIndex
	}

	log.WithField("run_id", o.runID).WithField("sites", len(o.idx.Sites)).Info("jump index built")
	o.logBootstrapReport()

	if o.cfg.Replay != "" {
		files, err := filepath.Glob(filepath.Join(o.cfg.Replay, "*.metadata"))
		if err != nil {
			return errors.Wrap(err, "orchestrator: listing replay directory")
		}
		sort.Strings(files)
		o.replayFiles = files
	}

	if o.cfg.InitialCmd != "" {
		res, err := supervisor.RunShell(ctx, o.cfg.InitialCmd, o.cfg.InitialBudget)
		if err != nil {
			return errors.Wrap(err, "orchestrator: running initial-fuzz command")
		}
		log.WithField("exit_code", res.ExitCode).WithField("timed_out", res.TimedOut).Info("initial fuzz complete")
	}
	if o.cfg.PostInitialCmd != "" {
		if _, err := supervisor.RunShell(ctx, o.cfg.PostInitialCmd, o.cfg.ReachTimeout); err != nil {
			return errors.Wrap(err, "orchestrator: running post-initial command")
		}
	}

	return nil
}

// logBootstrapReport prints per-function site counts as an aligned
// table (spec §4.6 Bootstrap "print per-function site counts").
func (o *Orchestrator) logBootstrapReport() {
	names := make([]string, 0, len(o.idx.Functions.Sites))
	for name := range o.idx.Functions.Sites {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(log.StandardLogger().Out)
	table.SetHeader([]string{"Function", "Mutable Sites"})
	for _, name := range names {
		table.Append([]string{name, itoa(len(o.idx.Functions.Sites[name]))})
	}
	table.Render()
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}

// Run executes the mutant loop and final fuzz phase, guaranteeing
// restoration of the base image on every exit path including a
// terminating signal (spec §4.6 Teardown, §5).
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	defer func() {
		if restoreErr := o.restore(); restoreErr != nil {
			if err == nil {
				err = restoreErr
			} else {
				log.WithError(restoreErr).Error("orchestrator: restoration failed during teardown")
			}
		}
		if o.lock != nil {
			_ = o.lock.Unlock()
		}
	}()

	sigCtx, stop := withTerminationGuard(ctx)
	defer stop()

	if err := o.mutantLoop(sigCtx); err != nil {
		return err
	}
	if err := o.finalFuzz(sigCtx); err != nil {
		return err
	}
	return nil
}

// fractionMutant returns the effective mutant-loop budget fraction,
// forcing 1.0 in score mode (spec §4.6).
func (o *Orchestrator) fractionMutant() float64 {
	if o.cfg.ScoreMode {
		return 1.0
	}
	return o.cfg.FractionMutant
}

// mutantLoop runs generate/gate/install/prune/evaluate/account/
// housekeeping until the mutant-loop budget is exhausted (spec §4.6
// Mutant loop).
func (o *Orchestrator) mutantLoop(ctx context.Context) error {
	deadline := o.clk.Now().Add(time.Duration(float64(o.cfg.Budget-o.cfg.InitialBudget) * o.fractionMutant()))

	for o.clk.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil // cancellation is handled by the deferred teardown in Run
		}

		plan, metadata, err := o.nextPlan()
		if errors.Is(err, errs.ErrAllSitesUnreachable) {
			return err
		}
		if err != nil {
			return err
		}

		alive, err := o.gateReachability(ctx, plan)
		if err != nil {
			return err
		}
		if !alive {
			continue
		}

		artifact, err := patch.Synthesize(o.base, o.idx, plan)
		if err != nil {
			return err
		}
		if err := o.installImage(artifact.Mutant); err != nil {
			return err
		}

		saved, err := o.arch.Save(metadata, artifact.Mutant)
		if err != nil {
			return err
		}

		if o.cfg.PruneCmd != "" {
			res, err := supervisor.RunShell(ctx, o.cfg.PruneCmd, o.cfg.PruneTimeout)
			if err != nil {
				return errors.Wrap(err, "orchestrator: running prune command")
			}
			if res.ExitCode != 0 {
				if err := o.restore(); err != nil {
					return err
				}
				continue
			}
		}

		start := o.clk.Now()
		res, err := supervisor.RunShell(ctx, o.cfg.FuzzCmd, o.cfg.MutantTimeout)
		if err != nil {
			return errors.Wrap(err, "orchestrator: running fuzz command against mutant")
		}
		elapsed := o.clk.Now().Sub(start)

		killed := res.ExitCode != 0
		o.Results = append(o.Results, ResultRecord{Metadata: metadata, Elapsed: elapsed, ExitCode: res.ExitCode})
		if err := o.arch.AppendResult(metadata, elapsed.Seconds(), res.ExitCode); err != nil {
			return err
		}

		o.account(plan, killed)

		if killed {
			if err := o.arch.MarkKilled(saved); err != nil {
				return err
			}
		} else {
			if err := o.arch.MarkSurvived(saved); err != nil {
				return err
			}
		}

		if err := o.housekeep(ctx); err != nil {
			return err
		}
	}
	return nil
}

// gateReachability runs the function probe, then (if it survives) the
// site probe, restoring the base image between and after each (spec
// §4.6 steps 2–3).
func (o *Orchestrator) gateReachability(ctx context.Context, plan patch.Plan) (bool, error) {
	if o.cfg.ReachCmd == "" {
		return true, nil
	}

	functionNames := planFunctionNames(plan)
	siteOffsets := planSiteOffsets(plan)

	if o.caches.FunctionsReachable(functionNames) && o.caches.SitesReachable(siteOffsets) {
		return true, nil
	}

	artifact, err := patch.Synthesize(o.base, o.idx, plan)
	if err != nil {
		return false, err
	}

	if err := o.installImage(artifact.FunctionProbe); err != nil {
		return false, err
	}
	fnRes, err := supervisor.RunShell(ctx, o.cfg.ReachCmd, o.cfg.ReachTimeout)
	if err != nil {
		return false, errors.Wrap(err, "orchestrator: running function-reach probe")
	}
	if err := o.restore(); err != nil {
		return false, err
	}
	if fnRes.ExitCode == 0 {
		for _, name := range functionNames {
			if err := o.caches.MarkFunctionUnreachable(name); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	o.caches.MarkFunctionsReachable(functionNames)

	if err := o.installImage(artifact.JumpProbe); err != nil {
		return false, err
	}
	siteRes, err := supervisor.RunShell(ctx, o.cfg.ReachCmd, o.cfg.ReachTimeout)
	if err != nil {
		return false, errors.Wrap(err, "orchestrator: running site-reach probe")
	}
	if err := o.restore(); err != nil {
		return false, err
	}
	if siteRes.ExitCode == 0 {
		for _, off := range siteOffsets {
			o.caches.MarkSiteUnreachable(off)
		}
		return false, nil
	}
	o.caches.MarkSitesReachable(siteOffsets)

	return true, nil
}

// installImage atomically replaces the target with image (write to a
// sibling temporary path, then rename onto the target, per spec §5)
// and restores the executable bit, which the rename does not preserve
// across a differently-permissioned temp file.
func (o *Orchestrator) installImage(image []byte) error {
	if err := atomicfile.WriteFile(o.cfg.Target, bytes.NewReader(image)); err != nil {
		return errors.Wrap(err, "orchestrator: installing image")
	}
	return os.Chmod(o.cfg.Target, 0o755)
}

// restore writes the retained base image back over the target by
// atomic rename and re-marks it executable (spec §4.6 Teardown, §8
// "Restoration").
func (o *Orchestrator) restore() error {
	if o.base == nil {
		return nil
	}
	return o.installImage(o.base)
}

// account updates per-function (kills, total) tallies (spec §4.6 step
// 7, §8 "Accounting").
func (o *Orchestrator) account(plan patch.Plan, killed bool) {
	seen := make(map[string]bool)
	for _, step := range plan {
		if seen[step.FunctionName] {
			continue
		}
		seen[step.FunctionName] = true
		t, ok := o.FunctionTallies[step.FunctionName]
		if !ok {
			t = &FunctionTally{}
			o.FunctionTallies[step.FunctionName] = t
		}
		t.Hits++
		if killed {
			t.Kills++
		}
	}
}

// housekeep restores the base image, then runs the post-mutant and
// status commands in order (spec §4.6 step 8).
func (o *Orchestrator) housekeep(ctx context.Context) error {
	if o.cfg.PostMutantCmd == "" && o.cfg.StatusCmd == "" {
		return nil
	}
	if err := o.restore(); err != nil {
		return err
	}
	if o.cfg.PostMutantCmd != "" {
		if _, err := supervisor.RunShell(ctx, o.cfg.PostMutantCmd, o.cfg.ReachTimeout); err != nil {
			return errors.Wrap(err, "orchestrator: running post-mutant command")
		}
	}
	if o.cfg.StatusCmd != "" {
		if err := o.restore(); err != nil {
			return err
		}
		if _, err := supervisor.RunShell(ctx, o.cfg.StatusCmd, o.cfg.ReachTimeout); err != nil {
			return errors.Wrap(err, "orchestrator: running status command")
		}
	}
	return nil
}

// finalFuzz restores the base image and spends whatever budget remains
// fuzzing the un-mutated binary, unless score mode or a mutant-loop
// fraction of 1.0 leaves nothing to spend (spec §4.6 Final fuzz).
func (o *Orchestrator) finalFuzz(ctx context.Context) error {
	if o.cfg.ScoreMode || o.fractionMutant() >= 1.0 {
		return nil
	}
	if o.cfg.FuzzCmd == "" {
		return nil
	}
	if err := o.restore(); err != nil {
		return err
	}
	remaining := o.cfg.Budget - o.cfg.InitialBudget - time.Duration(float64(o.cfg.Budget-o.cfg.InitialBudget)*o.fractionMutant())
	if remaining <= 0 {
		return nil
	}
	_, err := supervisor.RunShell(ctx, o.cfg.FuzzCmd, remaining)
	if err != nil {
		return errors.Wrap(err, "orchestrator: running final fuzz command")
	}
	return nil
}

func planFunctionNames(plan patch.Plan) []string {
	seen := make(map[string]bool)
	var names []string
	for _, step := range plan {
		if !seen[step.FunctionName] {
			seen[step.FunctionName] = true
			names = append(names, step.FunctionName)
		}
	}
	sort.Strings(names)
	return names
}

func planSiteOffsets(plan patch.Plan) []uint64 {
	offsets := make([]uint64, len(plan))
	for i, step := range plan {
		offsets[i] = step.SiteOffset
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

// ScoreTable renders the per-function mutation score table used by the
// "score" subcommand (SPEC_FULL "Mutation-score mode").
func (o *Orchestrator) ScoreTable() [][]string {
	names := make([]string, 0, len(o.FunctionTallies))
	for name := range o.FunctionTallies {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		t := o.FunctionTallies[name]
		score := 0.0
		if t.Hits > 0 {
			score = float64(t.Kills) / float64(t.Hits)
		}
		rows = append(rows, []string{
			name,
			itoa(len(o.idx.Functions.Sites[name])),
			itoa(t.Hits),
			itoa(t.Kills),
			scoreString(score),
		})
	}
	return rows
}

func scoreString(score float64) string {
	return fmt.Sprintf("%.3f", score)
}

// withTerminationGuard wraps ctx so an incoming SIGINT/SIGTERM cancels
// it, letting Run's deferred restoration run before the process exits
// (spec §5 "signal handler or equivalent scope guard").
func withTerminationGuard(parent context.Context) (context.Context, func()) {
	return installSignalGuard(parent)
}

// nextPlan either reads the next replay metadata file or generates a
// fresh MutationPlan under the mutation/cache policy (spec §4.6 step 1,
// §6 Replay).
func (o *Orchestrator) nextPlan() (patch.Plan, string, error) {
	if o.cfg.Replay != "" {
		return o.nextReplayPlan()
	}
	return o.generatePlan()
}

func (o *Orchestrator) nextReplayPlan() (patch.Plan, string, error) {
	if len(o.replayFiles) == 0 {
		return nil, "", errors.New("orchestrator: replay directory has no .metadata files")
	}
	path := o.replayFiles[o.replayNext%len(o.replayFiles)]
	o.replayNext++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", errors.Wrapf(err, "orchestrator: reading replay metadata %s", path)
	}
	plan, err := patch.ParseMetadata(string(data), o.idx)
	if err != nil {
		return nil, "", errors.Wrapf(err, "orchestrator: parsing replay metadata %s", path)
	}
	return plan, string(data), nil
}

// generatePlan draws o.cfg.Order sites (excluding functions/sites the
// caches have proven unreachable), applies the mutation policy to each,
// and honors the dedup/repeat-retry policy of spec §4.5 / §7.
func (o *Orchestrator) generatePlan() (patch.Plan, string, error) {
	order := o.cfg.Order
	if order <= 0 {
		order = 1
	}

	candidates := o.candidateOffsets()
	if len(candidates) == 0 {
		return nil, "", errs.ErrAllSitesUnreachable
	}

	maxDraws := 10 * len(o.idx.Sites)

	var plan patch.Plan
	for i := 0; i < order; i++ {
		step, ok := o.drawStep(candidates, maxDraws)
		if !ok {
			return nil, "", errs.ErrAllSitesUnreachable
		}
		plan = append(plan, step)
	}

	metadata, err := patch.WriteMetadata(plan, o.idx)
	if err != nil {
		return nil, "", err
	}
	return plan, metadata, nil
}

func (o *Orchestrator) candidateOffsets() []uint64 {
	offsets := make([]uint64, 0, len(o.idx.Sites))
	for off, site := range o.idx.Sites {
		if o.caches.IsFunctionUnreachable(site.FunctionName) {
			continue
		}
		if o.caches.IsSiteUnreachable(off) {
			continue
		}
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

func (o *Orchestrator) drawStep(candidates []uint64, maxDraws int) (patch.Step, bool) {
	for attempt := 0; attempt < maxDraws; attempt++ {
		off := candidates[o.rng.Intn(len(candidates))]
		site := o.idx.Sites[off]
		_, repl := mutation.Choose(o.rng, site)
		key := cache.NewMutantKey(off, repl)

		if o.cfg.AvoidRepeats && o.caches.VisitCount(key) > 0 {
			if attempt < o.cfg.RepeatRetries {
				continue
			}
			if least, ok := o.caches.LeastVisited(o.shuffleKeys); ok {
				key = least
				off = least.SiteOffset
				site = o.idx.Sites[off]
				repl = mustDecodeReplacement(key)
			}
		}

		o.caches.RecordVisit(key)
		return patch.Step{FunctionName: site.FunctionName, SiteOffset: off, Replacement: repl}, true
	}
	return patch.Step{}, false
}

func (o *Orchestrator) shuffleKeys(keys []cache.MutantKey) {
	o.rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
}

// mustDecodeReplacement recovers the replacement bytes from a
// least-visited fallback key's hex-encoded form.
func mustDecodeReplacement(key cache.MutantKey) []byte {
	b, err := hex.DecodeString(key.Replacement)
	if err != nil {
		return nil
	}
	return b
}
