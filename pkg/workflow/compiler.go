package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/siteflow/siteflow/pkg/logger"
	"github.com/siteflow/siteflow/pkg/site"
)

var compilerLog = logger.New("workflow:compiler")

// Linter checks rendered workflow text with an external tool and reports
// findings as diagnostics. Implementations must degrade to warning
// diagnostics when the tool is unavailable. Finding severity is policy:
// warning-severity findings are advisory, error-severity findings block
// generation like any other fatal diagnostic.
type Linter interface {
	Lint(ctx context.Context, name string, rendered string) []Diagnostic
}

// Options configures a Compiler.
type Options struct {
	Store         *site.Store
	TemplatesDir  string // empty selects the built-in templates
	OutputDir     string
	SchemaVersion string
	Linter        Linter
	MaxParallel   int
	Verbose       bool
}

// Compiler drives (site, kind) pipelines: render, parse, validate, lint,
// normalize, re-validate, write. Pipelines are independent; batch
// operations fan out over a bounded worker pool.
type Compiler struct {
	store         *site.Store
	renderer      *Renderer
	writer        *Writer
	linter        Linter
	outputDir     string
	schemaVersion string
	maxParallel   int
	verbose       bool
	lintSem       chan struct{}
}

// NewCompiler creates a compiler from options, applying defaults for the
// schema version and worker bound.
func NewCompiler(opts Options) *Compiler {
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = min(runtime.NumCPU(), 4)
	}
	schemaVersion := opts.SchemaVersion
	if schemaVersion == "" {
		schemaVersion = DefaultSchemaVersion
	}
	return &Compiler{
		store:         opts.Store,
		renderer:      NewRenderer(opts.TemplatesDir),
		writer:        NewWriter(),
		linter:        opts.Linter,
		outputDir:     opts.OutputDir,
		schemaVersion: schemaVersion,
		maxParallel:   maxParallel,
		verbose:       opts.Verbose,
		lintSem:       make(chan struct{}, maxParallel),
	}
}

// OutputPath returns the target file for a (site, kind) pair.
func (c *Compiler) OutputPath(siteID string, kind Kind) string {
	return filepath.Join(c.outputDir, fmt.Sprintf("%s-%s.yml", siteID, kind))
}

// GenerateOne runs a single (site, kind) pipeline.
func (c *Compiler) GenerateOne(ctx context.Context, siteID string, kind Kind) GenerationResult {
	cfg, err := c.store.Get(siteID)
	if err != nil {
		return GenerationResult{Site: siteID, Kind: kind, Status: StatusFailure, Err: err}
	}
	return c.pipeline(ctx, cfg, kind)
}

// GenerateAll runs every applicable (site, kind) pipeline and removes
// orphaned outputs for sites that no longer exist.
func (c *Compiler) GenerateAll(ctx context.Context) []GenerationResult {
	var pairs []pair
	for _, cfg := range c.store.All() {
		for _, kind := range siteKinds(cfg) {
			pairs = append(pairs, pair{cfg: cfg, kind: kind})
		}
	}
	results := c.run(ctx, pairs)
	c.purgeOrphans(pairs)
	return results
}

// Update regenerates the named subset of sites. Unknown site ids become
// failed results rather than aborting the batch.
func (c *Compiler) Update(ctx context.Context, siteIDs []string) []GenerationResult {
	var pairs []pair
	var results []GenerationResult
	for _, id := range siteIDs {
		cfg, err := c.store.Get(id)
		if err != nil {
			results = append(results, GenerationResult{Site: id, Kind: "", Status: StatusFailure, Err: err})
			continue
		}
		for _, kind := range siteKinds(cfg) {
			pairs = append(pairs, pair{cfg: cfg, kind: kind})
		}
	}
	return append(results, c.run(ctx, pairs)...)
}

type pair struct {
	cfg  *site.Config
	kind Kind
}

// run fans the pipeline out over a bounded pool. Started pipelines run to
// completion on cancellation; unstarted ones are skipped.
func (c *Compiler) run(ctx context.Context, pairs []pair) []GenerationResult {
	compilerLog.Printf("Running %d pipeline(s) with %d worker(s)", len(pairs), c.maxParallel)

	p := pool.NewWithResults[GenerationResult]().WithMaxGoroutines(c.maxParallel)
	for _, pr := range pairs {
		pr := pr
		p.Go(func() GenerationResult {
			if err := ctx.Err(); err != nil {
				return GenerationResult{
					Site:   pr.cfg.ID,
					Kind:   pr.kind,
					Status: StatusFailure,
					Err:    fmt.Errorf("pipeline skipped: %w", err),
				}
			}
			return c.pipeline(ctx, pr.cfg, pr.kind)
		})
	}
	results := p.Wait()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Site != results[j].Site {
			return results[i].Site < results[j].Site
		}
		return results[i].Kind < results[j].Kind
	})
	return results
}

// pipeline is one full generation pass for a (site, kind) pair. All errors
// are captured into the result; nothing propagates to the batch caller.
func (c *Compiler) pipeline(ctx context.Context, cfg *site.Config, kind Kind) GenerationResult {
	result := GenerationResult{Site: cfg.ID, Kind: kind, OutputPath: c.OutputPath(cfg.ID, kind)}
	fail := func(err error) GenerationResult {
		result.Status = StatusFailure
		result.Err = err
		return result
	}

	strategy, err := ForKind(kind)
	if err != nil {
		return fail(err)
	}

	rendered, err := c.renderer.Render(strategy.TemplateName(), strategy.Params(cfg))
	if err != nil {
		return fail(err)
	}

	model, err := Parse(rendered)
	if err != nil {
		return fail(err)
	}

	validator := NewValidator(c.schemaVersion).WithDeclaredSecrets(declaredSecrets(cfg))
	diags := validator.Validate(model)

	var lintDiags []Diagnostic
	if c.linter != nil {
		c.lintSem <- struct{}{}
		lintDiags = c.linter.Lint(ctx, fmt.Sprintf("%s-%s", cfg.ID, kind), rendered)
		<-c.lintSem
	}

	normalizer := NewNormalizer()
	for _, rule := range strategy.Rules() {
		normalizer.AddRule(rule)
	}
	applied := normalizer.Fix(model, append(append([]Diagnostic{}, diags...), lintDiags...))
	if len(applied) > 0 {
		compilerLog.Printf("site=%s kind=%s applied fix rule(s): %s", cfg.ID, kind, strings.Join(applied, ", "))
	}

	residual := append(validator.Validate(model), lintDiags...)
	result.Diagnostics = residual
	if countFatal(residual) > 0 {
		return fail(&UnresolvedViolationsError{Diagnostics: residual})
	}

	changed, err := c.writer.Write(result.OutputPath, Emit(model))
	if err != nil {
		return fail(err)
	}

	result.Changed = changed
	if changed {
		result.Status = StatusSuccess
	} else {
		result.Status = StatusUnchanged
	}
	return result
}

// purgeOrphans removes generated files under the output directory whose
// (site, kind) pair is no longer expected.
func (c *Compiler) purgeOrphans(pairs []pair) {
	expected := make(map[string]bool, len(pairs))
	for _, pr := range pairs {
		expected[c.OutputPath(pr.cfg.ID, pr.kind)] = true
	}

	matches, err := filepath.Glob(filepath.Join(c.outputDir, "*.yml"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if expected[path] {
			continue
		}
		if !isGeneratedFile(path) {
			continue
		}
		if err := os.Remove(path); err == nil {
			compilerLog.Printf("Removed orphaned output: %s", path)
		}
	}
}

// isGeneratedFile recognizes our own outputs by the generated-region marker
// so hand-written workflows are never purged.
func isGeneratedFile(path string) bool {
	content, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(content), GeneratedBeginMarker)
}

func declaredSecrets(cfg *site.Config) []string {
	refs := make([]string, 0, len(cfg.Env))
	for _, ref := range cfg.Env {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

func siteKinds(cfg *site.Config) []Kind {
	if len(cfg.Kinds) == 0 {
		return Kinds
	}
	var kinds []Kind
	for _, k := range cfg.Kinds {
		kind, err := ParseKind(k)
		if err != nil {
			compilerLog.Printf("Site %s declares unknown kind %q, skipping", cfg.ID, k)
			continue
		}
		kinds = append(kinds, kind)
	}
	return kinds
}

// AnyFailed reports whether any pipeline in a batch ended in failure. The
// process exit code is derived from this.
func AnyFailed(results []GenerationResult) bool {
	for _, r := range results {
		if r.Failed() {
			return true
		}
	}
	return false
}
