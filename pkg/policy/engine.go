package policy

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/cloudjanitor/cloudjanitor/pkg/cleanup"
)

// Engine decides which resources must never be deleted. It implements
// cleanup.Guard.
type Engine struct {
	mu          sync.RWMutex
	policies    map[string]*Policy
	query       *rego.PreparedEvalQuery
	logger      zerolog.Logger
	now         func() time.Time
	executionID string
}

var _ cleanup.Guard = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time policies see as input.context.now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithExecutionID tags evaluations with the run id.
func WithExecutionID(id string) Option {
	return func(e *Engine) { e.executionID = id }
}

// WithoutBuiltins starts the engine with no policies.
func WithoutBuiltins() Option {
	return func(e *Engine) { e.policies = make(map[string]*Policy) }
}

// NewEngine creates a policy engine loaded with the built-in policies.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*Policy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		now:      time.Now,
	}
	now := time.Now()
	for _, p := range BuiltinPolicies() {
		p.LoadedAt = now
		e.policies[p.Name] = &p
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.compile(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

// LoadPolicies adds the policies found at paths, replacing any of the
// same name.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	previous := maps.Clone(e.policies)
	for i := range policies {
		p := policies[i]
		e.policies[p.Name] = &p
	}
	if err := e.compileLocked(ctx); err != nil {
		e.policies = previous
		return err
	}
	e.logger.Info().Int("count", len(policies)).Msg("Policies loaded")
	return nil
}

// Protected evaluates every enabled policy against r.
func (e *Engine) Protected(ctx context.Context, r cleanup.Resource) (bool, string, error) {
	d, err := e.Decide(ctx, r)
	if err != nil {
		return false, "", err
	}
	return d.Protected(), strings.Join(d.Reasons, "; "), nil
}

// Decide returns the protection reasons for r, sorted.
func (e *Engine) Decide(ctx context.Context, r cleanup.Resource) (Decision, error) {
	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	d := Decision{Resource: r.ID}
	if query == nil {
		return d, nil
	}

	input := Input{
		Resource: r,
		Context:  Context{Now: e.now().UTC().Format(time.RFC3339), ExecutionID: e.executionID},
	}
	rs, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return d, fmt.Errorf("policy evaluation error: %w", err)
	}
	for _, result := range rs {
		for _, expr := range result.Expressions {
			reasons, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, reason := range reasons {
				d.Reasons = append(d.Reasons, fmt.Sprint(reason))
			}
		}
	}
	sort.Strings(d.Reasons)

	e.logger.Debug().
		Str("resource", r.ID).
		Strs("reasons", d.Reasons).
		Msg("Protection evaluated")
	return d, nil
}

func (e *Engine) compile(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compileLocked(ctx)
}

// compileLocked prepares one query over all enabled modules.
func (e *Engine) compileLocked(ctx context.Context) error {
	opts := []func(*rego.Rego){rego.Query(Query)}
	enabled := 0
	for _, name := range e.namesLocked() {
		p := e.policies[name]
		if !p.Enabled {
			continue
		}
		module, err := ast.ParseModule(p.Name+".rego", p.Rego)
		if err != nil {
			return fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
		}
		if got := module.Package.Path.String(); got != "data."+Package {
			return fmt.Errorf("policy %s: package %s, want %s", p.Name, strings.TrimPrefix(got, "data."), Package)
		}
		opts = append(opts, rego.Module(p.Name+".rego", p.Rego))
		enabled++
	}
	if enabled == 0 {
		e.query = nil
		return nil
	}

	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}
	e.query = &query
	e.logger.Debug().Int("policies", enabled).Msg("Policies compiled")
	return nil
}

func (e *Engine) namesLocked() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, 0, len(e.policies))
	for _, name := range e.namesLocked() {
		out = append(out, *e.policies[name])
	}
	return out
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(ctx context.Context, name string) error {
	return e.setEnabled(ctx, name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(ctx context.Context, name string) error {
	return e.setEnabled(ctx, name, false)
}

func (e *Engine) setEnabled(ctx context.Context, name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	was := p.Enabled
	p.Enabled = enabled
	if err := e.compileLocked(ctx); err != nil {
		p.Enabled = was
		return err
	}
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
