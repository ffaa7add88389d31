package cleanup

import (
	"context"
	"sync"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

// FilterTask enumerates resources of one kind, keeps the matches and
// submits one DeleteTask per match.
type FilterTask struct {
	engine.BaseTask

	// Name overrides the declared task name, e.g. "filter-vpcs".
	Name     string
	Client   Client
	Kind     Kind
	Criteria Criteria
	Match    Predicate
	Guard    Guard

	// Out is the output key for the matches. Defaults to OutputMatches.
	Out engine.Output

	// ReportOnly stops after producing the matches.
	ReportOnly bool

	// Delete configures the generated delete tasks.
	Delete DeleteOptions

	mu      sync.Mutex
	deletes []*DeleteTask
}

func (f *FilterTask) DeclaredName() string {
	if f.Name != "" {
		return f.Name
	}
	return "filter-" + string(f.Kind)
}

func (f *FilterTask) IsWrite() bool { return false }

// Deletes returns the delete tasks created by the last Apply.
func (f *FilterTask) Deletes() []*DeleteTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*DeleteTask(nil), f.deletes...)
}

func (f *FilterTask) Apply(ctx context.Context) error {
	if f.Client == nil {
		return f.Fail("no resource client configured")
	}

	match := f.Match
	if match == nil {
		match = All()
	}
	if expr := f.InputString(InputMatch, ""); expr != "" {
		extra, err := CompilePredicate(expr)
		if err != nil {
			return f.FailErr("invalid match expression", err)
		}
		match = And(match, extra)
	}

	candidates, err := f.Client.Describe(ctx, f.Kind, f.Criteria)
	if err != nil {
		return f.FailErr("describe "+string(f.Kind), err)
	}

	matches := make([]Resource, 0, len(candidates))
	for _, r := range candidates {
		ok, err := match(r)
		if err != nil {
			return f.FailErr("match "+r.ID, err)
		}
		if !ok {
			continue
		}
		if f.Guard != nil {
			protected, reason, err := f.Guard.Protected(ctx, r)
			if err != nil {
				return f.FailErr("protection policy", err)
			}
			if protected {
				f.Log().Info().Str("resource", r.ID).Str("reason", reason).Msg("resource protected, not deleting")
				continue
			}
		}
		matches = append(matches, r)
	}

	out := f.Out
	if out == "" {
		out = OutputMatches
	}
	f.Success(out, matches)
	f.Log().Info().Int("candidates", len(candidates)).Int("matches", len(matches)).Msg("filtered " + string(f.Kind))

	if f.ReportOnly || len(matches) == 0 {
		return nil
	}

	f.mu.Lock()
	f.deletes = f.deletes[:0]
	f.mu.Unlock()

	err = engine.ForEach(ctx, f, matches, func(ctx context.Context, r Resource) error {
		d := NewDeleteTask(f.Client, r, f.Delete)
		f.mu.Lock()
		f.deletes = append(f.deletes, d)
		f.mu.Unlock()
		_, err := f.Submit(ctx, d)
		return err
	})

	var deleted, skipped []string
	for _, d := range f.Deletes() {
		if id, ok, _ := engine.OutputString(d, OutputDeleted); ok {
			deleted = append(deleted, id)
		}
		if id, ok, _ := engine.OutputString(d, OutputSkipped); ok {
			skipped = append(skipped, id)
		}
	}
	f.Success(OutputDeleted, deleted)
	f.Success(OutputSkipped, skipped)
	return err
}
