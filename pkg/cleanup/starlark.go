package cleanup

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// maxSteps bounds a single predicate evaluation.
const maxSteps = 1_000_000

// CompilePredicate builds a Predicate from a Starlark expression evaluated
// against a "resource" struct with fields id, kind, name, state, default,
// tags and attributes. For example:
//
//	resource.name.startswith("ci-") and resource.tags.get("keep") != "true"
func CompilePredicate(expr string) (Predicate, error) {
	if _, err := syntax.ParseExpr("match", expr, 0); err != nil {
		return nil, fmt.Errorf("invalid match expression: %w", err)
	}

	return func(r Resource) (bool, error) {
		thread := &starlark.Thread{
			Name:  "match",
			Print: func(*starlark.Thread, string) {},
		}
		thread.SetMaxExecutionSteps(maxSteps)

		env := starlark.StringDict{"resource": resourceValue(r)}
		v, err := starlark.Eval(thread, "match", expr, env)
		if err != nil {
			return false, fmt.Errorf("match expression on %s: %w", r.ID, err)
		}
		return bool(v.Truth()), nil
	}, nil
}

func resourceValue(r Resource) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"id":         starlark.String(r.ID),
		"kind":       starlark.String(string(r.Kind)),
		"name":       starlark.String(r.Name),
		"state":      starlark.String(r.State),
		"default":    starlark.Bool(r.Default),
		"tags":       stringDict(r.Tags),
		"attributes": stringDict(r.Attributes),
	})
}

func stringDict(m map[string]string) *starlark.Dict {
	d := starlark.NewDict(len(m))
	for k, v := range m {
		// SetKey only fails on unhashable keys or a frozen dict.
		_ = d.SetKey(starlark.String(k), starlark.String(v))
	}
	return d
}
