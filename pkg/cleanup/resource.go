// Package cleanup implements the filter/delete pattern used by janitor
// workflows: enumerate resources, keep the ones a predicate matches and
// fan out one delete task per match.
package cleanup

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

// ErrNotFound is returned by a Client when a resource no longer exists.
var ErrNotFound = errors.New("resource not found")

// Kind names a resource type understood by a Client.
type Kind string

// Resource is a provider-neutral view of an external resource.
type Resource struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Name       string            `json:"name,omitempty"`
	State      string            `json:"state,omitempty"`
	Default    bool              `json:"default,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (r Resource) String() string {
	if r.Name != "" {
		return fmt.Sprintf("%s %s (%s)", r.Kind, r.ID, r.Name)
	}
	return fmt.Sprintf("%s %s", r.Kind, r.ID)
}

// Criteria narrows a Describe call. Empty criteria list everything.
type Criteria struct {
	IDs        []string
	Tags       map[string]string
	Attributes map[string]string
}

// Client is the resource collaborator. Implementations must be safe for
// concurrent use. Delete returns ErrNotFound (possibly wrapped) when the
// resource is already gone.
type Client interface {
	Describe(ctx context.Context, kind Kind, criteria Criteria) ([]Resource, error)
	Delete(ctx context.Context, kind Kind, id string) error
}

// Guard protects resources from deletion regardless of the predicate.
type Guard interface {
	Protected(ctx context.Context, r Resource) (bool, string, error)
}

// Outputs produced by filter and delete tasks.
const (
	OutputMatches engine.Output = "cleanup.matches"
	OutputDeleted engine.Output = "cleanup.deleted"
	OutputSkipped engine.Output = "cleanup.skipped"
)

// Inputs read by filter tasks.
const (
	// InputMatch is an optional Starlark expression further narrowing matches.
	InputMatch engine.Input = "cleanup.match"
)
