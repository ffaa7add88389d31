package cleanup

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

// DeleteOptions tune the delete tasks a filter generates.
type DeleteOptions struct {
	// NonDeletable lists transitional states in which a delete is skipped.
	NonDeletable []string

	// GoneStates are states that count as deleted, e.g. "terminated".
	GoneStates []string

	// AwaitGone waits (short preset) until the resource is gone.
	AwaitGone bool

	// WaitAfterRun overrides the pause after each delete.
	WaitAfterRun time.Duration
}

// DeleteTask removes exactly one resource. It tolerates the resource
// having already disappeared.
type DeleteTask struct {
	engine.BaseTask

	Client   Client
	Resource Resource
	Options  DeleteOptions
}

// NewDeleteTask builds a delete task for r.
func NewDeleteTask(c Client, r Resource, opts DeleteOptions) *DeleteTask {
	return &DeleteTask{Client: c, Resource: r, Options: opts}
}

func (d *DeleteTask) DeclaredName() string { return "delete-" + string(d.Resource.Kind) }

func (d *DeleteTask) RequiredCapabilities() []engine.Capability {
	return []engine.Capability{engine.CapDeleteResources}
}

func (d *DeleteTask) WaitAfterRun() (time.Duration, bool) {
	if d.Options.WaitAfterRun > 0 {
		return d.Options.WaitAfterRun, true
	}
	return d.BaseTask.WaitAfterRun()
}

func (d *DeleteTask) Apply(ctx context.Context) error {
	r := d.Resource
	log := d.Log().With().Str("resource", r.ID).Str("kind", string(r.Kind)).Logger()

	current, err := d.describe(ctx)
	if err != nil {
		return d.FailErr("describe "+r.String(), err)
	}
	if current == nil || d.gone(*current) {
		log.Info().Msg("already deleted")
		return nil
	}
	if slices.Contains(d.Options.NonDeletable, current.State) {
		d.Skip(fmt.Sprintf("%s is %s, re-run to converge", r, current.State))
		d.Success(OutputSkipped, r.ID)
		return nil
	}

	if err := d.Client.Delete(ctx, r.Kind, r.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Info().Msg("already deleted")
			return nil
		}
		return d.FailErr("delete "+r.String(), err)
	}
	log.Info().Msg("deleted")

	if d.Options.AwaitGone {
		err := d.AwaitUntil(ctx, r.String()+" deleted", func(ctx context.Context) (bool, error) {
			cur, err := d.describe(ctx)
			if err != nil {
				return false, err
			}
			return cur == nil || d.gone(*cur), nil
		})
		if err != nil {
			return err
		}
	}
	d.Success(OutputDeleted, r.ID)
	return nil
}

// describe returns the current view of the resource, or nil when absent.
func (d *DeleteTask) describe(ctx context.Context) (*Resource, error) {
	rs, err := d.Client.Describe(ctx, d.Resource.Kind, Criteria{IDs: []string{d.Resource.ID}})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range rs {
		if rs[i].ID == d.Resource.ID {
			return &rs[i], nil
		}
	}
	return nil, nil
}

func (d *DeleteTask) gone(r Resource) bool {
	return slices.Contains(d.Options.GoneStates, r.State)
}
