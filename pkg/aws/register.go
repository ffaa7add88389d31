package aws

import (
	"errors"

	"github.com/cloudjanitor/cloudjanitor/pkg/cleanup"
	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
	"github.com/cloudjanitor/cloudjanitor/pkg/render"
	"github.com/cloudjanitor/cloudjanitor/pkg/shell"
)

// Register adds the AWS tasks to reg. g may be nil.
func Register(reg *engine.Registry, s *Session, g cleanup.Guard, r *render.Renderer, sh shell.Runner) error {
	return errors.Join(
		reg.Register("Looks up the AWS account of the current credentials",
			func() engine.Task { return NewIdentityTask(s) }),
		reg.Register("Deletes prefixed or VPC-scoped resources in one region",
			func() engine.Task { return NewCleanupTask(s, g) }),
		reg.Register("Runs aws-nuke against the current account",
			func() engine.Task { return NewNukeTask(s, r, sh) }),
	)
}
