package aws

import (
	"context"
	"time"

	"github.com/cloudjanitor/cloudjanitor/pkg/cleanup"
	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

// CleanupTask removes everything a prefix or VPC id selects in one
// account and region, in dependency order.
type CleanupTask struct {
	task

	Guard cleanup.Guard
}

// NewCleanupTask creates a cleanup bound to s. g may be nil.
func NewCleanupTask(s *Session, g cleanup.Guard) *CleanupTask {
	return &CleanupTask{task: task{Session: s}, Guard: g}
}

func (t *CleanupTask) DeclaredName() string { return "cleanup-aws" }

func (t *CleanupTask) IsWrite() bool { return false }

func (t *CleanupTask) WaitAfterRun() (time.Duration, bool) { return 0, false }

func (t *CleanupTask) Apply(ctx context.Context) error {
	prefix := t.InputString(InputFilterPrefix, "")
	vpcID := t.InputString(InputVpcID, "")
	if prefix == "" && vpcID == "" {
		return t.Failf("one of %s or %s is required", InputFilterPrefix, InputVpcID)
	}

	if _, err := t.Submit(ctx, NewIdentityTask(t.Session)); err != nil {
		return err
	}
	account, _, _ := engine.OutputString(t, OutputAccount)

	c, err := t.client(ctx)
	if err != nil {
		return err
	}
	t.AddLogContext("account", account)
	t.AddLogContext("region", c.Region)

	scope := Scope{
		Client:     c,
		Prefix:     prefix,
		VpcID:      vpcID,
		Guard:      t.Guard,
		ReportOnly: !t.HasCapability(engine.CapDeleteResources),
	}
	if scope.ReportOnly {
		t.Log().Warn().Msgf("%s not granted, reporting matches only", engine.CapDeleteResources)
	}

	summary := make(map[string]int)
	for _, f := range Plan(scope) {
		if _, err := t.Submit(ctx, f); err != nil {
			t.Success(OutputSummary, summary)
			return err
		}
		if scope.ReportOnly {
			ms, _ := engine.OutputList[cleanup.Resource](f, cleanup.OutputMatches)
			summary[string(f.Kind)] = len(ms)
			continue
		}
		deleted, _ := engine.OutputList[string](f, cleanup.OutputDeleted)
		summary[string(f.Kind)] = len(deleted)
	}
	t.Success(OutputSummary, summary)
	t.Log().Info().Interface("summary", summary).Msg("aws cleanup finished")
	return nil
}
