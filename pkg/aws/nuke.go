package aws

import (
	"context"
	"path/filepath"
	"slices"
	"time"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
	"github.com/cloudjanitor/cloudjanitor/pkg/render"
	"github.com/cloudjanitor/cloudjanitor/pkg/shell"
)

// InputNukeBlocklist lists accounts aws-nuke must never touch.
const InputNukeBlocklist engine.Input = "aws.nukeBlocklist"

// OutputNukeLog holds aws-nuke's standard output.
const OutputNukeLog engine.Output = "aws.nuke.log"

// nukeTimeout bounds a single aws-nuke run.
const nukeTimeout = 60 * time.Minute

// placeholderBlocklist satisfies aws-nuke's mandatory blocklist when none
// is configured.
var placeholderBlocklist = []string{"000000000000"}

var nukeInstall = shell.Install{
	"linux":  {"go", "install", "github.com/ekristen/aws-nuke/v3@latest"},
	"darwin": {"brew", "install", "ekristen/tap/aws-nuke"},
}

type nukeConfig struct {
	Regions   []string
	Blocklist []string
	Account   string
	Prefix    string
}

// NukeTask runs aws-nuke against the current account and region. Without
// CLOUD_DELETE_RESOURCES aws-nuke only lists what it would remove.
type NukeTask struct {
	task

	Renderer *render.Renderer
	Shell    shell.Runner
}

// NewNukeTask creates an aws-nuke run bound to s.
func NewNukeTask(s *Session, r *render.Renderer, sh shell.Runner) *NukeTask {
	return &NukeTask{task: task{Session: s}, Renderer: r, Shell: sh}
}

func (t *NukeTask) DeclaredName() string { return "aws-nuke" }

func (t *NukeTask) IsWrite() bool { return false }

func (t *NukeTask) WaitAfterRun() (time.Duration, bool) { return 0, false }

func (t *NukeTask) Apply(ctx context.Context) error {
	if t.Renderer == nil {
		return t.Fail("no template renderer configured")
	}
	t.Log().Debug().Msg("aws-nuke started")

	if _, err := t.Submit(ctx, NewIdentityTask(t.Session)); err != nil {
		return err
	}
	account, _, _ := engine.OutputString(t, OutputAccount)
	blocklist, err := engine.InputList[string](t, InputNukeBlocklist)
	if err != nil {
		return t.FailErr("read "+string(InputNukeBlocklist), err)
	}
	if len(blocklist) == 0 {
		blocklist = placeholderBlocklist
	}
	if slices.Contains(blocklist, account) {
		return t.Failf("account %s is blocklisted", account)
	}

	c, err := t.client(ctx)
	if err != nil {
		return err
	}

	dir, err := t.Scratch()
	if err != nil {
		return t.FailErr("scratch directory", err)
	}
	cfg := filepath.Join(dir, "aws-nuke.yaml")
	err = t.Renderer.RenderFile("aws-nuke.yaml", nukeConfig{
		Regions:   []string{c.Region},
		Blocklist: blocklist,
		Account:   account,
		Prefix:    t.InputString(InputFilterPrefix, ""),
	}, cfg, "aws-nuke")
	if err != nil {
		return t.FailErr("render aws-nuke config", err)
	}

	if err := t.Shell.EnsureCommand(ctx, t, "aws-nuke", nukeInstall); err != nil {
		return err
	}

	args := []string{"aws-nuke", "run", "--force", "--config", cfg}
	if t.HasCapability(engine.CapDeleteResources) {
		args = append(args, "--no-dry-run")
	}
	t.Log().Info().Strs("cmd", args).Msg("executing aws-nuke")
	out, err := t.Shell.ExecTimeout(ctx, t, nukeTimeout, args...)
	if err != nil {
		return err
	}
	t.Success(OutputNukeLog, out)
	t.Log().Debug().Msg("aws-nuke completed")
	return nil
}
