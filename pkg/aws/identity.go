package aws

import (
	"context"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

// task carries what every AWS task needs: the session and the region
// resolution.
type task struct {
	engine.BaseTask

	Session *Session
}

func (t *task) region() string {
	return t.InputString(InputRegion, DefaultRegion)
}

func (t *task) client(ctx context.Context) (*Client, error) {
	if t.Session == nil {
		return nil, t.Fail("no aws session configured")
	}
	c, err := t.Session.Client(ctx, t.region())
	if err != nil {
		return nil, t.FailErr("aws client", err)
	}
	return c, nil
}

// IdentityTask looks up the caller identity of the configured credentials.
type IdentityTask struct {
	task
}

// NewIdentityTask creates an identity lookup bound to s.
func NewIdentityTask(s *Session) *IdentityTask {
	return &IdentityTask{task{Session: s}}
}

func (t *IdentityTask) DeclaredName() string { return "aws-identity" }

func (t *IdentityTask) IsWrite() bool { return false }

func (t *IdentityTask) WaitAfterRun() (time.Duration, bool) { return 0, false }

func (t *IdentityTask) Maturity() engine.Maturity { return engine.Stable }

func (t *IdentityTask) Apply(ctx context.Context) error {
	c, err := t.client(ctx)
	if err != nil {
		return err
	}
	out, err := c.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return t.FailErr("get caller identity", err)
	}
	account := awssdk.ToString(out.Account)
	t.Success(OutputAccount, account)
	t.Success(OutputArn, awssdk.ToString(out.Arn))
	t.Success(OutputUserID, awssdk.ToString(out.UserId))
	t.Log().Info().Str("account", account).Str("region", c.Region).Msg("found aws account")
	return nil
}
