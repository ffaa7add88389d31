package aws

import (
	"github.com/cloudjanitor/cloudjanitor/pkg/cleanup"
	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

// DefaultRegion is used when neither an input nor configuration names one.
const DefaultRegion = "us-east-1"

// Inputs read by AWS tasks.
const (
	InputRegion       engine.Input = "aws.region"
	InputProfile      engine.Input = "aws.profile"
	InputFilterPrefix engine.Input = "aws.filterPrefix"
	InputVpcID        engine.Input = "aws.vpcId"
)

// Outputs produced by AWS tasks.
const (
	OutputAccount engine.Output = "aws.account"
	OutputArn     engine.Output = "aws.arn"
	OutputUserID  engine.Output = "aws.userId"
	OutputSummary engine.Output = "aws.cleanup.summary"
)

// RegisterInputs binds the AWS inputs to their configuration paths.
func RegisterInputs(reg *engine.InputRegistry) {
	reg.Bind(InputRegion, "aws.region", func() any { return DefaultRegion })
	reg.Bind(InputProfile, "aws.profile", nil)
	reg.Bind(InputFilterPrefix, "aws.filter_prefix", nil)
	reg.Bind(InputVpcID, "aws.vpc_id", nil)
	reg.Bind(InputNukeBlocklist, "aws.nuke_blocklist", nil)
	reg.Bind(cleanup.InputMatch, "aws.match", nil)
}
