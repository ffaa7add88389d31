package aws

import (
	"time"

	"github.com/cloudjanitor/cloudjanitor/pkg/cleanup"
)

// Scope selects what a cleanup run may touch. A resource is in scope when
// its Name starts with Prefix or it belongs to VpcID.
type Scope struct {
	Client     cleanup.Client
	Prefix     string
	VpcID      string
	Guard      cleanup.Guard
	ReportOnly bool
}

// eniWaitAfterRun gives AWS time to release dependent attachments.
const eniWaitAfterRun = 15 * time.Second

func (s Scope) inScope() cleanup.Predicate {
	var ps []cleanup.Predicate
	if s.Prefix != "" {
		ps = append(ps, cleanup.NamePrefix(s.Prefix))
	}
	if s.VpcID != "" {
		ps = append(ps, cleanup.AttributeEquals("vpc-id", s.VpcID))
	}
	if len(ps) == 0 {
		return cleanup.None()
	}
	return cleanup.Or(ps...)
}

func (s Scope) filter(name string, kind cleanup.Kind, match cleanup.Predicate, opts cleanup.DeleteOptions) *cleanup.FilterTask {
	return &cleanup.FilterTask{
		Name:       name,
		Client:     s.Client,
		Kind:       kind,
		Match:      match,
		Guard:      s.Guard,
		ReportOnly: s.ReportOnly,
		Delete:     opts,
	}
}

// FilterInstances terminates matching instances and waits until they are
// gone.
func FilterInstances(s Scope) *cleanup.FilterTask {
	return s.filter("filter-instances", KindInstance,
		cleanup.And(s.inScope(), cleanup.Not(cleanup.StateIn("terminated", "shutting-down"))),
		cleanup.DeleteOptions{GoneStates: []string{"terminated"}, AwaitGone: true})
}

// FilterNetworkInterfaces deletes matching ENIs. Detaching ENIs are left
// for the next run.
func FilterNetworkInterfaces(s Scope) *cleanup.FilterTask {
	return s.filter("filter-network-interfaces", KindNetworkInterface, s.inScope(),
		cleanup.DeleteOptions{NonDeletable: []string{"detaching"}, WaitAfterRun: eniWaitAfterRun})
}

// FilterSecurityGroups deletes matching security groups except the VPC
// default group.
func FilterSecurityGroups(s Scope) *cleanup.FilterTask {
	return s.filter("filter-security-groups", KindSecurityGroup,
		cleanup.And(cleanup.NotDefault(), s.inScope()), cleanup.DeleteOptions{})
}

// FilterRouteTables deletes matching route tables except main ones.
func FilterRouteTables(s Scope) *cleanup.FilterTask {
	return s.filter("filter-route-tables", KindRouteTable,
		cleanup.And(cleanup.NotDefault(), s.inScope()), cleanup.DeleteOptions{})
}

// FilterSubnets deletes matching subnets except default ones.
func FilterSubnets(s Scope) *cleanup.FilterTask {
	return s.filter("filter-subnets", KindSubnet,
		cleanup.And(cleanup.NotDefault(), s.inScope()), cleanup.DeleteOptions{})
}

// FilterInternetGateways detaches and deletes matching internet gateways.
func FilterInternetGateways(s Scope) *cleanup.FilterTask {
	return s.filter("filter-internet-gateways", KindInternetGateway, s.inScope(), cleanup.DeleteOptions{})
}

// FilterVpcs deletes matching non-default VPCs.
func FilterVpcs(s Scope) *cleanup.FilterTask {
	return s.filter("filter-vpcs", KindVPC,
		cleanup.And(cleanup.NotDefault(), s.inScope()), cleanup.DeleteOptions{})
}

// FilterBuckets empties and deletes buckets whose name starts with the
// prefix. Buckets are never matched by VPC.
func FilterBuckets(s Scope) *cleanup.FilterTask {
	match := cleanup.None()
	if s.Prefix != "" {
		match = cleanup.NamePrefix(s.Prefix)
	}
	return s.filter("filter-buckets", KindBucket, match, cleanup.DeleteOptions{})
}

// Plan returns the filters of a full cleanup in dependency order.
func Plan(s Scope) []*cleanup.FilterTask {
	return []*cleanup.FilterTask{
		FilterInstances(s),
		FilterNetworkInterfaces(s),
		FilterSecurityGroups(s),
		FilterRouteTables(s),
		FilterSubnets(s),
		FilterInternetGateways(s),
		FilterVpcs(s),
		FilterBuckets(s),
	}
}
