package aws

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjanitor/cloudjanitor/pkg/cleanup"
	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

func notFound(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "does not exist"}
}

// fakeEC2 keeps a tiny in-memory account. Unused API methods panic
// through the nil embedded interface.
type fakeEC2 struct {
	EC2API

	mu        sync.Mutex
	instances map[string]ec2types.Instance
	enis      map[string]ec2types.NetworkInterface
	groups    map[string]ec2types.SecurityGroup
	vpcs      map[string]ec2types.Vpc
	igws      map[string]ec2types.InternetGateway
	calls     []string
	lastIn    *ec2.DescribeInstancesInput
}

func newFakeEC2() *fakeEC2 {
	return &fakeEC2{
		instances: map[string]ec2types.Instance{},
		enis:      map[string]ec2types.NetworkInterface{},
		groups:    map[string]ec2types.SecurityGroup{},
		vpcs:      map[string]ec2types.Vpc{},
		igws:      map[string]ec2types.InternetGateway{},
	}
}

func (f *fakeEC2) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeEC2) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func nameTag(name string) []ec2types.Tag {
	return []ec2types.Tag{{Key: awssdk.String("Name"), Value: awssdk.String(name)}}
}

func selected[T any](m map[string]T, ids []string) []T {
	var out []T
	for id, v := range m {
		if len(ids) == 0 || slices.Contains(ids, id) {
			out = append(out, v)
		}
	}
	return out
}

func (f *fakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastIn = in
	return &ec2.DescribeInstancesOutput{Reservations: []ec2types.Reservation{{Instances: selected(f.instances, in.InstanceIds)}}}, nil
}

func (f *fakeEC2) DescribeNetworkInterfaces(_ context.Context, in *ec2.DescribeNetworkInterfacesInput, _ ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &ec2.DescribeNetworkInterfacesOutput{NetworkInterfaces: selected(f.enis, in.NetworkInterfaceIds)}, nil
}

func (f *fakeEC2) DescribeSecurityGroups(_ context.Context, in *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: selected(f.groups, in.GroupIds)}, nil
}

func (f *fakeEC2) DescribeRouteTables(context.Context, *ec2.DescribeRouteTablesInput, ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error) {
	return &ec2.DescribeRouteTablesOutput{}, nil
}

func (f *fakeEC2) DescribeSubnets(context.Context, *ec2.DescribeSubnetsInput, ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	return &ec2.DescribeSubnetsOutput{}, nil
}

func (f *fakeEC2) DescribeInternetGateways(_ context.Context, in *ec2.DescribeInternetGatewaysInput, _ ...func(*ec2.Options)) (*ec2.DescribeInternetGatewaysOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &ec2.DescribeInternetGatewaysOutput{InternetGateways: selected(f.igws, in.InternetGatewayIds)}, nil
}

func (f *fakeEC2) DescribeVpcs(_ context.Context, in *ec2.DescribeVpcsInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &ec2.DescribeVpcsOutput{Vpcs: selected(f.vpcs, in.VpcIds)}, nil
}

func (f *fakeEC2) TerminateInstances(_ context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := in.InstanceIds[0]
	f.record("terminate " + id)
	i, ok := f.instances[id]
	if !ok {
		return nil, notFound("InvalidInstanceID.NotFound")
	}
	i.State = &ec2types.InstanceState{Name: ec2types.InstanceStateNameTerminated}
	f.instances[id] = i
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *fakeEC2) DeleteNetworkInterface(_ context.Context, in *ec2.DeleteNetworkInterfaceInput, _ ...func(*ec2.Options)) (*ec2.DeleteNetworkInterfaceOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := awssdk.ToString(in.NetworkInterfaceId)
	f.record("delete-eni " + id)
	delete(f.enis, id)
	return &ec2.DeleteNetworkInterfaceOutput{}, nil
}

func (f *fakeEC2) DeleteSecurityGroup(_ context.Context, in *ec2.DeleteSecurityGroupInput, _ ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := awssdk.ToString(in.GroupId)
	f.record("delete-sg " + id)
	if _, ok := f.groups[id]; !ok {
		return nil, notFound("InvalidGroup.NotFound")
	}
	delete(f.groups, id)
	return &ec2.DeleteSecurityGroupOutput{}, nil
}

func (f *fakeEC2) DetachInternetGateway(_ context.Context, in *ec2.DetachInternetGatewayInput, _ ...func(*ec2.Options)) (*ec2.DetachInternetGatewayOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("detach-igw " + awssdk.ToString(in.InternetGatewayId) + " " + awssdk.ToString(in.VpcId))
	return &ec2.DetachInternetGatewayOutput{}, nil
}

func (f *fakeEC2) DeleteInternetGateway(_ context.Context, in *ec2.DeleteInternetGatewayInput, _ ...func(*ec2.Options)) (*ec2.DeleteInternetGatewayOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := awssdk.ToString(in.InternetGatewayId)
	f.record("delete-igw " + id)
	delete(f.igws, id)
	return &ec2.DeleteInternetGatewayOutput{}, nil
}

func (f *fakeEC2) DeleteVpc(_ context.Context, in *ec2.DeleteVpcInput, _ ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := awssdk.ToString(in.VpcId)
	f.record("delete-vpc " + id)
	delete(f.vpcs, id)
	return &ec2.DeleteVpcOutput{}, nil
}

type fakeS3 struct {
	S3API

	buckets  []string
	versions map[string][]s3types.ObjectVersion
	calls    []string
}

func (f *fakeS3) ListBuckets(context.Context, *s3.ListBucketsInput, ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	out := &s3.ListBucketsOutput{}
	for _, b := range f.buckets {
		out.Buckets = append(out.Buckets, s3types.Bucket{Name: awssdk.String(b)})
	}
	return out, nil
}

func (f *fakeS3) ListObjectVersions(_ context.Context, in *s3.ListObjectVersionsInput, _ ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	return &s3.ListObjectVersionsOutput{Versions: f.versions[awssdk.ToString(in.Bucket)]}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.calls = append(f.calls, "delete-objects "+awssdk.ToString(in.Bucket))
	delete(f.versions, awssdk.ToString(in.Bucket))
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) DeleteBucket(_ context.Context, in *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	name := awssdk.ToString(in.Bucket)
	f.calls = append(f.calls, "delete-bucket "+name)
	f.buckets = slices.DeleteFunc(f.buckets, func(b string) bool { return b == name })
	return &s3.DeleteBucketOutput{}, nil
}

type fakeSTS struct{}

func (fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{
		Account: awssdk.String("123456789012"),
		Arn:     awssdk.String("arn:aws:iam::123456789012:user/janitor"),
		UserId:  awssdk.String("AIDAJANITOR"),
	}, nil
}

func newTestClient() (*Client, *fakeEC2, *fakeS3) {
	e := newFakeEC2()
	s := &fakeS3{versions: map[string][]s3types.ObjectVersion{}}
	return &Client{Region: "eu-west-1", EC2: e, S3: s, STS: fakeSTS{}}, e, s
}

func newRun(t *testing.T, caps ...engine.Capability) *engine.Tasks {
	t.Helper()
	rc, err := engine.NewContext(engine.Options{
		Home:         t.TempDir(),
		Capabilities: engine.NewCapabilitySet(caps...),
		Clock:        engine.NewVirtualClock(time.Unix(0, 0)),
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return engine.NewTasks(rc)
}

func TestTranslateNotFound(t *testing.T) {
	for _, code := range []string{"InvalidVpcID.NotFound", "InvalidNetworkInterfaceID.NotFound", "NoSuchBucket"} {
		err := translate(notFound(code))
		assert.ErrorIs(t, err, cleanup.ErrNotFound, code)
	}
	err := translate(&smithy.GenericAPIError{Code: "DependencyViolation"})
	assert.False(t, errors.Is(err, cleanup.ErrNotFound))
	assert.NoError(t, translate(nil))
}

func TestDeleteMissingResourceIsNotFound(t *testing.T) {
	c, _, _ := newTestClient()
	err := c.Delete(context.Background(), KindSecurityGroup, "sg-gone")
	assert.ErrorIs(t, err, cleanup.ErrNotFound)
}

func TestDescribeInstances(t *testing.T) {
	c, e, _ := newTestClient()
	e.instances["i-1"] = ec2types.Instance{
		InstanceId: awssdk.String("i-1"),
		VpcId:      awssdk.String("vpc-1"),
		State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
		Tags:       nameTag("ci-node"),
	}
	rs, err := c.Describe(context.Background(), KindInstance, cleanup.Criteria{
		Tags:       map[string]string{"owner": "ci"},
		Attributes: map[string]string{"vpc-id": "vpc-1"},
	})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, cleanup.Resource{
		ID:         "i-1",
		Kind:       KindInstance,
		Name:       "ci-node",
		State:      "running",
		Tags:       map[string]string{"Name": "ci-node"},
		Attributes: map[string]string{"vpc-id": "vpc-1"},
	}, rs[0])

	require.Len(t, e.lastIn.Filters, 2)
	assert.Equal(t, "tag:owner", awssdk.ToString(e.lastIn.Filters[0].Name))
	assert.Equal(t, "vpc-id", awssdk.ToString(e.lastIn.Filters[1].Name))
}

func TestUnsupportedKind(t *testing.T) {
	c, _, _ := newTestClient()
	_, err := c.Describe(context.Background(), "load-balancer", cleanup.Criteria{})
	assert.Error(t, err)
	assert.Error(t, c.Delete(context.Background(), "load-balancer", "x"))
}

func TestDeleteInternetGatewayDetachesFirst(t *testing.T) {
	c, e, _ := newTestClient()
	e.igws["igw-1"] = ec2types.InternetGateway{
		InternetGatewayId: awssdk.String("igw-1"),
		Attachments:       []ec2types.InternetGatewayAttachment{{VpcId: awssdk.String("vpc-1"), State: ec2types.AttachmentStatusAttached}},
	}
	require.NoError(t, c.Delete(context.Background(), KindInternetGateway, "igw-1"))
	assert.Equal(t, []string{"detach-igw igw-1 vpc-1", "delete-igw igw-1"}, e.Calls())
}

func TestDeleteBucketEmptiesVersions(t *testing.T) {
	c, _, s := newTestClient()
	s.buckets = []string{"ci-logs"}
	s.versions["ci-logs"] = []s3types.ObjectVersion{{Key: awssdk.String("a"), VersionId: awssdk.String("1")}}
	require.NoError(t, c.Delete(context.Background(), KindBucket, "ci-logs"))
	assert.Equal(t, []string{"delete-objects ci-logs", "delete-bucket ci-logs"}, s.calls)
	assert.Empty(t, s.buckets)
}

func TestSessionCachesClients(t *testing.T) {
	calls := 0
	s := &Session{clients: map[string]*Client{}, factory: func(_ context.Context, region string) (*Client, error) {
		calls++
		return &Client{Region: region}, nil
	}}
	a, err := s.Client(context.Background(), "eu-west-1")
	require.NoError(t, err)
	b, err := s.Client(context.Background(), "eu-west-1")
	require.NoError(t, err)
	assert.Same(t, a, b)
	_, err = s.Client(context.Background(), "us-east-2")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestIdentityTask(t *testing.T) {
	c, _, _ := newTestClient()
	run := newRun(t)
	task, err := run.Submit(context.Background(), NewIdentityTask(StaticSession(c)))
	require.NoError(t, err)

	account, ok, err := engine.OutputString(task, OutputAccount)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "123456789012", account)
	arn, _, _ := engine.OutputString(task, OutputArn)
	assert.Contains(t, arn, "user/janitor")
}

func seedAccount(e *fakeEC2) {
	e.instances["i-ci"] = ec2types.Instance{
		InstanceId: awssdk.String("i-ci"),
		State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
		Tags:       nameTag("ci-worker"),
	}
	e.instances["i-prod"] = ec2types.Instance{
		InstanceId: awssdk.String("i-prod"),
		State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
		Tags:       nameTag("prod-db"),
	}
	e.enis["eni-ci"] = ec2types.NetworkInterface{
		NetworkInterfaceId: awssdk.String("eni-ci"),
		Status:             ec2types.NetworkInterfaceStatusAvailable,
		TagSet:             nameTag("ci-eni"),
	}
	e.enis["eni-busy"] = ec2types.NetworkInterface{
		NetworkInterfaceId: awssdk.String("eni-busy"),
		Status:             ec2types.NetworkInterfaceStatusDetaching,
		TagSet:             nameTag("ci-eni-busy"),
	}
	e.groups["sg-default"] = ec2types.SecurityGroup{GroupId: awssdk.String("sg-default"), GroupName: awssdk.String("default")}
	e.groups["sg-ci"] = ec2types.SecurityGroup{GroupId: awssdk.String("sg-ci"), GroupName: awssdk.String("ci-web")}
	e.vpcs["vpc-ci"] = ec2types.Vpc{VpcId: awssdk.String("vpc-ci"), Tags: nameTag("ci-net")}
	e.vpcs["vpc-default"] = ec2types.Vpc{VpcId: awssdk.String("vpc-default"), IsDefault: awssdk.Bool(true), Tags: nameTag("ci-default")}
}

func TestCleanupRequiresScope(t *testing.T) {
	c, e, _ := newTestClient()
	run := newRun(t, engine.CapDeleteResources)
	_, err := run.Submit(context.Background(), NewCleanupTask(StaticSession(c), nil))
	require.Error(t, err)
	assert.True(t, engine.IsMessage(err))
	assert.Empty(t, e.Calls())
}

func TestCleanupDeletesInOrder(t *testing.T) {
	c, e, s := newTestClient()
	seedAccount(e)
	s.buckets = []string{"ci-artifacts", "prod-backups"}

	run := newRun(t, engine.CapDeleteResources)
	task := engine.WithInput(NewCleanupTask(StaticSession(c), nil), InputFilterPrefix, "ci-")
	_, err := run.Submit(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"terminate i-ci",
		"delete-eni eni-ci",
		"delete-sg sg-ci",
		"delete-vpc vpc-ci",
	}, e.Calls())
	assert.Equal(t, []string{"delete-bucket ci-artifacts"}, s.calls)

	summary, ok, err := engine.OutputAs[map[string]int](task, OutputSummary)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, summary[string(KindInstance)])
	assert.Equal(t, 1, summary[string(KindNetworkInterface)])
	assert.Equal(t, 0, summary[string(KindSubnet)])

	_, stillThere := e.enis["eni-busy"]
	assert.True(t, stillThere)
}

func TestCleanupWithoutCapabilityOnlyReports(t *testing.T) {
	c, e, s := newTestClient()
	seedAccount(e)
	s.buckets = []string{"ci-artifacts"}

	run := newRun(t)
	task := engine.WithInput(NewCleanupTask(StaticSession(c), nil), InputFilterPrefix, "ci-")
	_, err := run.Submit(context.Background(), task)
	require.NoError(t, err)
	assert.Empty(t, e.Calls())
	assert.Empty(t, s.calls)

	summary, _, err := engine.OutputAs[map[string]int](task, OutputSummary)
	require.NoError(t, err)
	assert.Equal(t, 1, summary[string(KindInstance)])
	assert.Equal(t, 2, summary[string(KindNetworkInterface)])
	assert.Equal(t, 1, summary[string(KindBucket)])
}

func TestScopeByVpc(t *testing.T) {
	s := Scope{VpcID: "vpc-1"}
	match := FilterSecurityGroups(s).Match
	ok, err := match(cleanup.Resource{Name: "web", Attributes: map[string]string{"vpc-id": "vpc-1"}})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = match(cleanup.Resource{Name: "default", Default: true, Attributes: map[string]string{"vpc-id": "vpc-1"}})
	assert.False(t, ok)
	ok, _ = match(cleanup.Resource{Name: "web", Attributes: map[string]string{"vpc-id": "vpc-2"}})
	assert.False(t, ok)

	ok, _ = FilterBuckets(s).Match(cleanup.Resource{Name: "anything"})
	assert.False(t, ok, "buckets are only selected by prefix")
}
