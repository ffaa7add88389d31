// Package aws wires the cleanup pattern to Amazon Web Services through
// aws-sdk-go-v2.
package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/cloudjanitor/cloudjanitor/pkg/cleanup"
)

// Resource kinds handled by Client.
const (
	KindInstance         cleanup.Kind = "instance"
	KindNetworkInterface cleanup.Kind = "network-interface"
	KindSecurityGroup    cleanup.Kind = "security-group"
	KindRouteTable       cleanup.Kind = "route-table"
	KindSubnet           cleanup.Kind = "subnet"
	KindInternetGateway  cleanup.Kind = "internet-gateway"
	KindVPC              cleanup.Kind = "vpc"
	KindBucket           cleanup.Kind = "bucket"
)

// EC2API is the subset of the EC2 client used here.
type EC2API interface {
	ec2.DescribeInstancesAPIClient
	ec2.DescribeNetworkInterfacesAPIClient
	ec2.DescribeSecurityGroupsAPIClient
	ec2.DescribeRouteTablesAPIClient
	ec2.DescribeSubnetsAPIClient
	ec2.DescribeInternetGatewaysAPIClient
	ec2.DescribeVpcsAPIClient

	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, opts ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DeleteNetworkInterface(ctx context.Context, in *ec2.DeleteNetworkInterfaceInput, opts ...func(*ec2.Options)) (*ec2.DeleteNetworkInterfaceOutput, error)
	DeleteSecurityGroup(ctx context.Context, in *ec2.DeleteSecurityGroupInput, opts ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
	DeleteRouteTable(ctx context.Context, in *ec2.DeleteRouteTableInput, opts ...func(*ec2.Options)) (*ec2.DeleteRouteTableOutput, error)
	DeleteSubnet(ctx context.Context, in *ec2.DeleteSubnetInput, opts ...func(*ec2.Options)) (*ec2.DeleteSubnetOutput, error)
	DetachInternetGateway(ctx context.Context, in *ec2.DetachInternetGatewayInput, opts ...func(*ec2.Options)) (*ec2.DetachInternetGatewayOutput, error)
	DeleteInternetGateway(ctx context.Context, in *ec2.DeleteInternetGatewayInput, opts ...func(*ec2.Options)) (*ec2.DeleteInternetGatewayOutput, error)
	DeleteVpc(ctx context.Context, in *ec2.DeleteVpcInput, opts ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error)
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	ListBuckets(ctx context.Context, in *s3.ListBucketsInput, opts ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	ListObjectVersions(ctx context.Context, in *s3.ListObjectVersionsInput, opts ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	DeleteBucket(ctx context.Context, in *s3.DeleteBucketInput, opts ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// STSAPI is the subset of the STS client used here.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, opts ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Client implements cleanup.Client for one region.
type Client struct {
	Region string
	EC2    EC2API
	S3     S3API
	STS    STSAPI
}

// NewClient loads the default credential chain for region and profile.
func NewClient(ctx context.Context, region, profile string) (*Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &Client{
		Region: region,
		EC2:    ec2.NewFromConfig(cfg),
		S3:     s3.NewFromConfig(cfg),
		STS:    sts.NewFromConfig(cfg),
	}, nil
}

// Describe lists resources of kind matching criteria.
func (c *Client) Describe(ctx context.Context, kind cleanup.Kind, criteria cleanup.Criteria) ([]cleanup.Resource, error) {
	var (
		rs  []cleanup.Resource
		err error
	)
	switch kind {
	case KindInstance:
		rs, err = c.describeInstances(ctx, criteria)
	case KindNetworkInterface:
		rs, err = c.describeNetworkInterfaces(ctx, criteria)
	case KindSecurityGroup:
		rs, err = c.describeSecurityGroups(ctx, criteria)
	case KindRouteTable:
		rs, err = c.describeRouteTables(ctx, criteria)
	case KindSubnet:
		rs, err = c.describeSubnets(ctx, criteria)
	case KindInternetGateway:
		rs, err = c.describeInternetGateways(ctx, criteria)
	case KindVPC:
		rs, err = c.describeVpcs(ctx, criteria)
	case KindBucket:
		rs, err = c.describeBuckets(ctx, criteria)
	default:
		return nil, fmt.Errorf("unsupported resource kind %q", kind)
	}
	return rs, translate(err)
}

// Delete removes one resource. Missing resources yield cleanup.ErrNotFound.
func (c *Client) Delete(ctx context.Context, kind cleanup.Kind, id string) error {
	var err error
	switch kind {
	case KindInstance:
		_, err = c.EC2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
	case KindNetworkInterface:
		_, err = c.EC2.DeleteNetworkInterface(ctx, &ec2.DeleteNetworkInterfaceInput{NetworkInterfaceId: awssdk.String(id)})
	case KindSecurityGroup:
		_, err = c.EC2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: awssdk.String(id)})
	case KindRouteTable:
		_, err = c.EC2.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: awssdk.String(id)})
	case KindSubnet:
		_, err = c.EC2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: awssdk.String(id)})
	case KindInternetGateway:
		err = c.deleteInternetGateway(ctx, id)
	case KindVPC:
		_, err = c.EC2.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: awssdk.String(id)})
	case KindBucket:
		err = c.deleteBucket(ctx, id)
	default:
		return fmt.Errorf("unsupported resource kind %q", kind)
	}
	if err = translate(err); err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return nil
}

// translate maps provider "not found" codes onto cleanup.ErrNotFound.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && isNotFoundCode(apiErr.ErrorCode()) {
		return fmt.Errorf("%w: %w", cleanup.ErrNotFound, err)
	}
	return err
}

func isNotFoundCode(code string) bool {
	return strings.HasSuffix(code, ".NotFound") || code == "NoSuchBucket" || code == "NotFound"
}

// Session hands out clients per region, creating each once.
type Session struct {
	mu      sync.Mutex
	clients map[string]*Client
	factory func(ctx context.Context, region string) (*Client, error)
}

// NewSession creates clients from the default credential chain.
func NewSession(profile string) *Session {
	return &Session{
		clients: make(map[string]*Client),
		factory: func(ctx context.Context, region string) (*Client, error) {
			return NewClient(ctx, region, profile)
		},
	}
}

// StaticSession always returns c. Used by tests and embedders.
func StaticSession(c *Client) *Session {
	return &Session{
		clients: make(map[string]*Client),
		factory: func(context.Context, string) (*Client, error) { return c, nil },
	}
}

// Client returns the client for region.
func (s *Session) Client(ctx context.Context, region string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[region]; ok {
		return c, nil
	}
	c, err := s.factory(ctx, region)
	if err != nil {
		return nil, err
	}
	s.clients[region] = c
	return c, nil
}
