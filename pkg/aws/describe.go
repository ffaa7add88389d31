package aws

import (
	"context"
	"fmt"
	"sort"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cloudjanitor/cloudjanitor/pkg/cleanup"
)

// filters turns tag and attribute criteria into EC2 filters. Attribute
// keys are EC2 filter names such as "vpc-id".
func filters(c cleanup.Criteria) []ec2types.Filter {
	var out []ec2types.Filter
	keys := make([]string, 0, len(c.Tags))
	for k := range c.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, ec2types.Filter{Name: awssdk.String("tag:" + k), Values: []string{c.Tags[k]}})
	}
	keys = keys[:0]
	for k := range c.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, ec2types.Filter{Name: awssdk.String(k), Values: []string{c.Attributes[k]}})
	}
	return out
}

func tagMap(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[awssdk.ToString(t.Key)] = awssdk.ToString(t.Value)
	}
	return m
}

func (c *Client) describeInstances(ctx context.Context, crit cleanup.Criteria) ([]cleanup.Resource, error) {
	in := &ec2.DescribeInstancesInput{InstanceIds: crit.IDs, Filters: filters(crit)}
	var out []cleanup.Resource
	p := ec2.NewDescribeInstancesPaginator(c.EC2, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, res := range page.Reservations {
			for _, i := range res.Instances {
				tags := tagMap(i.Tags)
				r := cleanup.Resource{
					ID:         awssdk.ToString(i.InstanceId),
					Kind:       KindInstance,
					Name:       tags["Name"],
					Tags:       tags,
					Attributes: map[string]string{"vpc-id": awssdk.ToString(i.VpcId)},
				}
				if i.State != nil {
					r.State = string(i.State.Name)
				}
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (c *Client) describeNetworkInterfaces(ctx context.Context, crit cleanup.Criteria) ([]cleanup.Resource, error) {
	in := &ec2.DescribeNetworkInterfacesInput{NetworkInterfaceIds: crit.IDs, Filters: filters(crit)}
	var out []cleanup.Resource
	p := ec2.NewDescribeNetworkInterfacesPaginator(c.EC2, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range page.NetworkInterfaces {
			tags := tagMap(n.TagSet)
			out = append(out, cleanup.Resource{
				ID:    awssdk.ToString(n.NetworkInterfaceId),
				Kind:  KindNetworkInterface,
				Name:  tags["Name"],
				State: string(n.Status),
				Tags:  tags,
				Attributes: map[string]string{
					"vpc-id":      awssdk.ToString(n.VpcId),
					"description": awssdk.ToString(n.Description),
				},
			})
		}
	}
	return out, nil
}

func (c *Client) describeSecurityGroups(ctx context.Context, crit cleanup.Criteria) ([]cleanup.Resource, error) {
	in := &ec2.DescribeSecurityGroupsInput{GroupIds: crit.IDs, Filters: filters(crit)}
	var out []cleanup.Resource
	p := ec2.NewDescribeSecurityGroupsPaginator(c.EC2, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, g := range page.SecurityGroups {
			name := awssdk.ToString(g.GroupName)
			out = append(out, cleanup.Resource{
				ID:         awssdk.ToString(g.GroupId),
				Kind:       KindSecurityGroup,
				Name:       name,
				Default:    name == "default",
				Tags:       tagMap(g.Tags),
				Attributes: map[string]string{"vpc-id": awssdk.ToString(g.VpcId)},
			})
		}
	}
	return out, nil
}

func (c *Client) describeRouteTables(ctx context.Context, crit cleanup.Criteria) ([]cleanup.Resource, error) {
	in := &ec2.DescribeRouteTablesInput{RouteTableIds: crit.IDs, Filters: filters(crit)}
	var out []cleanup.Resource
	p := ec2.NewDescribeRouteTablesPaginator(c.EC2, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range page.RouteTables {
			main := false
			for _, a := range t.Associations {
				if awssdk.ToBool(a.Main) {
					main = true
				}
			}
			tags := tagMap(t.Tags)
			out = append(out, cleanup.Resource{
				ID:         awssdk.ToString(t.RouteTableId),
				Kind:       KindRouteTable,
				Name:       tags["Name"],
				Default:    main,
				Tags:       tags,
				Attributes: map[string]string{"vpc-id": awssdk.ToString(t.VpcId)},
			})
		}
	}
	return out, nil
}

func (c *Client) describeSubnets(ctx context.Context, crit cleanup.Criteria) ([]cleanup.Resource, error) {
	in := &ec2.DescribeSubnetsInput{SubnetIds: crit.IDs, Filters: filters(crit)}
	var out []cleanup.Resource
	p := ec2.NewDescribeSubnetsPaginator(c.EC2, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range page.Subnets {
			tags := tagMap(s.Tags)
			out = append(out, cleanup.Resource{
				ID:         awssdk.ToString(s.SubnetId),
				Kind:       KindSubnet,
				Name:       tags["Name"],
				State:      string(s.State),
				Default:    awssdk.ToBool(s.DefaultForAz),
				Tags:       tags,
				Attributes: map[string]string{"vpc-id": awssdk.ToString(s.VpcId)},
			})
		}
	}
	return out, nil
}

func (c *Client) describeInternetGateways(ctx context.Context, crit cleanup.Criteria) ([]cleanup.Resource, error) {
	f := filters(crit)
	for i := range f {
		// Internet gateways filter on their attachment.
		if awssdk.ToString(f[i].Name) == "vpc-id" {
			f[i].Name = awssdk.String("attachment.vpc-id")
		}
	}
	in := &ec2.DescribeInternetGatewaysInput{InternetGatewayIds: crit.IDs, Filters: f}
	var out []cleanup.Resource
	p := ec2.NewDescribeInternetGatewaysPaginator(c.EC2, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, g := range page.InternetGateways {
			tags := tagMap(g.Tags)
			r := cleanup.Resource{
				ID:         awssdk.ToString(g.InternetGatewayId),
				Kind:       KindInternetGateway,
				Name:       tags["Name"],
				Tags:       tags,
				Attributes: map[string]string{},
			}
			if len(g.Attachments) > 0 {
				r.Attributes["vpc-id"] = awssdk.ToString(g.Attachments[0].VpcId)
				r.State = string(g.Attachments[0].State)
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Client) describeVpcs(ctx context.Context, crit cleanup.Criteria) ([]cleanup.Resource, error) {
	in := &ec2.DescribeVpcsInput{VpcIds: crit.IDs, Filters: filters(crit)}
	var out []cleanup.Resource
	p := ec2.NewDescribeVpcsPaginator(c.EC2, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, v := range page.Vpcs {
			tags := tagMap(v.Tags)
			out = append(out, cleanup.Resource{
				ID:         awssdk.ToString(v.VpcId),
				Kind:       KindVPC,
				Name:       tags["Name"],
				State:      string(v.State),
				Default:    awssdk.ToBool(v.IsDefault),
				Tags:       tags,
				Attributes: map[string]string{"vpc-id": awssdk.ToString(v.VpcId), "cidr": awssdk.ToString(v.CidrBlock)},
			})
		}
	}
	return out, nil
}

func (c *Client) describeBuckets(ctx context.Context, crit cleanup.Criteria) ([]cleanup.Resource, error) {
	in := &s3.ListBucketsInput{BucketRegion: awssdk.String(c.Region)}
	want := make(map[string]bool, len(crit.IDs))
	for _, id := range crit.IDs {
		want[id] = true
	}

	var out []cleanup.Resource
	for {
		page, err := c.S3.ListBuckets(ctx, in)
		if err != nil {
			return nil, err
		}
		for _, b := range page.Buckets {
			name := awssdk.ToString(b.Name)
			if len(want) > 0 && !want[name] {
				continue
			}
			out = append(out, cleanup.Resource{ID: name, Kind: KindBucket, Name: name})
		}
		if awssdk.ToString(page.ContinuationToken) == "" {
			return out, nil
		}
		in.ContinuationToken = page.ContinuationToken
	}
}

func (c *Client) deleteInternetGateway(ctx context.Context, id string) error {
	rs, err := c.describeInternetGateways(ctx, cleanup.Criteria{IDs: []string{id}})
	if err != nil {
		return err
	}
	for _, r := range rs {
		if vpc := r.Attributes["vpc-id"]; vpc != "" {
			if _, err := c.EC2.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
				InternetGatewayId: awssdk.String(id),
				VpcId:             awssdk.String(vpc),
			}); err != nil {
				return fmt.Errorf("detach from %s: %w", vpc, err)
			}
		}
	}
	_, err = c.EC2.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: awssdk.String(id)})
	return err
}

// deleteBucket empties every object version, then removes the bucket.
func (c *Client) deleteBucket(ctx context.Context, name string) error {
	in := &s3.ListObjectVersionsInput{Bucket: awssdk.String(name)}
	for {
		page, err := c.S3.ListObjectVersions(ctx, in)
		if err != nil {
			return err
		}
		var ids []s3types.ObjectIdentifier
		for _, v := range page.Versions {
			ids = append(ids, s3types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
		}
		for _, m := range page.DeleteMarkers {
			ids = append(ids, s3types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
		}
		if len(ids) > 0 {
			out, err := c.S3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: awssdk.String(name),
				Delete: &s3types.Delete{Objects: ids, Quiet: awssdk.Bool(true)},
			})
			if err != nil {
				return err
			}
			if len(out.Errors) > 0 {
				e := out.Errors[0]
				return fmt.Errorf("delete %s: %s", awssdk.ToString(e.Key), awssdk.ToString(e.Message))
			}
		}
		if !awssdk.ToBool(page.IsTruncated) {
			break
		}
		in.KeyMarker = page.NextKeyMarker
		in.VersionIdMarker = page.NextVersionIdMarker
	}
	_, err := c.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: awssdk.String(name)})
	return err
}
