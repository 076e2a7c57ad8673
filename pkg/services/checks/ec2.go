package checks

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/de-tools/cloud-sentry/pkg/models/domain"
)

type EC2API interface {
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
}

// webPorts are conventionally internet-facing and not flagged.
var webPorts = map[int32]struct{}{80: {}, 443: {}}

type openPortsCheck struct {
	retry RetrySettings
}

// NewOpenPortsCheck audits security groups for ingress rules open to the
// whole internet on non-web ports.
func NewOpenPortsCheck(retry RetrySettings) Check {
	return &openPortsCheck{retry: retry}
}

func (c *openPortsCheck) ID() string { return "open-ports" }

func (c *openPortsCheck) Run(ctx context.Context, clients Clients, scope string, acc *Accumulator) error {
	var groups *ec2.DescribeSecurityGroupsOutput
	err := Call(ctx, c.retry, func(ctx context.Context) error {
		var callErr error
		groups, callErr = clients.EC2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{})
		return callErr
	})
	if err != nil {
		return fmt.Errorf("describe security groups: %w", err)
	}

	acc.CountScanned(len(groups.SecurityGroups))

	for _, group := range groups.SecurityGroups {
		groupID := aws.ToString(group.GroupId)

		for _, perm := range group.IpPermissions {
			open := false
			for _, r := range perm.IpRanges {
				if aws.ToString(r.CidrIp) == "0.0.0.0/0" {
					open = true
				}
			}
			for _, r := range perm.Ipv6Ranges {
				if aws.ToString(r.CidrIpv6) == "::/0" {
					open = true
				}
			}
			if !open {
				continue
			}

			from := aws.ToInt32(perm.FromPort)
			to := aws.ToInt32(perm.ToPort)
			if _, ok := webPorts[from]; ok && from == to {
				continue
			}

			acc.Add(domain.Finding{
				ResourceID:   groupID,
				ResourceType: "ec2-security-group",
				Issue: fmt.Sprintf("ingress open to the internet on ports %d-%d (%s)",
					from, to, aws.ToString(perm.IpProtocol)),
				Recommendation: "restrict the source CIDR to known networks or remove the rule",
				Severity:       domain.SeverityHigh,
			})
		}
	}

	return nil
}
