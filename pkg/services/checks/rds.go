package checks

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/de-tools/cloud-sentry/pkg/models/domain"
)

type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

type rdsPublicCheck struct {
	retry RetrySettings
}

// NewRDSPublicCheck audits RDS instances for public accessibility.
func NewRDSPublicCheck(retry RetrySettings) Check {
	return &rdsPublicCheck{retry: retry}
}

func (c *rdsPublicCheck) ID() string { return "rds-public" }

func (c *rdsPublicCheck) Run(ctx context.Context, clients Clients, scope string, acc *Accumulator) error {
	var instances *rds.DescribeDBInstancesOutput
	err := Call(ctx, c.retry, func(ctx context.Context) error {
		var callErr error
		instances, callErr = clients.RDS.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{})
		return callErr
	})
	if err != nil {
		return fmt.Errorf("describe db instances: %w", err)
	}

	acc.CountScanned(len(instances.DBInstances))

	for _, instance := range instances.DBInstances {
		if !aws.ToBool(instance.PubliclyAccessible) {
			continue
		}
		acc.Add(domain.Finding{
			ResourceID:   aws.ToString(instance.DBInstanceIdentifier),
			ResourceType: "rds",
			Issue: fmt.Sprintf("database instance (%s) is publicly accessible",
				aws.ToString(instance.Engine)),
			Recommendation: "disable public accessibility and route access through a bastion or VPN",
			Severity:       domain.SeverityCritical,
		})
	}

	return nil
}
