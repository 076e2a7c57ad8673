package checks

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/de-tools/cloud-sentry/pkg/models/domain"
)

type S3API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	GetPublicAccessBlock(ctx context.Context, params *s3.GetPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error)
}

type publicAccessCheck struct {
	retry RetrySettings
}

// NewPublicAccessCheck audits S3 buckets for missing or incomplete public
// access blocks.
func NewPublicAccessCheck(retry RetrySettings) Check {
	return &publicAccessCheck{retry: retry}
}

func (c *publicAccessCheck) ID() string { return "public-access" }

func (c *publicAccessCheck) Run(ctx context.Context, clients Clients, scope string, acc *Accumulator) error {
	var buckets *s3.ListBucketsOutput
	err := Call(ctx, c.retry, func(ctx context.Context) error {
		var callErr error
		buckets, callErr = clients.S3.ListBuckets(ctx, &s3.ListBucketsInput{})
		return callErr
	})
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}

	acc.CountScanned(len(buckets.Buckets))

	for _, bucket := range buckets.Buckets {
		name := aws.ToString(bucket.Name)

		var block *s3.GetPublicAccessBlockOutput
		err := Call(ctx, c.retry, func(ctx context.Context) error {
			var callErr error
			block, callErr = clients.S3.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{
				Bucket: bucket.Name,
			})
			return callErr
		})
		if err != nil {
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchPublicAccessBlockConfiguration" {
				acc.Add(domain.Finding{
					ResourceID:     name,
					ResourceType:   "s3",
					Issue:          "bucket has no public access block configuration",
					Recommendation: "apply a public access block with all four settings enabled",
					Severity:       domain.SeverityHigh,
				})
				continue
			}
			return fmt.Errorf("get public access block for %s: %w", name, err)
		}

		cfg := block.PublicAccessBlockConfiguration
		if cfg == nil {
			continue
		}
		if !aws.ToBool(cfg.BlockPublicAcls) || !aws.ToBool(cfg.BlockPublicPolicy) ||
			!aws.ToBool(cfg.IgnorePublicAcls) || !aws.ToBool(cfg.RestrictPublicBuckets) {
			acc.Add(domain.Finding{
				ResourceID:     name,
				ResourceType:   "s3",
				Issue:          "bucket public access block is not fully enabled",
				Recommendation: "enable BlockPublicAcls, BlockPublicPolicy, IgnorePublicAcls and RestrictPublicBuckets",
				Severity:       domain.SeverityMedium,
			})
		}
	}

	return nil
}
