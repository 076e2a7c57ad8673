package inspection

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/de-tools/cloud-sentry/pkg/models/domain"
	"github.com/de-tools/cloud-sentry/pkg/services/checks"
	"github.com/de-tools/cloud-sentry/pkg/services/credentials"
)

// ClientsFactory builds provider clients from assumed-account credentials.
type ClientsFactory func(cfg awssdk.Config) checks.Clients

func DefaultClients(cfg awssdk.Config) checks.Clients {
	return checks.Clients{
		S3:  s3.NewFromConfig(cfg),
		EC2: ec2.NewFromConfig(cfg),
		RDS: rds.NewFromConfig(cfg),
	}
}

// CheckRunner executes one named check against live account credentials.
// Errors never escape unclassified: provider failures come back retried or
// terminal, and a panicking check is converted to an error at this
// boundary. The returned result carries whatever findings were accumulated
// before a failure.
type CheckRunner struct {
	catalog *checks.Catalog
	clients ClientsFactory
	now     func() time.Time
}

func NewCheckRunner(catalog *checks.Catalog, clients ClientsFactory) *CheckRunner {
	if clients == nil {
		clients = DefaultClients
	}
	return &CheckRunner{
		catalog: catalog,
		clients: clients,
		now:     time.Now,
	}
}

func (r *CheckRunner) RunCheck(
	ctx context.Context,
	creds *credentials.Credentials,
	checkID, scope string,
) (result domain.CheckResult, err error) {
	result = domain.CheckResult{CheckID: checkID, Scope: scope}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("check %s panicked: %v", checkID, rec)
		}
	}()

	entry, err := r.catalog.Resolve(checkID)
	if err != nil {
		return result, err
	}

	if creds == nil {
		return result, fmt.Errorf("check %s: missing credentials", checkID)
	}
	if !creds.Valid(r.now()) {
		return result, fmt.Errorf("check %s: %w", checkID, credentials.ErrExpired)
	}

	acc := checks.NewAccumulator()
	runErr := entry.Check.Run(ctx, r.clients(creds.Config), scope, acc)

	result.Findings = acc.Findings()
	result.ResourcesScanned = acc.ResourcesScanned()
	result.CompletedAt = r.now()
	return result, runErr
}
