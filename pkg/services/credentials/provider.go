package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const (
	DefaultRegion   = "us-east-1"
	DefaultRoleName = "cloud-sentry-audit"
	sessionDuration = 15 * time.Minute
)

// ErrExpired marks credentials past their expiry. It is terminal for a run;
// the runner never retries it.
var ErrExpired = errors.New("credentials expired")

// Credentials are temporary, read-only scoped credentials for one audited
// account.
type Credentials struct {
	Config    awssdk.Config
	Reference string
	ExpiresAt time.Time
}

// Valid reports whether the credentials are usable at the given instant.
// A zero expiry means the upstream did not constrain it.
func (c *Credentials) Valid(now time.Time) bool {
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

type Provider interface {
	Assume(ctx context.Context, accountID string) (*Credentials, error)
}

type stsProvider struct {
	base     awssdk.Config
	roleName string
}

// NewSTSProvider loads the shared AWS profile, probes that its credentials
// resolve, and returns a provider that assumes the audit role in each
// target account.
func NewSTSProvider(ctx context.Context, profile, roleName string) (Provider, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithSharedConfigProfile(profile),
		config.WithDefaultRegion(DefaultRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	_, err = cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("invalid AWS credentials for profile %s: %w", profile, err)
	}

	if roleName == "" {
		roleName = DefaultRoleName
	}
	return &stsProvider{base: cfg, roleName: roleName}, nil
}

func (p *stsProvider) Assume(ctx context.Context, accountID string) (*Credentials, error) {
	roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, p.roleName)

	assumed := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(p.base), roleARN,
		func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "cloud-sentry"
			o.Duration = sessionDuration
		})

	cfg := p.base.Copy()
	cfg.Credentials = awssdk.NewCredentialsCache(assumed)

	resolved, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("assume role %s: %w", roleARN, err)
	}

	creds := &Credentials{
		Config:    cfg,
		Reference: roleARN,
		ExpiresAt: resolved.Expires,
	}
	if !creds.Valid(time.Now()) {
		return nil, fmt.Errorf("role %s: %w", roleARN, ErrExpired)
	}
	return creds, nil
}

// Static wraps already-resolved credentials; used by the CLI when auditing
// the profile's own account and by tests.
type Static struct {
	Creds Credentials
}

func (s *Static) Assume(_ context.Context, _ string) (*Credentials, error) {
	creds := s.Creds
	if !creds.Valid(time.Now()) {
		return nil, fmt.Errorf("%s: %w", creds.Reference, ErrExpired)
	}
	return &creds, nil
}
