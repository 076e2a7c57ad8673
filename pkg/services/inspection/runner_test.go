package inspection

import (
	"context"
	"errors"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/de-tools/cloud-sentry/pkg/models/domain"
	"github.com/de-tools/cloud-sentry/pkg/services/checks"
	"github.com/de-tools/cloud-sentry/pkg/services/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunner(t *testing.T, catalog *checks.Catalog) *CheckRunner {
	t.Helper()
	return NewCheckRunner(catalog, func(awssdk.Config) checks.Clients {
		return checks.Clients{}
	})
}

func TestRunCheckSuccess(t *testing.T) {
	catalog := checks.NewCatalog()
	catalog.Register(checks.KindStorage, &scriptedCheck{
		id: "public-access",
		run: func(acc *checks.Accumulator) error {
			acc.CountScanned(3)
			acc.Add(domain.Finding{ResourceID: "bucket-1", Issue: "public reads"})
			return nil
		},
	})
	runner := newRunner(t, catalog)

	creds := &credentials.Credentials{Reference: "arn:test"}
	res, err := runner.RunCheck(context.Background(), creds, "public-access", "111122223333")
	require.NoError(t, err)

	assert.Equal(t, "public-access", res.CheckID)
	assert.Equal(t, "111122223333", res.Scope)
	assert.Len(t, res.Findings, 1)
	assert.Equal(t, 3, res.ResourcesScanned)
	assert.False(t, res.CompletedAt.IsZero())
}

func TestRunCheckUnknownID(t *testing.T) {
	runner := newRunner(t, checks.NewCatalog())

	creds := &credentials.Credentials{}
	_, err := runner.RunCheck(context.Background(), creds, "not-a-check", "acct")
	require.Error(t, err)
	assert.ErrorIs(t, err, checks.ErrUnknownCheck)
}

func TestRunCheckMissingCredentials(t *testing.T) {
	runner := newRunner(t, checks.NewCatalog())

	_, err := runner.RunCheck(context.Background(), nil, "public-access", "acct")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing credentials")
}

func TestRunCheckExpiredCredentials(t *testing.T) {
	runner := newRunner(t, checks.NewCatalog())

	creds := &credentials.Credentials{ExpiresAt: time.Now().Add(-time.Minute)}
	_, err := runner.RunCheck(context.Background(), creds, "public-access", "acct")
	require.Error(t, err)
	assert.ErrorIs(t, err, credentials.ErrExpired)
}

func TestRunCheckRecoversPanic(t *testing.T) {
	catalog := checks.NewCatalog()
	catalog.Register(checks.KindStorage, &scriptedCheck{
		id: "public-access",
		run: func(*checks.Accumulator) error {
			panic("nil dereference in provider response")
		},
	})
	runner := newRunner(t, catalog)

	creds := &credentials.Credentials{}
	_, err := runner.RunCheck(context.Background(), creds, "public-access", "acct")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestRunCheckReturnsPartialFindingsOnError(t *testing.T) {
	catalog := checks.NewCatalog()
	catalog.Register(checks.KindStorage, &scriptedCheck{
		id: "public-access",
		run: func(acc *checks.Accumulator) error {
			acc.CountScanned(2)
			acc.Add(domain.Finding{ResourceID: "bucket-1", Issue: "public reads"})
			return errors.New("listing interrupted")
		},
	})
	runner := newRunner(t, catalog)

	creds := &credentials.Credentials{}
	res, err := runner.RunCheck(context.Background(), creds, "public-access", "acct")
	require.Error(t, err)

	assert.Len(t, res.Findings, 1)
	assert.Equal(t, 2, res.ResourcesScanned)
}
