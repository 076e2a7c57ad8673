package checks

import (
	"context"

	"github.com/de-tools/cloud-sentry/pkg/models/domain"
)

// Accumulator collects findings and resource counts for one run. It is
// created by the controller, handed to each check in turn, and never shared
// across runs.
type Accumulator struct {
	findings []domain.Finding
	scanned  int
}

func NewAccumulator() *Accumulator {
	return &Accumulator{findings: make([]domain.Finding, 0)}
}

func (a *Accumulator) Add(f domain.Finding) {
	a.findings = append(a.findings, f)
}

func (a *Accumulator) CountScanned(n int) {
	a.scanned += n
}

// Findings returns a copy; callers may persist it without aliasing the
// accumulator's state.
func (a *Accumulator) Findings() []domain.Finding {
	out := make([]domain.Finding, len(a.findings))
	copy(out, a.findings)
	return out
}

func (a *Accumulator) ResourcesScanned() int {
	return a.scanned
}

// Check is one executable audit unit. Implementations make read-only
// provider calls only and must never mutate the audited account. Provider
// errors are retried via Call or returned classified; nothing escapes the
// boundary unconverted.
type Check interface {
	ID() string
	Run(ctx context.Context, clients Clients, scope string, acc *Accumulator) error
}

// Clients bundles the provider clients a check may use. Each check declares
// the narrow interface it needs so tests can stub it.
type Clients struct {
	S3  S3API
	EC2 EC2API
	RDS RDSAPI
}
