package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/de-tools/cloud-sentry/pkg/models/domain"
	"github.com/de-tools/cloud-sentry/pkg/runtime/terminal/export"
	"github.com/de-tools/cloud-sentry/pkg/services/credentials"
	"github.com/de-tools/cloud-sentry/pkg/services/inspection"
	"github.com/de-tools/cloud-sentry/pkg/services/progress"
	"github.com/spf13/cobra"
)

type InspectCmd struct {
	dbPath   string
	profile  string
	role     string
	account  string
	check    string
	scope    string
	timeout  time.Duration
	reporter *export.Reporter
}

func NewInspectCmd(reporter *export.Reporter) *cobra.Command {
	ic := &InspectCmd{reporter: reporter}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Run an inspection against an account",
		RunE:  ic.run,
	}

	cmd.Flags().StringVar(&ic.dbPath, "db", defaultDBPath, "Path to the local results database")
	cmd.Flags().StringVar(&ic.profile, "profile", "default", "AWS profile to authenticate with")
	cmd.Flags().StringVar(&ic.role, "role", "", "Audit role name to assume in the target account")
	cmd.Flags().StringVar(&ic.account, "account", "", "Account id to inspect")
	cmd.Flags().StringVar(&ic.check, "check", "", "Check id to run (all checks when omitted)")
	cmd.Flags().StringVar(&ic.scope, "scope", "", "Sub-scope to file results under")
	cmd.Flags().DurationVar(&ic.timeout, "timeout", 5*time.Minute, "Soft timeout for the run")

	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func (ic *InspectCmd) run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), ic.timeout+time.Minute)
	defer cancel()

	e, err := openEnv(ic.dbPath)
	if err != nil {
		return err
	}
	defer e.close()

	provider, err := credentials.NewSTSProvider(ctx, ic.profile, ic.role)
	if err != nil {
		return fmt.Errorf("failed to initialize credentials provider: %w", err)
	}

	runner := inspection.NewCheckRunner(e.catalog, nil)
	controller := inspection.NewController(runner, provider, e.results, e.ledger, progress.NewHub(),
		inspection.Settings{SoftTimeout: ic.timeout})

	run, err := controller.Execute(ctx, ic.account, domain.RunScope{CheckID: ic.check, Scope: ic.scope})
	if err != nil {
		return fmt.Errorf("failed to execute inspection: %w", err)
	}

	if err := ic.reporter.HandleRun(run); err != nil {
		return err
	}
	if run.Status == domain.RunStatusFailed {
		return fmt.Errorf("run %s failed", run.ID)
	}
	return nil
}
