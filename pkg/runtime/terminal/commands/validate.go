package commands

import (
	"github.com/de-tools/cloud-sentry/pkg/runtime/terminal/export"
	"github.com/de-tools/cloud-sentry/pkg/services/consistency"
	"github.com/spf13/cobra"
)

type ValidateCmd struct {
	dbPath   string
	account  string
	runID    string
	reporter *export.Reporter
}

func NewValidateCmd(reporter *export.Reporter) *cobra.Command {
	vc := &ValidateCmd{reporter: reporter}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check stored results for divergence between views",
		RunE:  vc.run,
	}

	cmd.Flags().StringVar(&vc.dbPath, "db", defaultDBPath, "Path to the local results database")
	cmd.Flags().StringVar(&vc.account, "account", "", "Account id to validate")
	cmd.Flags().StringVar(&vc.runID, "run", "", "Validate one run instead of the whole account")

	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func (vc *ValidateCmd) run(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(vc.dbPath)
	if err != nil {
		return err
	}
	defer e.close()

	validator, _ := e.consistency()

	var reports []*consistency.Report
	if vc.runID != "" {
		report, err := validator.ValidateRun(cmd.Context(), vc.account, vc.runID)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	} else {
		reports, err = validator.ValidateAccount(cmd.Context(), vc.account)
		if err != nil {
			return err
		}
	}

	return vc.reporter.HandleValidation(reports)
}
