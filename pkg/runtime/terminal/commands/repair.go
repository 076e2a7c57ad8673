package commands

import (
	"github.com/de-tools/cloud-sentry/pkg/runtime/terminal/export"
	"github.com/de-tools/cloud-sentry/pkg/services/consistency"
	"github.com/spf13/cobra"
)

type RepairCmd struct {
	dbPath   string
	account  string
	runID    string
	reporter *export.Reporter
}

func NewRepairCmd(reporter *export.Reporter) *cobra.Command {
	rc := &RepairCmd{reporter: reporter}
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Rebuild divergent result views from the surviving side",
		RunE:  rc.run,
	}

	cmd.Flags().StringVar(&rc.dbPath, "db", defaultDBPath, "Path to the local results database")
	cmd.Flags().StringVar(&rc.account, "account", "", "Account id to repair")
	cmd.Flags().StringVar(&rc.runID, "run", "", "Repair one run instead of the whole account")

	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func (rc *RepairCmd) run(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(rc.dbPath)
	if err != nil {
		return err
	}
	defer e.close()

	_, repairer := e.consistency()

	var reports []*consistency.RepairReport
	if rc.runID != "" {
		report, err := repairer.RepairRun(cmd.Context(), rc.account, rc.runID)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	} else {
		reports, err = repairer.RepairAccount(cmd.Context(), rc.account)
		if err != nil {
			return err
		}
	}

	return rc.reporter.HandleRepair(reports)
}
