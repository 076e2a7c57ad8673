package commands

import (
	"github.com/de-tools/cloud-sentry/pkg/runtime/terminal/export"
	"github.com/de-tools/cloud-sentry/pkg/services/checks"
	"github.com/spf13/cobra"
)

func NewChecksCmd(reporter *export.Reporter) *cobra.Command {
	return &cobra.Command{
		Use:   "checks",
		Short: "List the available checks",
		RunE: func(*cobra.Command, []string) error {
			return reporter.HandleChecks(checks.NewCatalog().IDs())
		},
	}
}
