package terminal

import (
	"io"
	"os"

	"github.com/de-tools/cloud-sentry/pkg/runtime/terminal/commands"
	"github.com/de-tools/cloud-sentry/pkg/runtime/terminal/export"
	"github.com/spf13/cobra"
)

// CLI is the interactive audit tool. It runs inspections synchronously
// against a local ledger, unlike the server which executes them in the
// background.
type CLI struct {
	reporter *export.Reporter
	rootCmd  *cobra.Command
}

type Options struct {
	Output io.Writer
}

func NewCLI(opts Options) *CLI {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	cli := &CLI{
		reporter: export.NewReporter(opts.Output),
	}

	cli.rootCmd = cli.newRootCmd()
	return cli
}

func (cli *CLI) Execute() error {
	return cli.rootCmd.Execute()
}

func (cli *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sentry",
		Short: "Cloud account audit tool",
	}

	cmd.AddCommand(commands.NewChecksCmd(cli.reporter))
	cmd.AddCommand(commands.NewInspectCmd(cli.reporter))
	cmd.AddCommand(commands.NewValidateCmd(cli.reporter))
	cmd.AddCommand(commands.NewRepairCmd(cli.reporter))

	return cmd
}
