/*
main.go - payoutd entry point

PURPOSE:
  Operator CLI and long-running services for the payout engine.

COMMANDS:
  generate        Generate the batch for a tenant, schedule type and date
  complete        Mark a batch completed (explicit confirmation step)
  payment-status  Move a scheduled payment to pending, paid or failed
  breakdown       Print a batch breakdown and cross-check it with sources
  batches         List batches by tenant, schedule type and date range
  next-date       Compute the next payment date for a preference
  migrate         Create or upgrade the database schema
  schedule        Run the scheduler until interrupted
  worker          Run the asynq worker until interrupted

CONFIGURATION:
  --config points at a YAML file; PAYOUT_* environment variables override
  it, and a .env file in the working directory is loaded first.

EXAMPLES:
  payoutd generate --tenant acme --schedule-type bi-weekly --date 2025-03-15
  payoutd breakdown 1899271623489
  PAYOUT_SCHEDULER_DISPATCH=queue payoutd schedule

SEE ALSO:
  - config: keys and defaults
  - payout: generation, breakdown and confirmation
*/
package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "payoutd",
		Short:         "Writer payment batching and earnings reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(generateCmd(&configPath))
	root.AddCommand(completeCmd(&configPath))
	root.AddCommand(paymentStatusCmd(&configPath))
	root.AddCommand(breakdownCmd(&configPath))
	root.AddCommand(batchesCmd(&configPath))
	root.AddCommand(nextDateCmd())
	root.AddCommand(migrateCmd(&configPath))
	root.AddCommand(scheduleCmd(&configPath))
	root.AddCommand(workerCmd(&configPath))

	return root
}
