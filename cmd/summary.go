package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usagi-dev/usagi/core/aggregate"
	"github.com/usagi-dev/usagi/core/auth"
)

var summaryPIN string

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Run one daily rollup and print it",
	Long: `Aggregate the trailing window into today's summary row and print the
rendered markdown. This is the parent-facing surface, so it requires the
configured parent PIN.`,
	RunE: runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
	summaryCmd.Flags().StringVar(&summaryPIN, "pin", "", "parent PIN")
}

func runSummary(cmd *cobra.Command, _ []string) error {
	logger := setupLogger()
	ctx := cmd.Context()

	a, err := buildApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.manager.Get()
	if err := auth.NewParentGate(cfg.Parent.PIN).Verify(summaryPIN); err != nil {
		return err
	}

	aggregator := aggregate.New(a.store, aggregate.Config{
		Window: cfg.Aggregate.Window,
	}, logger)

	stats, err := aggregator.RunOnce(ctx)
	if err != nil {
		return err
	}

	summary, err := a.store.GetDailySummary(ctx, stats.Day)
	if err != nil {
		return err
	}
	if summary != nil {
		fmt.Println(summary.SummaryMarkdown)
	}
	return nil
}
