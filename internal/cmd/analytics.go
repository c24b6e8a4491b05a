package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nortal/cmz-chatbots/internal/analytics"
)

var (
	effectivenessWindow string
	effectivenessDetail bool
	effectivenessJSON   bool
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query rule analytics",
}

var analyticsEffectivenessCmd = &cobra.Command{
	Use:   "effectiveness <rule_id>",
	Short: "Show how effective a rule was over a window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "analytics.effectiveness")
		defer span.End()

		window, err := analytics.ParseWindow(effectivenessWindow)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openAnalyticsStore(cfg)
		if err != nil {
			return fmt.Errorf("initializing analytics: %w", err)
		}
		defer func() { _ = closeStore() }()

		eff, err := newAggregator(cfg, store).Effectiveness(ctx, args[0], window, effectivenessDetail)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if effectivenessJSON {
			return printJSON(w, eff)
		}
		fmt.Fprintf(w, "Rule:            %s (%s)\n", eff.RuleID, eff.Window)
		fmt.Fprintf(w, "Window:          %s to %s\n", eff.From.Format("2006-01-02 15:04"), eff.To.Format("2006-01-02 15:04"))
		fmt.Fprintf(w, "Triggers:        %d (previous %d, %s)\n", eff.TriggerCount, eff.PreviousTriggerCount, eff.Trend)
		fmt.Fprintf(w, "Block rate:      %s\n", formatRatio(eff.BlockRate))
		fmt.Fprintf(w, "Escalation rate: %s\n", formatRatio(eff.EscalationRate))
		fmt.Fprintf(w, "Avg confidence:  %s\n", formatScore(eff.AverageConfidence))
		fmt.Fprintf(w, "Severity:        critical=%d high=%d medium=%d low=%d\n",
			eff.SeverityBreakdown.Critical, eff.SeverityBreakdown.High, eff.SeverityBreakdown.Medium, eff.SeverityBreakdown.Low)
		fmt.Fprintf(w, "Effectiveness:   %s\n", formatScore(eff.EffectivenessScore))
		for _, b := range eff.Hourly {
			fmt.Fprintf(w, "  %s  %4d triggers  %4d blocked  %4d escalated\n",
				b.Hour.Format("2006-01-02 15:04"), b.TriggerCount, b.BlockCount, b.EscalationCount)
		}
		return nil
	},
}

func init() {
	analyticsEffectivenessCmd.Flags().StringVar(&effectivenessWindow, "window", "24h", "window (1h, 24h, 7d, 30d)")
	analyticsEffectivenessCmd.Flags().BoolVar(&effectivenessDetail, "detail", false, "include hourly buckets")
	analyticsEffectivenessCmd.Flags().BoolVar(&effectivenessJSON, "json", false, "print as JSON")

	analyticsCmd.AddCommand(analyticsEffectivenessCmd)
	rootCmd.AddCommand(analyticsCmd)
}
