package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect cmz configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "config.show")
		defer span.End()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		dirState := "exists"
		if _, err := os.Stat(cfg.DataDir); err != nil {
			dirState = "missing"
		}
		signing := redact(cfg.SigningKey)
		if cfg.UsingDefaultSigningKey() {
			signing += " (derived default)"
		}

		fmt.Fprintf(out, "Data directory:      %s (%s)\n", cfg.DataDir, dirState)
		fmt.Fprintf(out, "Signing key:         %s\n", signing)
		fmt.Fprintf(out, "Profile encryption:  %s\n", redact(cfg.ProfileKey))
		fmt.Fprintf(out, "API keys:            %d\n", len(apiKeys(cfg)))
		fmt.Fprintf(out, "Guardrails DB:       %s\n", cfg.GuardrailsDBPath())
		fmt.Fprintf(out, "Analytics DB:        %s\n", cfg.AnalyticsDBPath())
		fmt.Fprintf(out, "Profile DB:          %s\n", cfg.ProfileDBPath())
		fmt.Fprintf(out, "Moderation:          model=%s timeout=%s attempts=%d key=%s\n",
			cfg.Moderation.Model, cfg.Moderation.Timeout, cfg.Moderation.Attempts, redact(cfg.Moderation.APIKey))
		fmt.Fprintf(out, "Completion:          provider=%s model=%s rps=%.2f key=%s\n",
			cfg.Completion.Provider, cfg.Completion.Model, cfg.Completion.RequestsPerSecond, redact(cfg.Completion.APIKey))
		fmt.Fprintf(out, "Context:             ceiling=%d ratio=%.2f floor=%.2f\n",
			cfg.Context.TokenCeiling, cfg.Context.ReductionRatio, cfg.Context.QualityFloor)
		fmt.Fprintf(out, "Analytics:           backend=%s transport=%s\n", cfg.Analytics.Backend, cfg.Analytics.Transport)
		fmt.Fprintf(out, "Retention:           analytics=%dd archives=%dd schedule=%s\n",
			cfg.Retention.AnalyticsDays, cfg.Retention.ArchiveDays, cfg.Retention.Schedule)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
