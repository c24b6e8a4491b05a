package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nortal/cmz-chatbots/internal/doctor"
)

var (
	doctorJSON         bool
	doctorSkipUpstream bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run preflight checks (keys, default guardrails, stores, upstreams)",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print the report as JSON")
	doctorCmd.Flags().BoolVar(&doctorSkipUpstream, "skip-upstream", false, "skip network checks")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	ctx, span := tracer.Start(ctx, "doctor")
	defer span.End()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	report := doctor.Run(ctx, cfg, doctor.Options{APIKeys: len(apiKeys(cfg)), SkipUpstream: doctorSkipUpstream})

	out := cmd.OutOrStdout()
	if doctorJSON {
		if err := printJSON(out, report); err != nil {
			return err
		}
	} else {
		for _, c := range report.Checks {
			mark := "✓"
			switch c.Status {
			case doctor.StatusWarn:
				mark = "⚠"
			case doctor.StatusFail:
				mark = "✗"
			}
			fmt.Fprintf(out, "%s %-24s %s\n", mark, c.Name, c.Message)
			if c.Fix != "" && c.Status != doctor.StatusPass {
				fmt.Fprintf(out, "  fix: %s\n", c.Fix)
			}
		}
		fmt.Fprintf(out, "\n%d passed, %d warnings, %d failed\n", report.Summary.Pass, report.Summary.Warn, report.Summary.Fail)
	}
	if report.Status == doctor.StatusFail {
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}
