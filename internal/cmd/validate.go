package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nortal/cmz-chatbots/internal/guardrails"
	"github.com/nortal/cmz-chatbots/internal/validator"
)

var (
	validateFile     string
	validateAgeGroup string
	validateAnimal   string
	validateJSON     bool
)

var validateCmd = &cobra.Command{
	Use:   "validate [content]",
	Short: "Validate content against the active guardrails",
	Long: `Runs one content validation against the local guardrails store and prints
the outcome. Content comes from the argument, --file, or stdin with --file -.
Analytics are not recorded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "validate")
		defer span.End()

		content, err := readContent(cmd, args)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openGuardrails(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		v, err := newValidator(ctx, cfg, guardrails.NewResolver(store, guardrails.DefaultPropagationDelay))
		if err != nil {
			return err
		}
		out, err := v.Validate(ctx, content, validator.Context{AgeGroup: validateAgeGroup, AnimalID: validateAnimal})
		if err != nil {
			log.Error().Err(err).Msg("validation_failed")
			return fmt.Errorf("validation failed: %w", err)
		}

		w := cmd.OutOrStdout()
		if validateJSON {
			return printJSON(w, out)
		}
		fmt.Fprintf(w, "Result:     %s\n", out.Result)
		fmt.Fprintf(w, "Risk score: %s\n", formatScore(out.RiskScore))
		fmt.Fprintf(w, "Severity:   %s\n", out.HighestSeverity)
		fmt.Fprintf(w, "Config:     %s v%d\n", out.ConfigID, out.ConfigVersion)
		if out.Degraded {
			fmt.Fprintln(w, "Moderation: degraded")
		}
		for _, tr := range out.TriggeredRules {
			fmt.Fprintf(w, "  ✗ %s (%s, %s)\n", tr.RuleID, tr.RuleType, tr.Severity)
		}
		for _, tr := range out.AdvisoryRules {
			fmt.Fprintf(w, "  • %s (%s)\n", tr.RuleID, tr.RuleType)
		}
		if out.UserMessage != "" {
			fmt.Fprintf(w, "Message:    %s\n", out.UserMessage)
		}
		return nil
	},
}

func readContent(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case validateFile == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		return strings.TrimSpace(string(b)), err
	case validateFile != "":
		b, err := os.ReadFile(validateFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", validateFile, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return "", fmt.Errorf("content required: pass it as an argument or use --file")
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "read content from file (- for stdin)")
	validateCmd.Flags().StringVar(&validateAgeGroup, "age-group", "", "visitor age group (default: any)")
	validateCmd.Flags().StringVar(&validateAnimal, "animal", "", "animal id (default: any)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the full outcome as JSON")
}
