package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nortal/cmz-chatbots/internal/guardrails"
	"github.com/nortal/cmz-chatbots/patterns"
)

var (
	guardrailsDefault  bool
	guardrailsAgeGroup string
	guardrailsAnimal   string
	guardrailsJSON     bool
)

var guardrailsCmd = &cobra.Command{
	Use:   "guardrails",
	Short: "Manage versioned guardrails configurations",
}

var guardrailsApplyCmd = &cobra.Command{
	Use:   "apply [file]",
	Short: "Create a new active version from a YAML or JSON document",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "guardrails.apply")
		defer span.End()

		var data []byte
		switch {
		case guardrailsDefault && len(args) == 0:
			data = patterns.GuardrailsDefaultYAML()
		case len(args) == 1 && !guardrailsDefault:
			b, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			data = b
		default:
			return fmt.Errorf("pass exactly one of a document path or --default")
		}

		doc, err := guardrails.ParseDocument(data)
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

		created, err := store.Create(ctx, doc, "cli")
		if err != nil {
			return fmt.Errorf("creating version: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s v%d active for %s (%d rules, hash %s)\n",
			created.ID, created.Version, created.Scope.Key(), len(created.Rules), shortHash(created.Hash))
		return nil
	},
}

var guardrailsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the configuration a scope resolves to",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "guardrails.show")
		defer span.End()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openGuardrails(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		scope := guardrails.Scope{AgeGroup: guardrailsAgeGroup, AnimalID: guardrailsAnimal}
		active, err := guardrails.NewResolver(store, 0).Resolve(ctx, scope)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if guardrailsJSON {
			return printJSON(w, active)
		}
		fmt.Fprintf(w, "%s v%d (%s)\n", active.ID, active.Version, active.Name)
		fmt.Fprintf(w, "Scope:     %s\n", active.Scope.Key())
		fmt.Fprintf(w, "Created:   %s by %s\n", active.CreatedAt.Format("2006-01-02 15:04:05"), active.CreatedBy)
		fmt.Fprintf(w, "Escalate:  risk > %.2f or > %d high rules\n", active.Params.EscalationThreshold, active.Params.MaxHighRules)
		for _, r := range active.Rules {
			state := "on"
			if !r.IsActive {
				state = "off"
			}
			fmt.Fprintf(w, "  %-32s %-10s %-8s %-10s %s\n", r.ID, r.Type, r.Severity, r.Match.Method, state)
		}
		return nil
	},
}

var guardrailsVersionsCmd = &cobra.Command{
	Use:   "versions <config_id>",
	Short: "List every version of a configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "guardrails.versions")
		defer span.End()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openGuardrails(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		versions, err := store.Versions(ctx, args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if guardrailsJSON {
			return printJSON(w, versions)
		}
		for _, v := range versions {
			marker := " "
			if v.IsActive {
				marker = "*"
			}
			fmt.Fprintf(w, "%s v%-4d %s  %-12s %s\n", marker, v.Version,
				v.CreatedAt.Format("2006-01-02 15:04:05"), v.CreatedBy, shortHash(v.Hash))
		}
		return nil
	},
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func init() {
	guardrailsApplyCmd.Flags().BoolVar(&guardrailsDefault, "default", false, "apply the built-in children's defaults")
	guardrailsShowCmd.Flags().StringVar(&guardrailsAgeGroup, "age-group", "", "age group (default: any)")
	guardrailsShowCmd.Flags().StringVar(&guardrailsAnimal, "animal", "", "animal id (default: any)")
	guardrailsShowCmd.Flags().BoolVar(&guardrailsJSON, "json", false, "print as JSON")
	guardrailsVersionsCmd.Flags().BoolVar(&guardrailsJSON, "json", false, "print as JSON")

	guardrailsCmd.AddCommand(guardrailsApplyCmd, guardrailsShowCmd, guardrailsVersionsCmd)
	rootCmd.AddCommand(guardrailsCmd)
}
