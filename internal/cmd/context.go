package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nortal/cmz-chatbots/internal/profile"
)

var (
	contextArchives bool
	contextJSON     bool
	contextYes      bool
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Inspect or delete user context profiles",
}

var contextShowCmd = &cobra.Command{
	Use:   "show <user_id>",
	Short: "Show the context profile of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "context.show")
		defer span.End()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, store, err := openProfiles(cfg, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := svc.Get(ctx, args[0])
		if errors.Is(err, profile.ErrNotFound) {
			return fmt.Errorf("no context stored for user %s", args[0])
		}
		if err != nil {
			return err
		}
		var archives []profile.Archive
		if contextArchives {
			if archives, err = svc.Archives(ctx, args[0]); err != nil {
				return err
			}
		}

		w := cmd.OutOrStdout()
		if contextJSON {
			return printJSON(w, map[string]interface{}{"profile": p, "archives": archives})
		}
		fmt.Fprintf(w, "User:           %s (v%d, updated %s)\n", p.UserID, p.Version, p.LastUpdated.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Conversations:  %d\n", p.ConversationCount)
		fmt.Fprintf(w, "Learning level: %s\n", p.LearningLevel)
		fmt.Fprintf(w, "Tokens:         %d\n", p.TokenCountEstimate)
		fmt.Fprintf(w, "Interests:      %s\n", strings.Join(p.Interests, ", "))
		if p.RecentSummary != "" {
			fmt.Fprintf(w, "Recent:         %s\n", p.RecentSummary)
		}
		if p.HistoricalSummary != "" {
			fmt.Fprintf(w, "Historical:     %s\n", p.HistoricalSummary)
		}
		for _, q := range p.KeyQuotes {
			fmt.Fprintf(w, "  \"%s\"\n", q)
		}
		for _, a := range archives {
			fmt.Fprintf(w, "Archive %s (%d tokens, %s)\n", a.ArchivedAt.Format("2006-01-02 15:04:05"), a.TokenCount, a.Reason)
		}
		return nil
	},
}

var contextDeleteCmd = &cobra.Command{
	Use:   "delete <user_id>",
	Short: "Permanently delete a user's profile and archives",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "context.delete")
		defer span.End()

		if !contextYes {
			return fmt.Errorf("refusing to delete without --yes")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, store, err := openProfiles(cfg, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := svc.Delete(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %d rows for user %s\n", n, args[0])
		return nil
	},
}

func init() {
	contextShowCmd.Flags().BoolVar(&contextArchives, "archives", false, "include archived summaries")
	contextShowCmd.Flags().BoolVar(&contextJSON, "json", false, "print as JSON")
	contextDeleteCmd.Flags().BoolVar(&contextYes, "yes", false, "confirm the deletion")

	contextCmd.AddCommand(contextShowCmd, contextDeleteCmd)
	rootCmd.AddCommand(contextCmd)
}
