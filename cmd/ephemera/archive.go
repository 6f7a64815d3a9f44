package main

import (
	"fmt"
	"time"

	"github.com/alwitt/ephemera/expiry"
	"github.com/alwitt/ephemera/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Inspect retention copies of read-once notes",
}

var retentionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unexpired retention copies, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		query, err := readPageQuery(cmd)
		if err != nil {
			return err
		}

		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		entries, err := host.Retention.ListPage(cmd.Context(), query)
		if err != nil {
			return err
		}

		faint := color.New(color.Faint).SprintFunc()
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, faint("no entries"))
			return nil
		}
		for _, entry := range entries {
			fmt.Fprintf(out, "%s %s %s\n",
				color.CyanString(entry.Entry.NoteID),
				faint(entry.Entry.CreatedAt.String()+" until "+entry.Entry.ExpiresAt.String()),
				displayPreview(entry.Preview, entry.DecryptFailed),
			)
		}
		return nil
	},
}

var flaggedCmd = &cobra.Command{
	Use:   "flagged",
	Short: "Inspect notes flagged by the content policy",
}

var flaggedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flagged notes, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		query, err := readPageQuery(cmd)
		if err != nil {
			return err
		}
		if terms, _ := cmd.Flags().GetString("terms"); terms != "" {
			query.MatchedTermsContains = &terms
		}

		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		entries, err := host.Flagged.ListPage(cmd.Context(), query)
		if err != nil {
			return err
		}

		faint := color.New(color.Faint).SprintFunc()
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, faint("no entries"))
			return nil
		}
		for _, entry := range entries {
			fmt.Fprintf(out, "%s %s [%s] %s\n",
				color.CyanString(entry.Entry.NoteID),
				faint(entry.Entry.CreatedAt.String()),
				color.YellowString(entry.Entry.MatchedTerms),
				displayPreview(entry.Preview, entry.DecryptFailed),
			)
		}
		return nil
	},
}

// readPageQuery parse the shared paging and filter flags
func readPageQuery(cmd *cobra.Command) (store.PageQuery, error) {
	page, _ := cmd.Flags().GetInt("page")
	size, _ := cmd.Flags().GetInt("size")
	query := store.PageQuery{Page: page, PageSize: size}

	if id, _ := cmd.Flags().GetString("id"); id != "" {
		query.IDContains = &id
	}
	if day, _ := cmd.Flags().GetString("date"); day != "" {
		parsed, err := time.Parse(time.DateOnly, day)
		if err != nil {
			return store.PageQuery{}, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
		}
		onDay, err := expiry.NewInstant(parsed)
		if err != nil {
			return store.PageQuery{}, err
		}
		query.OnDay = &onDay
	}
	return query, nil
}

func displayPreview(preview string, decryptFailed bool) string {
	if decryptFailed {
		return color.RedString("<decryption failed>")
	}
	return preview
}

func addPageFlags(cmd *cobra.Command) {
	cmd.Flags().Int("page", 1, "page number")
	cmd.Flags().Int("size", store.DefaultPageSize, "entries per page")
	cmd.Flags().String("id", "", "only notes whose ID contains this text")
	cmd.Flags().String("date", "", "only entries created or expiring on this UTC day (YYYY-MM-DD)")
}

func init() {
	addPageFlags(retentionListCmd)
	addPageFlags(flaggedListCmd)
	flaggedListCmd.Flags().String("terms", "", "only entries whose matched terms contain this text")

	retentionCmd.AddCommand(retentionListCmd)
	flaggedCmd.AddCommand(flaggedListCmd)
	rootCmd.AddCommand(retentionCmd, flaggedCmd)
}
