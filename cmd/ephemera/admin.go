package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alwitt/ephemera/db"
	"github.com/alwitt/ephemera/models"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database tables",
	Long: `Create or update the database tables and bootstrap the first data encryption key.

Safe to run repeatedly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" Database ready, working key "+
			color.CyanString(host.Box.WorkingKeyID()))
		return nil
	},
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Purge expired notes, sections and retention copies",
	Long: `Purge expired content. Runs one pass with --once, otherwise repeats every
EPHEMERA_REAP_INTERVAL until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		host, err := openHost(ctx, false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		if !once {
			fmt.Fprintln(cmd.OutOrStdout(), color.CyanString("→")+" Reaping every "+
				cfg.ReapInterval.String())
			return host.Reaper.Run(ctx, cfg.ReapInterval)
		}

		report, err := host.Reaper.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %d notes, %d sections, %d retention copies\n",
			color.GreenString("✓"), report.Notes, report.Sections, report.Retention)
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage data encryption keys",
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Start sealing with a new data key",
	Long: `Define a new working data encryption key and retire the current one.

Content sealed by the retired key stays readable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		previous := host.Box.WorkingKeyID()
		key, err := host.Box.RotateWorkingKey(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Retired %s, now sealing with %s\n",
			color.GreenString("✓"), previous, color.CyanString(key.ID))
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List data encryption keys, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		keys, err := host.Box.ListKeys(cmd.Context())
		if err != nil {
			return err
		}
		faint := color.New(color.Faint).SprintFunc()
		working := host.Box.WorkingKeyID()
		for _, key := range keys {
			marker := " "
			if key.ID == working {
				marker = color.GreenString("*")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %-8s %s\n",
				marker, color.CyanString(key.ID), key.State, faint(key.CreatedAt.UTC().Format(time.RFC3339)))
		}
		return nil
	},
}

// keyStateCmd build a command moving one key to a state
func keyStateCmd(use, short string, state models.EncryptionKeyStateENUMType) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <key-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := openHost(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeHost(cmd, host)

			key, err := host.Box.SetKeyState(cmd.Context(), args[0], state)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Key %s is %s, sealing with %s\n",
				color.GreenString("✓"), key.ID, key.State, color.CyanString(host.Box.WorkingKeyID()))
			return nil
		},
	}
}

var keysDeleteCmd = &cobra.Command{
	Use:   "delete <key-id>",
	Short: "Delete a data key no stored content depends on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		if err := host.Box.DeleteKey(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" Key "+args[0]+" deleted")
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the system audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List system events, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := db.SystemEventQueryFilter{}
		if slug, _ := cmd.Flags().GetString("section"); slug != "" {
			filter.SectionSlug = &slug
		}
		eventTypes, _ := cmd.Flags().GetStringSlice("type")
		for _, eventType := range eventTypes {
			filter.EventTypes = append(
				filter.EventTypes, models.SystemEventTypeENUMType(strings.ToUpper(eventType)),
			)
		}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
			filter.Limit = &limit
		}

		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		events, err := host.ListAuditEvents(cmd.Context(), filter)
		if err != nil {
			return err
		}
		faint := color.New(color.Faint).SprintFunc()
		for _, event := range events {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
				faint(event.CreatedAt.UTC().Format(time.RFC3339)),
				color.CyanString(string(event.EventType)),
				string(event.Metadata),
			)
		}
		return nil
	},
}

func init() {
	reapCmd.Flags().Bool("once", false, "run a single pass and exit")
	auditListCmd.Flags().String("section", "", "only events about the section with this slug")
	auditListCmd.Flags().StringSlice("type", nil, "only events of these types")
	auditListCmd.Flags().Int("limit", 0, "at most this many events")

	keysCmd.AddCommand(
		keysRotateCmd,
		keysListCmd,
		keyStateCmd("activate", "Let a key seal new content again", models.EncryptionKeyStateActive),
		keyStateCmd("retire", "Keep a key for opening existing content only", models.EncryptionKeyStateRetired),
		keyStateCmd("deactivate", "Disable a key entirely", models.EncryptionKeyStateInactive),
		keysDeleteCmd,
	)
	auditCmd.AddCommand(auditListCmd)
	rootCmd.AddCommand(migrateCmd, reapCmd, keysCmd, auditCmd)
}
