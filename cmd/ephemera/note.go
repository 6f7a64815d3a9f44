package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alwitt/ephemera/expiry"
	"github.com/alwitt/ephemera/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Create and read self destructing notes",
}

var noteCreateCmd = &cobra.Command{
	Use:   "create [text]",
	Short: "Create a note",
	Long: `Create a note from the argument, or from standard input when no argument is given.

The printed note ID is the only way to read the note again.`,
	Example: `  ephemera note create --lifetime 1w "the code is 4711"
  cat secret.txt | ephemera note create --lifetime read-once --password hunter2`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lifetime, _ := cmd.Flags().GetString("lifetime")
		password, _ := cmd.Flags().GetString("password")

		var text []byte
		if len(args) == 1 {
			text = []byte(args[0])
		} else {
			var err error
			if text, err = io.ReadAll(cmd.InOrStdin()); err != nil {
				return fmt.Errorf("failed to read note text: %w", err)
			}
		}

		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		note, err := host.Notes.Create(cmd.Context(), store.CreateNoteParams{
			PlainText: text, Selector: lifetime, Password: password,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, color.GreenString("✓")+" Note created")
		fmt.Fprintln(out, "  ID:      "+color.CyanString(note.ID))
		fmt.Fprintln(out, "  Expires: "+describeNoteExpiry(note.DeleteAfterRead, note.ExpiresAt))
		return nil
	},
}

var noteViewCmd = &cobra.Command{
	Use:   "view <note-id>",
	Short: "Read a note",
	Long: `Read a note. Read-once notes are destroyed by a successful read and need --confirm.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		params := store.ViewNoteParams{ID: args[0], Confirm: confirm}
		if cmd.Flags().Changed("password") {
			password, _ := cmd.Flags().GetString("password")
			params.Password = &password
		}

		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		outcome, err := host.Notes.View(cmd.Context(), params)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch outcome.Outcome {
		case store.ViewOutcomeShown:
			_, err = out.Write(outcome.PlainText)
			clear(outcome.PlainText)
			if err == nil {
				fmt.Fprintln(out)
			}
			return err
		case store.ViewOutcomeNeedsConfirmation:
			hint := "--confirm"
			if outcome.HasPassword {
				hint += " --password <password>"
			}
			fmt.Fprintln(out, color.YellowString("!")+
				" This note will be destroyed once read. Re-run with "+hint)
			return nil
		case store.ViewOutcomeWrongPassword:
			return errors.New("wrong password")
		case store.ViewOutcomeDecryptError:
			return errors.New("note could not be decrypted")
		default:
			return errors.New("note not found; it may have expired or already been read")
		}
	},
}

var noteStatusCmd = &cobra.Command{
	Use:   "status <note-id>",
	Short: "Show whether a note still exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		status, err := host.Notes.Status(cmd.Context(), args[0])
		if errors.Is(err, store.ErrGone) {
			fmt.Fprintln(cmd.OutOrStdout(), color.RedString("✗")+" Gone")
			return nil
		} else if err != nil {
			return err
		}

		faint := color.New(color.Faint).SprintFunc()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, color.GreenString("✓")+" Available")
		fmt.Fprintln(out, "  Created:  "+faint(status.CreatedAt.String()))
		fmt.Fprintln(out, "  Expires:  "+describeNoteExpiry(status.DeleteAfterRead, status.ExpiresAt))
		fmt.Fprintf(out, "  Password: %v\n", status.HasPassword)
		return nil
	},
}

var noteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live notes, newest first",
	Long:  `List live notes. Only metadata is shown; note text is never decrypted.`,
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

		notes, err := host.Notes.ListPage(cmd.Context(), query)
		if err != nil {
			return err
		}

		faint := color.New(color.Faint).SprintFunc()
		out := cmd.OutOrStdout()
		if len(notes) == 0 {
			fmt.Fprintln(out, faint("no entries"))
			return nil
		}
		for _, note := range notes {
			lock := ""
			if note.HasPassword {
				lock = color.YellowString(" [password]")
			}
			fmt.Fprintf(out, "%s %s expires %s%s\n",
				color.CyanString(note.ID),
				faint(note.CreatedAt.String()),
				describeNoteExpiry(note.DeleteAfterRead, note.ExpiresAt),
				lock,
			)
		}
		return nil
	},
}

func describeNoteExpiry(deleteAfterRead bool, expiresAt expiry.NullInstant) string {
	if deleteAfterRead {
		return "after first read"
	}
	if !expiresAt.Valid {
		return "never"
	}
	return expiresAt.Instant.String()
}

func selectorHelp() string {
	names := make([]string, 0)
	for _, selector := range expiry.Selectors() {
		names = append(names, string(selector))
	}
	return "note lifetime: " + strings.Join(names, ", ")
}

func init() {
	noteCreateCmd.Flags().StringP("lifetime", "l", string(expiry.SelectorReadOnce), selectorHelp())
	noteCreateCmd.Flags().StringP("password", "p", "", "optional password")
	noteViewCmd.Flags().StringP("password", "p", "", "note password")
	noteViewCmd.Flags().Bool("confirm", false, "destroy a read-once note by reading it")

	addPageFlags(noteListCmd)

	noteCmd.AddCommand(noteCreateCmd, noteViewCmd, noteStatusCmd, noteListCmd)
	rootCmd.AddCommand(noteCmd)
}
