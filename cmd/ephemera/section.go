package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alwitt/ephemera/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var sectionCmd = &cobra.Command{
	Use:     "section",
	Aliases: []string{"album"},
	Short:   "Share files that expire after a number of days",
}

var sectionCreateCmd = &cobra.Command{
	Use:   "create <file>...",
	Short: "Create a section from local files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		days, _ := cmd.Flags().GetInt("days")
		keepNames, _ := cmd.Flags().GetBool("keep-names")

		uploads := make([]store.UploadFile, 0, len(args))
		for _, filePath := range args {
			upload, closer, err := openUpload(filePath)
			if err != nil {
				return err
			}
			defer closer.Close()
			uploads = append(uploads, upload)
		}

		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		view, err := host.Sections.Create(cmd.Context(), store.CreateSectionParams{
			Title:                 title,
			LifetimeDays:          days,
			KeepOriginalFilenames: keepNames,
			Files:                 uploads,
		})
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" Section created")
		printSection(cmd, view)
		return nil
	},
}

var sectionShowCmd = &cobra.Command{
	Use:   "show <slug>",
	Short: "List the files of a section",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		section, err := host.Sections.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		files, err := host.Sections.ListFiles(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSection(cmd, store.SectionView{Section: section, Files: files})
		return nil
	},
}

var sectionAddCmd = &cobra.Command{
	Use:   "add <slug> <file>",
	Short: "Add a file to a section",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		upload, closer, err := openUpload(args[1])
		if err != nil {
			return err
		}
		defer closer.Close()

		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		file, err := host.Sections.AddFile(cmd.Context(), args[0], upload)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" Added "+file.OriginalName+
			" as "+color.CyanString(file.ID))
		return nil
	},
}

var sectionGetCmd = &cobra.Command{
	Use:   "get <slug> <file-id>",
	Short: "Download one file of a section",
	Long:  `Download one file of a section. Writes to standard output unless --out is given.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("out")

		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		_, content, err := host.Sections.OpenFile(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		defer content.Close()

		var sink io.Writer = cmd.OutOrStdout()
		if outPath != "" {
			outFile, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create '%s': %w", outPath, err)
			}
			defer outFile.Close()
			sink = outFile
		}
		if _, err := io.Copy(sink, content); err != nil {
			return fmt.Errorf("download failed: %w", err)
		}
		return nil
	},
}

var sectionDeleteCmd = &cobra.Command{
	Use:   "delete <slug>",
	Short: "Delete a section and its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeHost(cmd, host)

		if err := host.Sections.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" Section "+args[0]+" deleted")
		return nil
	},
}

func openUpload(filePath string) (store.UploadFile, io.Closer, error) {
	handle, err := os.Open(filePath)
	if err != nil {
		return store.UploadFile{}, nil, fmt.Errorf("failed to open '%s': %w", filePath, err)
	}
	info, err := handle.Stat()
	if err != nil {
		_ = handle.Close()
		return store.UploadFile{}, nil, fmt.Errorf("failed to stat '%s': %w", filePath, err)
	}
	if info.IsDir() {
		_ = handle.Close()
		return store.UploadFile{}, nil, fmt.Errorf("'%s' is a directory", filePath)
	}
	return store.UploadFile{
		Name: filepath.Base(filePath), Size: info.Size(), Content: handle,
	}, handle, nil
}

func printSection(cmd *cobra.Command, view store.SectionView) {
	faint := color.New(color.Faint).SprintFunc()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "  Slug:    "+color.CyanString(view.Section.Slug))
	if view.Section.Title != "" {
		fmt.Fprintln(out, "  Title:   "+view.Section.Title)
	}
	fmt.Fprintln(out, "  Expires: "+view.Section.ExpiresAt().String())
	fmt.Fprintf(out, "  Files:   %d\n", len(view.Files))
	for _, file := range view.Files {
		fmt.Fprintf(out, "    %s %s %s\n",
			color.CyanString("→"), file.OriginalName, faint(fmt.Sprintf("%s, %d bytes", file.ID, file.Size)))
	}
}

func init() {
	sectionCreateCmd.Flags().StringP("title", "t", "", "optional title")
	sectionCreateCmd.Flags().IntP("days", "d", 7, "days the section lives")
	sectionCreateCmd.Flags().Bool("keep-names", false, "store files under their original names")
	sectionGetCmd.Flags().StringP("out", "o", "", "write to this file")

	sectionCmd.AddCommand(
		sectionCreateCmd, sectionShowCmd, sectionAddCmd, sectionGetCmd, sectionDeleteCmd,
	)
	rootCmd.AddCommand(sectionCmd)
}
