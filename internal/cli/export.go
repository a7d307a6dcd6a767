package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cervicel-cytology-server/internal/archive"
)

func newExportCommand(a *app) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export archived reports as JSON or XLSX",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "json" && format != "xlsx" {
				return formatError("export", format)
			}

			c, err := a.build(cmd.Context(), true, false)
			if err != nil {
				return err
			}
			defer c.Close()

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			if format == "xlsx" {
				err = archive.ExportXLSX(cmd.Context(), c.store, w)
			} else {
				err = archive.ExportJSON(cmd.Context(), c.store, w)
			}
			if err != nil {
				return err
			}

			total, err := c.store.Count(cmd.Context())
			if err != nil {
				return err
			}
			a.logger.WithField("reports", total).WithField("format", format).Info("Export complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "export format: json or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import reports from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()

			c, err := a.build(cmd.Context(), true, false)
			if err != nil {
				return err
			}
			defer c.Close()

			imported, skipped, err := archive.ImportJSON(cmd.Context(), c.store, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d reports, skipped %d\n", imported, skipped)
			return nil
		},
	}
}

func formatError(kind, format string) error {
	return fmt.Errorf("unsupported %s format %q", kind, format)
}
