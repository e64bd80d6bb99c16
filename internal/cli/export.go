package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/engram/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long: "Export every memory as a JSON array. With --sqlite, write a snapshot database\n" +
			"with a full-text index over body chunks instead.",
		Run: runExport,
	}

	cmd.Flags().Bool("include-deprecated", false, "Include deprecated memories")
	cmd.Flags().String("sqlite", "", "Write a SQLite snapshot to this path")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	includeDeprecated, _ := cmd.Flags().GetBool("include-deprecated")
	sqlitePath, _ := cmd.Flags().GetString("sqlite")

	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	if sqlitePath != "" {
		res, err := g.ExportSQLite(cmd.Context(), sqlitePath)
		if err != nil {
			exitErr("export sqlite", err)
		}
		printJSON(cmd, res)
		return
	}

	entries, err := g.Export(cmd.Context(), includeDeprecated)
	if err != nil {
		exitErr("export", err)
	}
	if entries == nil {
		entries = []*model.Entry{}
	}
	printJSON(cmd, entries)
}
