package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/engram/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import memories from JSON",
		Long:  "Import memories from JSON (stdin or file). Expects the format produced by export; ids already present are skipped.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	var entries []*model.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		exitErr("parse json", err)
	}

	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	res, err := g.Import(cmd.Context(), entries)
	if err != nil {
		exitErr("import", err)
	}
	printJSON(cmd, res)
}
