package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory",
		Long:  "Retrieve a memory by id from any region. Does not count as a recall.",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	e, err := g.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}
	printJSON(cmd, e)
}
