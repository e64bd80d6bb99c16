package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/engram/internal/model"
)

func init() {
	promote := &cobra.Command{
		Use:   "promote <id>",
		Short: "Move a memory to the cortex",
		Args:  cobra.ExactArgs(1),
		Run:   runPromote,
	}
	consolidate := &cobra.Command{
		Use:   "consolidate",
		Short: "Promote eligible hippocampus memories and repair the store",
		Run:   runConsolidate,
	}
	deprecate := &cobra.Command{
		Use:   "deprecate <id>",
		Short: "Hide a memory from default recall",
		Long:  "Mark a memory deprecated. The file stays; edit --deprecated=false reverses it.",
		Args:  cobra.ExactArgs(1),
		Run:   runDeprecate,
	}
	audit := &cobra.Command{
		Use:   "audit",
		Short: "List every critical memory, newest first",
		Run:   runAudit,
	}
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired memories from disk",
		Run:   runPurge,
	}

	RootCmd.AddCommand(promote, consolidate, deprecate, audit, purge)
}

func runPromote(cmd *cobra.Command, args []string) {
	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	e, changed, err := g.Promote(cmd.Context(), args[0])
	if err != nil {
		exitErr("promote", err)
	}
	printJSON(cmd, map[string]any{"entry": e, "changed": changed})
}

func runConsolidate(cmd *cobra.Command, args []string) {
	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	report, err := g.Consolidate(cmd.Context())
	if err != nil {
		exitErr("consolidate", err)
	}
	printJSON(cmd, report)
}

func runDeprecate(cmd *cobra.Command, args []string) {
	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	e, err := g.Deprecate(cmd.Context(), args[0])
	if err != nil {
		exitErr("deprecate", err)
	}
	printJSON(cmd, e)
}

func runAudit(cmd *cobra.Command, args []string) {
	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	entries := []*model.Entry{}
	for e, err := range g.Audit(cmd.Context()) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			continue
		}
		entries = append(entries, e)
	}
	printJSON(cmd, entries)
}

func runPurge(cmd *cobra.Command, args []string) {
	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	purged, err := g.Purge(cmd.Context())
	if err != nil {
		exitErr("purge", err)
	}
	if purged == nil {
		purged = []string{}
	}
	printJSON(cmd, map[string]any{"purged": purged})
}
