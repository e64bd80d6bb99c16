package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Run:   runStats,
	}
	tags := &cobra.Command{
		Use:   "tags",
		Short: "List the distinct tags in the store",
		Run:   runTags,
	}
	repair := &cobra.Command{
		Use:   "repair",
		Short: "Rebuild backlinks and mirrors and drop stale duplicate copies",
		Run:   runRepair,
	}

	RootCmd.AddCommand(stats, tags, repair)
}

func runStats(cmd *cobra.Command, args []string) {
	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	stats, err := g.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	printJSON(cmd, stats)
}

func runTags(cmd *cobra.Command, args []string) {
	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	tags, err := g.Tags(cmd.Context())
	if err != nil {
		exitErr("tags", err)
	}
	if tags == nil {
		tags = []string{}
	}
	printJSON(cmd, tags)
}

func runRepair(cmd *cobra.Command, args []string) {
	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	report, err := g.Repair(cmd.Context())
	if err != nil {
		exitErr("repair", err)
	}
	printJSON(cmd, report)
}
