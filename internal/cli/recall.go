package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/engram/internal/recall"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Search memories",
		Long: "Rank memories for a query. Critical and pinned entries always come first.\n" +
			"Without a query or tag, returns the latest entries.",
		Run: runRecall,
	}

	cmd.Flags().StringSliceP("tag", "t", nil, "Only entries carrying one of these tags")
	cmd.Flags().StringP("sort", "s", "relevance", "Sort: relevance, time, tag")
	cmd.Flags().Int("latest", 0, "Return the N most recent entries, skipping lexical scoring")
	cmd.Flags().IntP("limit", "n", 0, "Max scored results after pinned entries (default from config)")
	cmd.Flags().Bool("include-deprecated", false, "Include deprecated entries")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	tags, _ := cmd.Flags().GetStringSlice("tag")
	sortStr, _ := cmd.Flags().GetString("sort")
	latest, _ := cmd.Flags().GetInt("latest")
	limit, _ := cmd.Flags().GetInt("limit")
	includeDeprecated, _ := cmd.Flags().GetBool("include-deprecated")
	query := strings.Join(args, " ")

	if strings.TrimSpace(query) == "" && len(tags) == 0 && !cmd.Flags().Changed("latest") {
		exitErr("recall", fmt.Errorf("provide a query, --tag or --latest"))
	}
	sort, err := recall.ParseSort(sortStr)
	if err != nil {
		exitErr("recall", err)
	}

	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	hits, err := g.Recall(cmd.Context(), recall.Query{
		Text:              query,
		Tags:              tags,
		Sort:              sort,
		Latest:            latest,
		Limit:             limit,
		IncludeDeprecated: includeDeprecated,
	})
	if err != nil {
		exitErr("recall", err)
	}
	if hits == nil {
		hits = []recall.Hit{}
	}
	printJSON(cmd, hits)
}
