package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/engram/internal/engram"
	"github.com/rcliao/engram/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runRemember,
	}

	cmd.Flags().StringP("category", "c", "", "Category: decisions, patterns, context, journal, notes (required)")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().StringP("links", "l", "", "Comma-separated ids to link to")
	cmd.Flags().StringP("importance", "i", "", "Importance: low, normal, high")
	cmd.Flags().StringP("retention", "r", "", "Retention: reference, ephemeral, log")
	cmd.Flags().String("region", "", "Region: hippocampus or cortex (default: from importance and retention)")
	cmd.Flags().String("title", "", "Title (default: first line of content)")
	cmd.Flags().String("summary", "", "Summary (default: capsule of content)")
	cmd.Flags().String("pin-until", "", "Pin to the top of recall until a time or for a duration, e.g. 48h")
	cmd.Flags().String("expiry", "", "Expire at a time or after a duration")
	cmd.Flags().Bool("critical", false, "Mark as a critical constraint (requires --require-confirm)")
	cmd.Flags().Bool("require-confirm", false, "Confirm a critical entry")

	cmd.MarkFlagRequired("category")

	RootCmd.AddCommand(cmd)
}

func runRemember(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	tagsStr, _ := cmd.Flags().GetString("tags")
	linksStr, _ := cmd.Flags().GetString("links")
	importance, _ := cmd.Flags().GetString("importance")
	retention, _ := cmd.Flags().GetString("retention")
	region, _ := cmd.Flags().GetString("region")
	title, _ := cmd.Flags().GetString("title")
	summary, _ := cmd.Flags().GetString("summary")
	pinUntil, _ := cmd.Flags().GetString("pin-until")
	expiry, _ := cmd.Flags().GetString("expiry")
	critical, _ := cmd.Flags().GetBool("critical")
	confirm, _ := cmd.Flags().GetBool("require-confirm")

	if (critical || strings.EqualFold(importance, string(model.ImportanceCritical))) && !confirm {
		exitErr("remember", fmt.Errorf("a critical entry requires --require-confirm"))
	}

	content, err := readContent(args)
	if err != nil {
		exitErr("remember", err)
	}
	if strings.TrimSpace(content) == "" {
		exitErr("remember", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	p := engram.RememberParams{
		Body:     content,
		Title:    title,
		Summary:  summary,
		Tags:     splitList(tagsStr),
		Links:    splitList(linksStr),
		Critical: critical,
		Confirm:  confirm,
	}
	if p.Category, err = model.ParseCategory(category); err != nil {
		exitErr("remember", err)
	}
	if importance != "" {
		if p.Importance, err = model.ParseImportance(importance); err != nil {
			exitErr("remember", err)
		}
	}
	if retention != "" {
		if p.Retention, err = model.ParseRetention(retention); err != nil {
			exitErr("remember", err)
		}
	}
	if region != "" {
		if p.Region, err = model.ParseRegion(region); err != nil {
			exitErr("remember", err)
		}
	}
	now := time.Now()
	if p.PinUntil, err = optionalTime(pinUntil, now); err != nil {
		exitErr("pin-until", err)
	}
	if p.Expiry, err = optionalTime(expiry, now); err != nil {
		exitErr("expiry", err)
	}

	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	res, err := g.Remember(cmd.Context(), p)
	if err != nil {
		exitErr("remember", err)
	}
	printJSON(cmd, res)
}

func optionalTime(s string, now time.Time) (*time.Time, error) {
	t, err := parseWhen(s, now)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}
