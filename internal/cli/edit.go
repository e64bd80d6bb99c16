package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/engram/internal/engram"
	"github.com/rcliao/engram/internal/model"
	"github.com/rcliao/engram/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "edit <id> [content]",
		Short: "Change a memory",
		Long:  "Change fields of a memory. Only flags that are given are applied; new content replaces the body.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runEdit,
	}

	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags (replaces the set)")
	cmd.Flags().StringP("links", "l", "", "Comma-separated links (replaces the set)")
	cmd.Flags().StringP("importance", "i", "", "Importance: low, normal, high, critical")
	cmd.Flags().StringP("retention", "r", "", "Retention: reference, ephemeral, log")
	cmd.Flags().String("region", "", "Region: hippocampus or cortex")
	cmd.Flags().String("title", "", "Title")
	cmd.Flags().String("summary", "", "Summary")
	cmd.Flags().String("pin-until", "", "Pin until a time or for a duration; none clears")
	cmd.Flags().String("expiry", "", "Expire at a time or after a duration; none clears")
	cmd.Flags().Bool("deprecated", false, "Set or clear the deprecated flag")
	cmd.Flags().Float64("strength", 0, "Override strength (clamped to the entry's floor and 1)")
	cmd.Flags().Bool("require-confirm", false, "Confirm raising importance to critical")

	RootCmd.AddCommand(cmd)
}

func runEdit(cmd *cobra.Command, args []string) {
	id := args[0]
	confirm, _ := cmd.Flags().GetBool("require-confirm")
	flags := cmd.Flags()

	var p store.Patch
	if len(args) > 1 {
		body, err := readContent(args[1:])
		if err != nil {
			exitErr("edit", err)
		}
		p.Body = &body
	}
	if flags.Changed("title") {
		v, _ := flags.GetString("title")
		p.Title = &v
	}
	if flags.Changed("summary") {
		v, _ := flags.GetString("summary")
		p.Summary = &v
	}
	if flags.Changed("tags") {
		v, _ := flags.GetString("tags")
		tags := splitList(v)
		p.Tags = &tags
	}
	if flags.Changed("links") {
		v, _ := flags.GetString("links")
		links := splitList(v)
		p.Links = &links
	}
	if flags.Changed("importance") {
		v, _ := flags.GetString("importance")
		imp, err := model.ParseImportance(v)
		if err != nil {
			exitErr("edit", err)
		}
		if imp == model.ImportanceCritical && !confirm {
			exitErr("edit", fmt.Errorf("a critical entry requires --require-confirm"))
		}
		p.Importance = &imp
	}
	if flags.Changed("retention") {
		v, _ := flags.GetString("retention")
		ret, err := model.ParseRetention(v)
		if err != nil {
			exitErr("edit", err)
		}
		p.Retention = &ret
	}
	if flags.Changed("region") {
		v, _ := flags.GetString("region")
		r, err := model.ParseRegion(v)
		if err != nil {
			exitErr("edit", err)
		}
		p.Region = &r
	}
	now := time.Now()
	for name, dst := range map[string]**time.Time{"pin-until": &p.PinUntil, "expiry": &p.Expiry} {
		if !flags.Changed(name) {
			continue
		}
		v, _ := flags.GetString(name)
		t, err := parseWhen(v, now)
		if err != nil {
			exitErr(name, err)
		}
		*dst = &t
	}
	if flags.Changed("deprecated") {
		v, _ := flags.GetBool("deprecated")
		p.Deprecated = &v
	}
	if flags.Changed("strength") {
		v, _ := flags.GetFloat64("strength")
		p.Strength = &v
	}

	g, err := openEngram()
	if err != nil {
		exitErr("open store", err)
	}

	res, err := g.Edit(cmd.Context(), engram.EditParams{ID: id, Patch: p, Confirm: confirm})
	if err != nil {
		exitErr("edit", err)
	}
	printJSON(cmd, res)
}
