// Package cli implements the engram CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/engram/internal/config"
	"github.com/rcliao/engram/internal/engram"
	"github.com/rcliao/engram/internal/logging"
)

var (
	rootFlag     string
	configFlag   string
	logLevelFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Durable file-backed memory for CLI agents",
	Long: "Engram keeps memories as Markdown files under .engram/, split into a volatile\n" +
		"hippocampus and a stable cortex, with critical entries mirrored into the amygdala.",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Store root (default: $ENGRAM_ROOT or the nearest .engram directory)")
	RootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: <root>/engram.yaml when present)")
	RootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
}

func openEngram() (*engram.Engram, error) {
	root, err := config.FindRoot(rootFlag)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root, configFlag)
	if err != nil {
		return nil, err
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	return engram.Open(root, engram.Options{
		Config: cfg,
		Logger: logging.New(cfg.Log, os.Stderr),
	})
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

func printJSON(cmd *cobra.Command, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode output", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

// readContent takes content from the positional args, else from piped stdin.
func readContent(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseWhen accepts an RFC 3339 timestamp, a date, or a duration from now
// such as 72h. The empty string and "none" yield the zero time.
func parseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a time or duration", s)
}
