package cli

import (
	"slices"
	"testing"
	"time"
)

func TestParseWhen(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"", time.Time{}},
		{"none", time.Time{}},
		{"48h", now.Add(48 * time.Hour)},
		{"2025-06-01T00:00:00Z", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"2025-06-02", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseWhen(tt.in, now)
		if err != nil {
			t.Errorf("parseWhen(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseWhen(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := parseWhen("next tuesday", now); err == nil {
		t.Error("expected error for unparseable time")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" ops, ,deploy ,")
	if !slices.Equal(got, []string{"ops", "deploy"}) {
		t.Errorf("splitList = %v", got)
	}
	if splitList("") != nil {
		t.Error("empty input should yield nil")
	}
}
