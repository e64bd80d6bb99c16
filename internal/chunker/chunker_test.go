package chunker

import (
	"strings"
	"testing"
)

func TestSplit_EmptyInput(t *testing.T) {
	if result := Split("  \n ", DefaultOptions()); result != nil {
		t.Errorf("expected nil, got %v", result)
	}
}

func TestSplit_ShortBody(t *testing.T) {
	text := "Use canary deploys for every service."
	result := Split(text, DefaultOptions())
	if len(result) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(result))
	}
	if result[0].Text != text {
		t.Errorf("expected %q, got %q", text, result[0].Text)
	}
	if result[0].StartLine != 1 || result[0].EndLine != 1 {
		t.Errorf("unexpected lines %d-%d", result[0].StartLine, result[0].EndLine)
	}
}

func TestSplit_ShortBodyKeepsLeadingHeading(t *testing.T) {
	result := Split("# Rollout\n\nCanary first.", DefaultOptions())
	if len(result) != 1 || result[0].Heading != "Rollout" {
		t.Fatalf("expected one chunk under Rollout, got %+v", result)
	}
}

func TestSplit_SplitsOnHeadings(t *testing.T) {
	section := strings.Repeat("Some content filling space. ", 12)
	text := "# Section One\n\n" + section + "\n\n# Section Two\n\n" + section + "\n\n# Section Three\n\n" + section

	result := Split(text, DefaultOptions())
	if len(result) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(result))
	}
	for i, want := range []string{"Section One", "Section Two", "Section Three"} {
		if result[i].Heading != want {
			t.Errorf("chunk %d heading = %q, want %q", i, result[i].Heading, want)
		}
		if !strings.HasPrefix(result[i].Text, "# "+want) {
			t.Errorf("chunk %d should start with its heading, got %q", i, result[i].Text[:20])
		}
		if result[i].Seq != i {
			t.Errorf("chunk %d seq = %d", i, result[i].Seq)
		}
	}
	if result[1].StartLine != 5 {
		t.Errorf("second section starts on line 5, got %d", result[1].StartLine)
	}
}

func TestSplit_RespectsMaxSize(t *testing.T) {
	opts := Options{TargetSize: 200, MaxSize: 300}
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "This is a line of text that is about fifty characters long.")
	}
	result := Split(strings.Join(lines, "\n"), opts)
	if len(result) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(result))
	}
	for _, c := range result {
		if len(c.Text) > opts.MaxSize {
			t.Errorf("chunk of %d chars exceeds max", len(c.Text))
		}
	}
}

func TestSplit_LongSingleLine(t *testing.T) {
	opts := Options{TargetSize: 100, MaxSize: 150}
	result := Split(strings.Repeat("word ", 200), opts)
	if len(result) < 5 {
		t.Fatalf("expected the line to be split on words, got %d chunks", len(result))
	}
	for _, c := range result {
		if len(c.Text) > opts.MaxSize {
			t.Errorf("chunk of %d chars exceeds max", len(c.Text))
		}
	}
}

func TestSplit_MergesParagraphsUnderOneHeading(t *testing.T) {
	para := strings.TrimSpace(strings.Repeat("This is a sentence. ", 5))
	text := "# Notes\n\n" + para + "\n\n" + para + "\n\n" + strings.Repeat("Filler text here. ", 40)

	result := Split(text, DefaultOptions())
	if len(result) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(result))
	}
	if !strings.Contains(result[0].Text, para+"\n\n"+para) {
		t.Errorf("small paragraphs should merge into the first chunk, got %q", result[0].Text)
	}
	for _, c := range result {
		if c.Heading != "Notes" {
			t.Errorf("chunk heading = %q", c.Heading)
		}
	}
}
