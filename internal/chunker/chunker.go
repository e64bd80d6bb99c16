// Package chunker splits entry bodies into heading-tagged chunks for the
// full-text index of a SQLite snapshot.
package chunker

import (
	"strings"
)

const (
	DefaultTargetSize = 400
	DefaultMaxSize    = 600
)

// Options configures chunking behavior.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
	}
}

// Chunk is a slice of a body with the heading it falls under.
type Chunk struct {
	Seq       int
	Heading   string
	Text      string
	StartLine int
	EndLine   int
}

// Split chunks body. Bodies no longer than MaxSize come back as one chunk.
func Split(body string, opts Options) []Chunk {
	if opts.TargetSize <= 0 || opts.MaxSize <= 0 {
		opts = DefaultOptions()
	}
	if opts.TargetSize > opts.MaxSize {
		opts.TargetSize = opts.MaxSize
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}

	paras := paragraphs(body)
	if len(body) <= opts.MaxSize {
		return []Chunk{{
			Heading:   paras[0].heading,
			Text:      body,
			StartLine: 1,
			EndLine:   strings.Count(body, "\n") + 1,
		}}
	}

	var out []Chunk
	var acc *paragraph
	flush := func() {
		if acc == nil {
			return
		}
		if len(acc.text) > opts.MaxSize {
			out = append(out, hardSplit(*acc, opts)...)
		} else {
			out = append(out, Chunk{Heading: acc.heading, Text: acc.text, StartLine: acc.start, EndLine: acc.end})
		}
		acc = nil
	}
	for _, p := range paras {
		switch {
		case acc == nil:
		case p.heading != acc.heading || p.isHeading:
			flush()
		case len(acc.text)+2+len(p.text) > opts.TargetSize:
			flush()
		default:
			acc.text += "\n\n" + p.text
			acc.end = p.end
			continue
		}
		cp := p
		acc = &cp
	}
	flush()

	for i := range out {
		out[i].Seq = i
	}
	return out
}

// paragraph is a blank-line separated block and the heading above it.
type paragraph struct {
	heading   string
	isHeading bool
	text      string
	start     int
	end       int
}

func paragraphs(body string) []paragraph {
	lines := strings.Split(body, "\n")
	var out []paragraph
	var cur []string
	heading := ""
	start := 1

	flush := func(end int) {
		t := strings.TrimSpace(strings.Join(cur, "\n"))
		if t != "" {
			out = append(out, paragraph{heading: heading, text: t, start: start, end: end})
		}
		cur = nil
	}

	for i, line := range lines {
		n := i + 1
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			flush(n - 1)
			heading = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			out = append(out, paragraph{heading: heading, isHeading: true, text: trimmed, start: n, end: n})
			start = n + 1
		case trimmed == "":
			flush(n - 1)
			start = n + 1
		default:
			if len(cur) == 0 {
				start = n
			}
			cur = append(cur, line)
		}
	}
	flush(len(lines))
	return out
}

// hardSplit breaks an oversized paragraph on line boundaries, then on words
// for lines that are still too long.
func hardSplit(p paragraph, opts Options) []Chunk {
	var out []Chunk
	var cur []string
	curLen := 0
	curStart, last := p.start, p.start

	emit := func() {
		t := strings.TrimSpace(strings.Join(cur, "\n"))
		if t != "" {
			out = append(out, Chunk{Heading: p.heading, Text: t, StartLine: curStart, EndLine: last})
		}
		cur, curLen = nil, 0
	}

	for i, line := range strings.Split(p.text, "\n") {
		n := p.start + i
		for _, piece := range splitWords(line, opts.MaxSize) {
			if curLen+len(piece) > opts.TargetSize && len(cur) > 0 {
				emit()
				curStart = n
			}
			cur = append(cur, piece)
			curLen += len(piece) + 1
			last = n
		}
	}
	emit()
	return out
}

func splitWords(line string, max int) []string {
	if len(line) <= max {
		return []string{line}
	}
	var out []string
	var b strings.Builder
	for _, w := range strings.Fields(line) {
		if b.Len() > 0 && b.Len()+1+len(w) > max {
			out = append(out, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
