package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const frontMatterDelimiter = "---"

// Defaults supplies values for fields missing from a persisted record.
type Defaults struct {
	StrengthFloor  float64
	CategoryFloors map[Category]float64
}

// FloorFor returns the strength floor for a category.
func (d Defaults) FloorFor(c Category) float64 {
	if f, ok := d.CategoryFloors[c]; ok {
		return ClampFloor(f)
	}
	return ClampFloor(d.StrengthFloor)
}

// Location is where a record was found; it fills category/region when the
// record omits them and identifies the record in errors.
type Location struct {
	Path     string
	ID       string
	Region   Region
	Category Category
}

// record is the front-matter layout. Pointer fields distinguish "missing" from zero.
type record struct {
	Schema        int        `yaml:"schema,omitempty"`
	ID            string     `yaml:"id"`
	Title         string     `yaml:"title,omitempty"`
	Category      Category   `yaml:"category"`
	Region        Region     `yaml:"region"`
	Importance    Importance `yaml:"importance"`
	Retention     Retention  `yaml:"retention"`
	Tags          []string   `yaml:"tags,flow"`
	Links         []string   `yaml:"links,flow"`
	Backlinks     []string   `yaml:"backlinks,flow"`
	Strength      *float64   `yaml:"strength"`
	StrengthFloor *float64   `yaml:"strength_floor"`
	Created       time.Time  `yaml:"created"`
	Updated       time.Time  `yaml:"updated"`
	RecallCount   int        `yaml:"recall_count"`
	LastRecalled  *time.Time `yaml:"last_recalled"`
	PinUntil      *time.Time `yaml:"pin_until"`
	Expiry        *time.Time `yaml:"expiry"`
	Summary       string     `yaml:"summary,omitempty"`
	Deprecated    bool       `yaml:"deprecated"`
}

// Marshal renders an entry as a front-matter Markdown file.
func Marshal(e *Entry) ([]byte, error) {
	c := e.Clone()
	c.Clamp()
	rec := record{
		Schema:        SchemaVersion,
		ID:            c.ID,
		Title:         c.Title,
		Category:      c.Category,
		Region:        c.Region,
		Importance:    c.Importance,
		Retention:     c.Retention,
		Tags:          nonNil(c.Tags),
		Links:         nonNil(c.Links),
		Backlinks:     nonNil(c.Backlinks),
		Strength:      &c.Strength,
		StrengthFloor: &c.StrengthFloor,
		Created:       c.Created,
		Updated:       c.Updated,
		RecallCount:   c.RecallCount,
		LastRecalled:  c.LastRecalled,
		PinUntil:      c.PinUntil,
		Expiry:        c.Expiry,
		Summary:       c.Summary,
		Deprecated:    c.Deprecated,
	}
	return frame(&rec, c.Body)
}

// Unmarshal parses a front-matter Markdown file into an entry. Any failure is
// reported as a *CorruptEntryError.
func Unmarshal(raw []byte, loc Location, d Defaults) (*Entry, error) {
	corrupt := func(err error) error {
		return &CorruptEntryError{Path: loc.Path, ID: loc.ID, Err: err}
	}

	block, body, err := split(raw)
	if err != nil {
		return nil, corrupt(err)
	}
	var rec record
	if err := yaml.Unmarshal(block, &rec); err != nil {
		return nil, corrupt(fmt.Errorf("front-matter parse error: %w", err))
	}

	if rec.ID == "" {
		return nil, corrupt(errors.New("missing id"))
	}
	if loc.ID != "" && rec.ID != loc.ID {
		return nil, corrupt(fmt.Errorf("id %q does not match file name", rec.ID))
	}
	if rec.Category == "" {
		rec.Category = loc.Category
	}
	if rec.Region == "" {
		rec.Region = loc.Region
	}
	if rec.Importance == "" {
		rec.Importance = DefaultImportance
	}
	if rec.Retention == "" {
		rec.Retention = DefaultRetention
	}
	switch {
	case !ValidCategories[rec.Category]:
		return nil, corrupt(fmt.Errorf("unknown category %q", rec.Category))
	case !ValidRegions[rec.Region]:
		return nil, corrupt(fmt.Errorf("unknown region %q", rec.Region))
	case !ValidImportances[rec.Importance]:
		return nil, corrupt(fmt.Errorf("unknown importance %q", rec.Importance))
	case !ValidRetentions[rec.Retention]:
		return nil, corrupt(fmt.Errorf("unknown retention %q", rec.Retention))
	case rec.RecallCount < 0:
		return nil, corrupt(fmt.Errorf("negative recall_count %d", rec.RecallCount))
	}

	e := &Entry{
		ID:           rec.ID,
		Title:        rec.Title,
		Category:     rec.Category,
		Region:       rec.Region,
		Importance:   rec.Importance,
		Retention:    rec.Retention,
		Tags:         nilIfEmpty(rec.Tags),
		Links:        nilIfEmpty(rec.Links),
		Backlinks:    nilIfEmpty(rec.Backlinks),
		Strength:     MaxStrength,
		Created:      rec.Created,
		Updated:      rec.Updated,
		RecallCount:  rec.RecallCount,
		LastRecalled: rec.LastRecalled,
		PinUntil:     rec.PinUntil,
		Expiry:       rec.Expiry,
		Summary:      rec.Summary,
		Deprecated:   rec.Deprecated,
		Body:         body,
		Path:         loc.Path,
	}
	if rec.Strength != nil {
		e.Strength = *rec.Strength
	}
	if rec.StrengthFloor != nil {
		e.StrengthFloor = *rec.StrengthFloor
	} else {
		e.StrengthFloor = d.FloorFor(e.Category)
	}
	if e.Updated.IsZero() {
		e.Updated = e.Created
	}
	if e.Title == "" {
		e.Title = DefaultTitle(body)
	}
	e.Clamp()
	return e, nil
}

// Pointer is an amygdala mirror record. It locates a critical entry and never
// carries its content.
type Pointer struct {
	ID       string    `yaml:"id"`
	Region   Region    `yaml:"region"`
	Category Category  `yaml:"category"`
	Title    string    `yaml:"title,omitempty"`
	Updated  time.Time `yaml:"updated"`
}

// PointerFor builds the mirror record for an entry.
func PointerFor(e *Entry) Pointer {
	return Pointer{ID: e.ID, Region: e.Region, Category: e.Category, Title: e.Title, Updated: e.Updated}
}

// MarshalPointer renders a mirror record.
func MarshalPointer(p Pointer) ([]byte, error) {
	body := fmt.Sprintf("Pointer to critical engram %s stored in %s/%s.", p.ID, p.Region, p.Category)
	return frame(&p, body)
}

// UnmarshalPointer parses a mirror record.
func UnmarshalPointer(raw []byte, path string) (Pointer, error) {
	var p Pointer
	block, _, err := split(raw)
	if err == nil {
		err = yaml.Unmarshal(block, &p)
	}
	if err == nil && (p.ID == "" || !ValidRegions[p.Region] || !ValidCategories[p.Category]) {
		err = errors.New("incomplete pointer")
	}
	if err != nil {
		return Pointer{}, &CorruptEntryError{Path: path, ID: p.ID, Err: err}
	}
	return p, nil
}

func frame(meta any, body string) ([]byte, error) {
	yamlBytes, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("serialize front-matter: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(frontMatterDelimiter + "\n")
	sb.Write(yamlBytes)
	sb.WriteString(frontMatterDelimiter + "\n\n")
	sb.WriteString(strings.TrimRight(body, "\n"))
	sb.WriteString("\n")
	return []byte(sb.String()), nil
}

func split(raw []byte) ([]byte, string, error) {
	s := string(raw)
	if !strings.HasPrefix(s, frontMatterDelimiter) {
		return nil, "", errors.New("missing front-matter delimiter")
	}
	rest := s[len(frontMatterDelimiter):]
	idx := strings.Index(rest, "\n"+frontMatterDelimiter)
	if idx == -1 {
		return nil, "", errors.New("unclosed front-matter block")
	}
	block := rest[:idx]
	body := rest[idx+len("\n"+frontMatterDelimiter):]
	if strings.HasPrefix(body, "\n\n") {
		body = body[2:]
	} else if strings.HasPrefix(body, "\n") {
		body = body[1:]
	}
	return []byte(block), strings.TrimRight(body, "\n"), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
