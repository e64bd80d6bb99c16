// Package model defines the engram entry types and their on-disk record format.
package model

import (
	"slices"
	"strings"
	"time"
)

// SchemaVersion is the front-matter layout written by this package.
const SchemaVersion = 1

// Category is the fixed classification of an entry.
type Category string

const (
	CategoryDecisions Category = "decisions"
	CategoryPatterns  Category = "patterns"
	CategoryContext   Category = "context"
	CategoryJournal   Category = "journal"
	CategoryNotes     Category = "notes"
)

// Categories lists every category in directory scan order.
var Categories = []Category{
	CategoryDecisions,
	CategoryPatterns,
	CategoryContext,
	CategoryJournal,
	CategoryNotes,
}

// Region is the storage tier an entry lives in.
type Region string

const (
	RegionHippocampus Region = "hippocampus"
	RegionCortex      Region = "cortex"
)

// AmygdalaDir holds pointer records for critical entries. It is not a Region.
const AmygdalaDir = "amygdala"

// Regions lists the writable regions.
var Regions = []Region{RegionHippocampus, RegionCortex}

// Importance ranks how much an entry matters.
type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceHigh     Importance = "high"
	ImportanceNormal   Importance = "normal"
	ImportanceLow      Importance = "low"
)

// Rank orders importance levels; higher is more important.
func (i Importance) Rank() int {
	switch i {
	case ImportanceCritical:
		return 3
	case ImportanceHigh:
		return 2
	case ImportanceNormal:
		return 1
	default:
		return 0
	}
}

// Retention describes how long an entry is expected to stay useful.
type Retention string

const (
	RetentionReference Retention = "reference"
	RetentionEphemeral Retention = "ephemeral"
	RetentionLog       Retention = "log"
)

const (
	DefaultImportance = ImportanceNormal
	DefaultRetention  = RetentionEphemeral
)

// ValidCategories are the allowed categories.
var ValidCategories = map[Category]bool{
	CategoryDecisions: true,
	CategoryPatterns:  true,
	CategoryContext:   true,
	CategoryJournal:   true,
	CategoryNotes:     true,
}

// ValidRegions are the allowed regions.
var ValidRegions = map[Region]bool{
	RegionHippocampus: true,
	RegionCortex:      true,
}

// ValidImportances are the allowed importance levels.
var ValidImportances = map[Importance]bool{
	ImportanceCritical: true,
	ImportanceHigh:     true,
	ImportanceNormal:   true,
	ImportanceLow:      true,
}

// ValidRetentions are the allowed retention policies.
var ValidRetentions = map[Retention]bool{
	RetentionReference: true,
	RetentionEphemeral: true,
	RetentionLog:       true,
}

// Entry is one persisted memory.
type Entry struct {
	ID            string     `json:"id"`
	Title         string     `json:"title,omitempty"`
	Category      Category   `json:"category"`
	Region        Region     `json:"region"`
	Importance    Importance `json:"importance"`
	Retention     Retention  `json:"retention"`
	Tags          []string   `json:"tags,omitempty"`
	Links         []string   `json:"links,omitempty"`
	Backlinks     []string   `json:"backlinks,omitempty"`
	Strength      float64    `json:"strength"`
	StrengthFloor float64    `json:"strength_floor"`
	Created       time.Time  `json:"created"`
	Updated       time.Time  `json:"updated"`
	RecallCount   int        `json:"recall_count"`
	LastRecalled  *time.Time `json:"last_recalled,omitempty"`
	PinUntil      *time.Time `json:"pin_until,omitempty"`
	Expiry        *time.Time `json:"expiry,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	Deprecated    bool       `json:"deprecated"`
	Body          string     `json:"body"`

	// Path is where the entry was loaded from. Not persisted.
	Path string `json:"-"`
}

// IsCritical reports whether the entry is mirrored into the amygdala.
func (e *Entry) IsCritical() bool {
	return e.Importance == ImportanceCritical
}

// IsPinned reports whether the entry is forced to the top of recall at now.
func (e *Entry) IsPinned(now time.Time) bool {
	if e.IsCritical() {
		return true
	}
	return e.PinUntil != nil && e.PinUntil.After(now)
}

// IsExpired reports whether the entry's expiry has passed at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.Expiry != nil && !e.Expiry.After(now)
}

// LastTouched is the later of Updated and LastRecalled.
func (e *Entry) LastTouched() time.Time {
	if e.LastRecalled != nil && e.LastRecalled.After(e.Updated) {
		return *e.LastRecalled
	}
	return e.Updated
}

// HasTag reports whether the entry carries tag, ignoring case.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Tags = slices.Clone(e.Tags)
	c.Links = slices.Clone(e.Links)
	c.Backlinks = slices.Clone(e.Backlinks)
	c.LastRecalled = cloneTime(e.LastRecalled)
	c.PinUntil = cloneTime(e.PinUntil)
	c.Expiry = cloneTime(e.Expiry)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Placement computes the default region for the given importance and retention.
func Placement(importance Importance, retention Retention) Region {
	if retention == RetentionReference || importance.Rank() >= ImportanceHigh.Rank() {
		return RegionCortex
	}
	return RegionHippocampus
}

// NormalizeTags trims, drops empties and dedupes case-insensitively, keeping first spelling.
func NormalizeTags(tags []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// NormalizeIDs trims, drops empties and dedupes, keeping sorted order.
func NormalizeIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Capsule collapses whitespace and truncates to limit runes with a trailing "...".
func Capsule(body string, limit int) string {
	clean := strings.Join(strings.Fields(body), " ")
	r := []rune(clean)
	if len(r) <= limit {
		return clean
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

// DefaultTitle derives a title from the body capsule.
func DefaultTitle(body string) string {
	return Capsule(body, 80)
}

// ParseCategory validates a category name, case-insensitive.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !ValidCategories[c] {
		return "", Invalid("category", "%q is not one of decisions, patterns, context, journal, notes", s)
	}
	return c, nil
}

// ParseRegion validates a region name.
func ParseRegion(s string) (Region, error) {
	r := Region(strings.ToLower(strings.TrimSpace(s)))
	if !ValidRegions[r] {
		return "", Invalid("region", "%q is not one of hippocampus, cortex", s)
	}
	return r, nil
}

// ParseImportance validates an importance level.
func ParseImportance(s string) (Importance, error) {
	i := Importance(strings.ToLower(strings.TrimSpace(s)))
	if !ValidImportances[i] {
		return "", Invalid("importance", "%q is not one of critical, high, normal, low", s)
	}
	return i, nil
}

// ParseRetention validates a retention policy.
func ParseRetention(s string) (Retention, error) {
	r := Retention(strings.ToLower(strings.TrimSpace(s)))
	if !ValidRetentions[r] {
		return "", Invalid("retention", "%q is not one of reference, ephemeral, log", s)
	}
	return r, nil
}
