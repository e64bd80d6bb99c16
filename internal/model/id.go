package model

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	idAlphabet   = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	idSuffixSize = 8
)

// IDPrefix is the upper-cased three letter category prefix, e.g. "DEC".
func IDPrefix(c Category) string {
	s := strings.ToUpper(string(c))
	if len(s) > 3 {
		s = s[:3]
	}
	return s
}

// NewID allocates a random id for the category.
func NewID(c Category) (string, error) {
	suffix, err := gonanoid.Generate(idAlphabet, idSuffixSize)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return IDPrefix(c) + "-" + suffix, nil
}

// ValidID rejects ids that could escape a region directory.
func ValidID(id string) error {
	if id == "" {
		return Invalid("id", "empty")
	}
	if strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return Invalid("id", "%q contains a path separator", id)
	}
	return nil
}
