// Package uuid generates scrape job identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues random (v4) UUID strings.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh job ID.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return id.String(), nil
}
