// Package models maps image checkpoint file names to the names users see.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Mapping pairs a checkpoint file with its display name.
type Mapping struct {
	Model       string `json:"model"`
	DisplayName string `json:"display_name"`
}

type mappingsFile struct {
	Maps         []Mapping `json:"maps"`
	DefaultModel string    `json:"default_model"`
}

// Catalog is an immutable set of model mappings.
type Catalog struct {
	maps         []Mapping
	defaultModel string
}

// New builds a catalog from in-memory mappings.
func New(maps []Mapping, defaultModel string) *Catalog {
	return &Catalog{maps: append([]Mapping(nil), maps...), defaultModel: defaultModel}
}

// Load reads a mappings file. A missing file yields an empty catalog and
// ErrNotExist wrapped in the returned error, so callers may warn and continue.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(nil, ""), fmt.Errorf("model mappings %s: %w", path, err)
		}
		return nil, fmt.Errorf("read model mappings: %w", err)
	}
	return Parse(data)
}

// Parse decodes a mappings document.
func Parse(data []byte) (*Catalog, error) {
	var f mappingsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode model mappings: %w", err)
	}
	for i, m := range f.Maps {
		if m.Model == "" {
			return nil, fmt.Errorf("model mapping %d has no model", i)
		}
	}
	return New(f.Maps, f.DefaultModel), nil
}

// Choices returns the mappings in file order.
func (c *Catalog) Choices() []Mapping {
	return append([]Mapping(nil), c.maps...)
}

// FriendlyName returns the display name for model, or model itself when unmapped.
func (c *Catalog) FriendlyName(model string) string {
	for _, m := range c.maps {
		if m.Model == model {
			return m.DisplayName
		}
	}
	return model
}

// Default is the model used for new image configurations. It may be empty.
func (c *Catalog) Default() string {
	return c.defaultModel
}

// Has reports whether model is listed.
func (c *Catalog) Has(model string) bool {
	for _, m := range c.maps {
		if m.Model == model {
			return true
		}
	}
	return false
}
