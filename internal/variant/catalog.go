// Package variant derives the fixed set of branding images a tenant presents
// from a single source logo. The catalog of outputs is versioned and embedded
// in the binary; reconciliation treats it as part of the desired-state
// contract.
package variant

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// FitPolicy controls how a source image maps onto a variant's dimensions.
type FitPolicy string

const (
	// FitCover scales and center-crops to exactly the target dimensions
	FitCover FitPolicy = "cover"
	// FitContain scales to fit inside the target and pads to exact
	// dimensions with the background color
	FitContain FitPolicy = "contain"
)

// Spec is one named output of the generator.
type Spec struct {
	Name       string    `yaml:"name"`
	Width      int       `yaml:"width"`
	Height     int       `yaml:"height"`
	Fit        FitPolicy `yaml:"fit"`
	Background string    `yaml:"background,omitempty"`
}

// Catalog is the versioned set of variant definitions. It must not change
// shape between reconciliations of the same asset source, which is why its
// checksum participates in the desired hash.
type Catalog struct {
	Version  int    `yaml:"version"`
	Variants []Spec `yaml:"variants"`

	checksum string
}

// LoadCatalog parses and validates the catalog embedded in the binary.
func LoadCatalog() (*Catalog, error) {
	return parseCatalog(catalogYAML)
}

func parseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse variant catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid variant catalog: %w", err)
	}
	c.checksum = c.computeChecksum()
	return &c, nil
}

func (c *Catalog) validate() error {
	if c.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", c.Version)
	}
	if len(c.Variants) == 0 {
		return fmt.Errorf("catalog has no variants")
	}
	seen := make(map[string]bool, len(c.Variants))
	for i, v := range c.Variants {
		if v.Name == "" {
			return fmt.Errorf("variant %d has an empty name", i)
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate variant name %q", v.Name)
		}
		seen[v.Name] = true
		if v.Width <= 0 || v.Height <= 0 {
			return fmt.Errorf("variant %q has non-positive dimensions %dx%d", v.Name, v.Width, v.Height)
		}
		if v.Fit != FitCover && v.Fit != FitContain {
			return fmt.Errorf("variant %q has unknown fit policy %q", v.Name, v.Fit)
		}
		if v.Background != "" {
			if _, err := ParseHexColor(v.Background); err != nil {
				return fmt.Errorf("variant %q: %w", v.Name, err)
			}
		}
	}
	return nil
}

// computeChecksum hashes the catalog in its declared order so any change to
// version, names, dimensions, fit, or background produces a new value.
func (c *Catalog) computeChecksum() string {
	h := sha256.New()
	fmt.Fprintf(h, "v%d\n", c.Version)
	for _, v := range c.Variants {
		fmt.Fprintf(h, "%s|%d|%d|%s|%s\n", v.Name, v.Width, v.Height, v.Fit, v.Background)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Checksum returns the catalog's deterministic content hash.
func (c *Catalog) Checksum() string {
	return c.checksum
}

// Names returns the variant filenames in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Variants))
	for _, v := range c.Variants {
		names = append(names, v.Name)
	}
	return names
}

// DesiredSetHash identifies one desired variant set: the same source content
// under the same catalog always hashes the same, so reconciliation can detect
// a no-op without re-deriving any variants.
func DesiredSetHash(catalog *Catalog, contentHash string) string {
	h := sha256.Sum256([]byte(catalog.Checksum() + ":" + contentHash))
	return hex.EncodeToString(h[:])
}

// ParseHexColor parses a "#rrggbb" color string.
func ParseHexColor(s string) (color.NRGBA, error) {
	if !strings.HasPrefix(s, "#") || len(s) != 7 {
		return color.NRGBA{}, fmt.Errorf("color %q is not in #rrggbb form", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("color %q is not in #rrggbb form", s)
	}
	return color.NRGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 0xff,
	}, nil
}
