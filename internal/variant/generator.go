package variant

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// ErrInvalidSourceImage indicates the source bytes could not be decoded as an
// image. The input is user-fixable; retrying without new input is pointless.
var ErrInvalidSourceImage = errors.New("invalid source image")

// Generator renders every catalog variant from one source image. It is pure:
// the same source bytes under the same catalog produce byte-identical output.
type Generator struct {
	catalog *Catalog
}

// NewGenerator creates a generator for the given catalog.
func NewGenerator(catalog *Catalog) *Generator {
	return &Generator{catalog: catalog}
}

// Catalog returns the catalog this generator renders.
func (g *Generator) Catalog() *Catalog {
	return g.catalog
}

// ValidateSource confirms the bytes decode as an image, without rendering
// anything. Lets callers reject bad input before persisting it.
func ValidateSource(source []byte) error {
	if _, err := imaging.Decode(bytes.NewReader(source)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSourceImage, err)
	}
	return nil
}

// Generate decodes the source once and renders the full catalog as PNG bytes
// keyed by variant name. The call is all-or-nothing: on any error no variants
// are returned, because downstream reconciliation treats the desired set as
// indivisible.
func (g *Generator) Generate(source []byte) (map[string][]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSourceImage, err)
	}

	out := make(map[string][]byte, len(g.catalog.Variants))
	for _, spec := range g.catalog.Variants {
		rendered, err := renderVariant(src, spec)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, rendered, imaging.PNG); err != nil {
			return nil, fmt.Errorf("failed to encode variant %s: %w", spec.Name, err)
		}
		out[spec.Name] = buf.Bytes()
	}
	return out, nil
}

func renderVariant(src image.Image, spec Spec) (image.Image, error) {
	switch spec.Fit {
	case FitCover:
		return imaging.Fill(src, spec.Width, spec.Height, imaging.Center, imaging.Lanczos), nil
	case FitContain:
		bg := color.NRGBA{}
		if spec.Background != "" {
			parsed, err := ParseHexColor(spec.Background)
			if err != nil {
				return nil, fmt.Errorf("variant %s: %w", spec.Name, err)
			}
			bg = parsed
		}
		canvas := imaging.New(spec.Width, spec.Height, bg)
		fitted := imaging.Fit(src, spec.Width, spec.Height, imaging.Lanczos)
		return imaging.OverlayCenter(canvas, fitted, 1.0), nil
	default:
		return nil, fmt.Errorf("variant %s has unknown fit policy %q", spec.Name, spec.Fit)
	}
}
