// Package envfile parses, validates, merges, and rewrites the
// newline-delimited KEY=VALUE files that carry per-tenant configuration
// overrides.
package envfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrInvalidKey indicates a key that does not match the identifier pattern.
var ErrInvalidKey = errors.New("invalid config key")

// ErrInvalidValue indicates a value that cannot be represented on one line.
var ErrInvalidValue = errors.New("invalid config value")

// ValidationError pinpoints the line that caused a file to be rejected.
type ValidationError struct {
	Path   string
	Line   int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Reason)
}

// ValidateKey checks that key is a non-blank identifier.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is blank", ErrInvalidKey)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q is not a valid identifier", ErrInvalidKey, key)
	}
	return nil
}

// ValidateValue checks that value carries no raw newlines.
func ValidateValue(value string) error {
	if strings.ContainsAny(value, "\n\r") {
		return fmt.Errorf("%w: value contains a raw newline", ErrInvalidValue)
	}
	return nil
}

// Parse reads KEY=VALUE entries from r. Blank lines and #-comments are
// skipped. Any invalid line rejects the entire input with a line-numbered
// ValidationError: a partially loaded configuration is worse than none.
func Parse(r io.Reader) (map[string]string, error) {
	entries := make(map[string]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		idx := strings.IndexByte(trimmed, '=')
		if idx < 0 {
			return nil, &ValidationError{Line: lineNo, Reason: "missing '='"}
		}
		key := trimmed[:idx]
		value := trimmed[idx+1:]

		if err := ValidateKey(key); err != nil {
			return nil, &ValidationError{Line: lineNo, Reason: err.Error()}
		}
		if err := ValidateValue(value); err != nil {
			return nil, &ValidationError{Line: lineNo, Reason: err.Error()}
		}
		entries[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}
	return entries, nil
}

// ParseFile parses path. A missing file surfaces as fs.ErrNotExist so callers
// can treat it as an empty layer; an invalid file surfaces as a
// ValidationError carrying the path.
func ParseFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Path = path
			return nil, ve
		}
		return nil, err
	}
	return entries, nil
}

// Merge combines layers by ascending rank: a higher-ranked layer shadows
// conflicting keys, never merges values. Provenance records which layer won
// each key.
func Merge(layers ...model.EnvLayer) model.EffectiveConfig {
	ordered := make([]model.EnvLayer, len(layers))
	copy(ordered, layers)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Rank < ordered[j].Rank })

	values := make(map[string]string)
	provenance := make(map[string]model.LayerOrigin)
	for _, layer := range ordered {
		for k, v := range layer.Entries {
			values[k] = v
			provenance[k] = layer.Origin
		}
	}
	return model.EffectiveConfig{Values: values, Provenance: provenance}
}
