package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseSize parses a human-readable size string to bytes.
// Supports formats: "64", "64b", "500kb", "1mb", "4kib", "1mib" (case insensitive).
// kb/mb are decimal, kib/mib are binary.
func ParseSize(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	multiplier := int64(1)
	numStr := s
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"kib", 1 << 10},
		{"mib", 1 << 20},
		{"gib", 1 << 30},
		{"kb", 1_000},
		{"mb", 1_000_000},
		{"gb", 1_000_000_000},
		{"b", 1},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			multiplier = unit.mult
			numStr = strings.TrimSpace(s[:len(s)-len(unit.suffix)])
			break
		}
	}
	if numStr == "" {
		return 0, fmt.Errorf("invalid size value: %q", s)
	}

	value, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("size cannot be negative: %q", s)
	}
	return int64(value * float64(multiplier)), nil
}

// Size is a byte count that unmarshals from either an integer or a
// ParseSize string.
type Size int64

func (sz *Size) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("size must be a scalar")
	}
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("size cannot be negative: %d", n)
		}
		*sz = Size(n)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseSize(raw)
	if err != nil {
		return err
	}
	*sz = Size(parsed)
	return nil
}

func (sz Size) Int() int {
	return int(sz)
}

func (sz Size) Int64() int64 {
	return int64(sz)
}
