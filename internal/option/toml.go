package option

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Table is the TOML table whose keys are flattened into the List alongside
// top-level keys.
const Table = "meter"

// LoadFile reads settings from a TOML file, keeping file order.
//
//	resolution = 1000
//	[meter]
//	gpio = 17
//	gpio_dir = 27
func LoadFile(path string) (List, error) {
	var raw map[string]any
	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return flatten(md, raw)
}

// Parse reads settings from TOML text.
func Parse(data string) (List, error) {
	var raw map[string]any
	md, err := toml.Decode(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return flatten(md, raw)
}

func flatten(md toml.MetaData, raw map[string]any) (List, error) {
	var l List
	for _, k := range md.Keys() {
		switch len(k) {
		case 1:
			if _, isTable := raw[k[0]].(map[string]any); isTable {
				continue
			}
			l = append(l, Option{Key: k[0], Value: raw[k[0]]})
		case 2:
			if k[0] != Table {
				return nil, fmt.Errorf("unsupported table %q: %w", k[0], ErrInvalid)
			}
			t := raw[Table].(map[string]any)
			if _, isTable := t[k[1]].(map[string]any); isTable {
				return nil, fmt.Errorf("nested table %q: %w", k.String(), ErrInvalid)
			}
			l = append(l, Option{Key: k[1], Value: t[k[1]]})
		default:
			// deeper keys always belong to a nested table, already rejected above
		}
	}
	return l, nil
}

// ParseAssignment parses a "key=value" flag argument. The value is decoded as
// a TOML value when possible (17, true, "x"); anything else is kept as a bare
// string so device paths need no quoting.
func ParseAssignment(s string) (Option, error) {
	key, val, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return Option{}, fmt.Errorf("expected key=value, got %q", s)
	}
	val = strings.TrimSpace(val)

	var raw map[string]any
	if _, err := toml.Decode("v = "+val, &raw); err == nil {
		if v, ok := raw["v"]; ok {
			return Option{Key: key, Value: v}, nil
		}
	}
	return Option{Key: key, Value: val}, nil
}
