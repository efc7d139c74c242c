package config

import (
	"sort"
	"strings"
	"time"
)

// Config is a tree of settings decoded from YAML, JSON or TOML.
//
// Keys may be dotted paths into nested sections ("sink.sqlite.path").
// Accessors return the given default when a key is missing or holds a value
// of the wrong type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// Lookup returns the raw value at a dotted path.
func (c Config) Lookup(path string) (any, bool) {
	parts := strings.Split(path, ".")
	section := c.data
	for i, part := range parts {
		v, ok := section[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		if section, ok = asSection(v); !ok {
			return nil, false
		}
	}
	return nil, false
}

// String returns the string at path, or def.
func (c Config) String(path, def string) string {
	if v, ok := c.Lookup(path); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the boolean at path, or def.
func (c Config) Bool(path string, def bool) bool {
	if v, ok := c.Lookup(path); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the integer at path, or def. Floats are accepted only when
// they carry no fractional part.
func (c Config) Int(path string, def int) int {
	v, ok := c.Lookup(path)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if n == float64(int(n)) {
			return int(n)
		}
	}
	return def
}

// Duration returns the duration at path, or def. Strings are parsed with
// time.ParseDuration; bare numbers are seconds.
func (c Config) Duration(path string, def time.Duration) time.Duration {
	v, ok := c.Lookup(path)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	case time.Duration:
		return d
	case int:
		return time.Duration(d) * time.Second
	case int64:
		return time.Duration(d) * time.Second
	case float64:
		return time.Duration(d * float64(time.Second))
	}
	return def
}

// Sub returns the section at path. A missing or scalar value yields an
// empty Config.
func (c Config) Sub(path string) Config {
	if v, ok := c.Lookup(path); ok {
		if section, ok := asSection(v); ok {
			return New(section)
		}
	}
	return New(nil)
}

// Keys returns the top-level keys, sorted.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns c overlaid with over. Sections merge key by key; any other
// value in over replaces the one in c. Neither input is modified.
func (c Config) Merge(over Config) Config {
	return New(mergeSections(c.data, over.data))
}

func mergeSections(base, over map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		overSection, overIsSection := asSection(v)
		baseSection, baseIsSection := asSection(out[k])
		if overIsSection && baseIsSection {
			out[k] = mergeSections(baseSection, overSection)
			continue
		}
		out[k] = v
	}
	return out
}

// asSection converts a decoded nested table to map[string]any. YAML may
// decode tables as map[any]any; non-string keys are dropped.
func asSection(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		converted := make(map[string]any, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				converted[ks] = val
			}
		}
		return converted, true
	}
	return nil, false
}
