package config

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Redacted replaces secret values in GetPath results.
const Redacted = "********"

var secretKeys = map[string]bool{"api_key": true}

// GetPath retrieves a value from the configuration using a dot-notation path.
// Secrets are redacted.
func (c *Config) GetPath(path string) (any, error) {
	// type:name addressing
	if strings.Contains(path, ":") {
		return c.GetEntity(path)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	redact(m)

	return getValue(m, path)
}

// GetEntity retrieves a first-class entity by type:name. Only "service" is
// addressable; "service:*" lists the configured service names.
func (c *Config) GetEntity(address string) (any, error) {
	parts := strings.SplitN(address, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid entity address format %q (expected type:name)", address)
	}

	entityType, name := parts[0], parts[1]

	switch entityType {
	case "service":
		if name == "*" {
			names := make([]string, 0, len(c.Services))
			for n := range c.Services {
				names = append(names, n)
			}
			sort.Strings(names)
			return names, nil
		}
		svc, ok := c.Services[name]
		if !ok {
			return nil, fmt.Errorf("service %q not found", name)
		}
		return svc, nil

	default:
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}

func redact(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			redact(val)
		case string:
			if secretKeys[k] && val != "" {
				m[k] = Redacted
			}
		}
	}
}
