package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// YAMLConfig is a kong.ConfigurationLoader for YAML files. Nested mappings
// are joined with "-" so that
//
//	postgres:
//	  conn_string: postgres://localhost/newsletter
//
// sets --postgres-conn-string. Flags given on the command line or through the
// environment take precedence.
func YAMLConfig(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	flat := map[string]string{}
	if err := flattenConfig("", values, flat); err != nil {
		return nil, err
	}

	return &yamlResolver{values: flat}, nil
}

type yamlResolver struct {
	values map[string]string
}

// Validate rejects keys which match no flag of any command, catching typos
// which would otherwise be silently ignored.
func (y *yamlResolver) Validate(app *kong.Application) error {
	known := map[string]bool{}
	for _, flags := range app.AllFlags(true) {
		for _, flag := range flags {
			known[flag.Name] = true
		}
	}
	for _, leaf := range app.Leaves(true) {
		for _, flags := range leaf.AllFlags(true) {
			for _, flag := range flags {
				known[flag.Name] = true
			}
		}
	}

	var unknown []string
	for _, key := range configKeys(y.values) {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown config keys: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func (y *yamlResolver) Resolve(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
	if v, ok := y.values[flag.Name]; ok {
		return v, nil
	}
	return nil, nil
}

func flattenConfig(prefix string, values map[string]any, out map[string]string) error {
	for key, value := range values {
		name := strings.ToLower(strings.ReplaceAll(key, "_", "-"))
		if prefix != "" {
			name = prefix + "-" + name
		}

		switch v := value.(type) {
		case map[string]any:
			if err := flattenConfig(name, v, out); err != nil {
				return err
			}
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				s, err := scalarString(name, item)
				if err != nil {
					return err
				}
				items = append(items, s)
			}
			out[name] = strings.Join(items, ",")
		default:
			s, err := scalarString(name, v)
			if err != nil {
				return err
			}
			out[name] = s
		}
	}
	return nil
}

func scalarString(name string, value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case map[string]any, []any:
		return "", fmt.Errorf("config key %q: nested values are not supported here", name)
	default:
		return fmt.Sprint(v), nil
	}
}

// configKeys returns the flattened keys in sorted order.
func configKeys(flat map[string]string) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
