package config

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyo-agent/pkg/engine"
)

// SnapshotLoader reads snapshot files in properties, YAML or Starlark form.
type SnapshotLoader struct {
	starlark *StarlarkEvaluator
}

// NewSnapshotLoader creates a snapshot loader; scripts get the given timeout.
func NewSnapshotLoader(scriptTimeout time.Duration) *SnapshotLoader {
	return &SnapshotLoader{starlark: NewStarlarkEvaluator(scriptTimeout)}
}

// LoadFile reads and parses the snapshot at path. The format is chosen by
// extension: .properties and .cfg are key = value lines, .yaml and .yml
// are a flat map, and .star is a Starlark script.
func (l *SnapshotLoader) LoadFile(ctx context.Context, path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to read snapshot", err).WithResource(path)
	}

	values, err := l.Values(ctx, path, data)
	if err != nil {
		return nil, err
	}

	snap, err := ParseSnapshot(values)
	if err != nil {
		return nil, err
	}
	snap.Source = path
	return snap, nil
}

// Values decodes raw snapshot bytes into a key/value map.
func (l *SnapshotLoader) Values(ctx context.Context, name string, data []byte) (map[string]string, error) {
	var (
		values map[string]string
		err    error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".properties", ".cfg", ".conf":
		values, err = parseProperties(data)
	case ".yaml", ".yml", ".json":
		values, err = parseYAMLValues(data)
	case ".star":
		values, err = l.evaluateScript(ctx, name, data)
	default:
		return nil, engine.NewConfigurationError("unsupported snapshot format", nil).WithResource(name)
	}
	if err != nil {
		return nil, engine.NewConfigurationError("failed to parse snapshot", err).WithResource(name)
	}
	return values, nil
}

// parseProperties reads key = value lines. Lines starting with # or ! are
// comments. Only '=' separates, as locations contain ':'.
func parseProperties(data []byte) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			// A bare key, e.g. a repository location used as its own key.
			values[line] = ""
			continue
		}
		key := strings.TrimSpace(line[:idx])
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", lineNo)
		}
		values[key] = strings.TrimSpace(line[idx+1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// parseYAMLValues reads a flat YAML mapping. Scalar values of any type are
// kept as their literal text.
func parseYAMLValues(data []byte) (map[string]string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	values := make(map[string]string)
	if node.Kind == 0 {
		return values, nil
	}
	doc := &node
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("snapshot must be a mapping, got %s", nodeKind(doc.Kind))
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, val := doc.Content[i], doc.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			if val.Tag == "!!null" {
				values[key.Value] = ""
			} else {
				values[key.Value] = val.Value
			}
		default:
			return nil, fmt.Errorf("line %d: value of %q must be a scalar", val.Line, key.Value)
		}
	}
	return values, nil
}

func nodeKind(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

// evaluateScript runs a Starlark snapshot. String globals become keys; a
// global dict named properties contributes keys that are not valid
// Starlark identifiers, such as feature.web.
func (l *SnapshotLoader) evaluateScript(ctx context.Context, name string, data []byte) (map[string]string, error) {
	result, err := l.starlark.Evaluate(ctx, filepath.Base(name), string(data), nil)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for key, val := range result.Output {
		if key == "properties" {
			continue
		}
		if s, ok := val.(string); ok {
			values[key] = s
		}
	}

	if raw, ok := result.Output["properties"]; ok {
		props, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("properties must be a dict, got %T", raw)
		}
		for key, val := range props {
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("properties[%q] must be a string, got %T", key, val)
			}
			values[key] = s
		}
	}

	return values, nil
}
