package spec

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// File is the parsed preprocess configuration document.
type File struct {
	SchemaVersion string `yaml:"schema_version"`

	PreProcess struct {
		// Ordered list of transform ops; insertion order is pipeline order.
		TransformOps []Op `yaml:"transform_ops"`
	} `yaml:"preprocess"`
}

// Op is one transform entry: a single-key mapping of op name to its
// parameters, e.g. `ResizeImage: {resize_short: 256}`.
type Op struct {
	Name   string
	Params Params
}

func (o *Op) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return fmt.Errorf("transform op must be a single-key mapping, got %s", kindName(value.Kind))
	}
	o.Name = value.Content[0].Value
	if o.Name == "" {
		return fmt.Errorf("transform op name must not be empty")
	}
	if err := value.Content[1].Decode(&o.Params); err != nil {
		return fmt.Errorf("op %s: %w", o.Name, err)
	}
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	default:
		return fmt.Sprintf("node kind %d", k)
	}
}

// Params holds an op's named parameters with typed access. Lookups fail
// on missing keys and on type mismatches.
type Params map[string]any

func (p Params) Int(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, &MissingKeyError{Key: key}
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	default:
		return 0, &TypeError{Key: key, Want: "int", Got: v}
	}
}

func (p Params) Float(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, &MissingKeyError{Key: key}
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, &TypeError{Key: key, Want: "float", Got: v}
	}
}

func (p Params) Floats(key string) ([]float32, error) {
	v, ok := p[key]
	if !ok {
		return nil, &MissingKeyError{Key: key}
	}
	seq, ok := v.([]any)
	if !ok {
		return nil, &TypeError{Key: key, Want: "sequence of floats", Got: v}
	}
	out := make([]float32, 0, len(seq))
	for _, e := range seq {
		switch n := e.(type) {
		case float64:
			out = append(out, float32(n))
		case int:
			out = append(out, float32(n))
		case int64:
			out = append(out, float32(n))
		default:
			return nil, &TypeError{Key: key, Want: "sequence of floats", Got: e}
		}
	}
	return out, nil
}

type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing required key %q", e.Key)
}

type TypeError struct {
	Key  string
	Want string
	Got  any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("key %q: want %s, got %T", e.Key, e.Want, e.Got)
}
