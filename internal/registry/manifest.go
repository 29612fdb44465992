package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

// ParamType enumerates the JSON value types a manifest may require.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "bool"
	ParamObject ParamType = "object"
	ParamArray  ParamType = "array"
)

// Param declares one payload field a handler accepts.
type Param struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Required bool      `json:"required"`
}

// Manifest is the on-disk declaration of one endpoint. Simple endpoints are a
// single <name>.endpoint.json file; complex endpoints are a directory whose
// endpoint.json is the only routable entry point.
type Manifest struct {
	Handler      string  `json:"handler"`
	Description  string  `json:"description,omitempty"`
	RequiresAuth bool    `json:"requires_auth,omitempty"`
	Args         []Param `json:"args,omitempty"`
}

func loadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Handler == "" {
		return nil, fmt.Errorf("manifest %s: missing handler key", path)
	}
	for _, p := range m.Args {
		switch p.Type {
		case ParamString, ParamNumber, ParamBool, ParamObject, ParamArray:
		default:
			return nil, fmt.Errorf("manifest %s: arg %q has unknown type %q", path, p.Name, p.Type)
		}
	}
	return &m, nil
}

// typeMatches reports whether a decoded JSON value satisfies the declared type.
// encoding/json decodes numbers to float64, objects to map, arrays to slice.
func typeMatches(t ParamType, v any) bool {
	switch t {
	case ParamString:
		_, ok := v.(string)
		return ok
	case ParamNumber:
		switch v.(type) {
		case float64, int, int64, json.Number:
			return true
		}
		return false
	case ParamBool:
		_, ok := v.(bool)
		return ok
	case ParamObject:
		_, ok := v.(map[string]any)
		return ok
	case ParamArray:
		_, ok := v.([]any)
		return ok
	}
	return false
}

// CheckArgs validates a payload against the declared params. It returns the
// names of missing required fields and type-mismatched fields; an empty slice
// means the payload is acceptable. Undeclared payload keys pass through
// untouched so handlers can accept free-form extras.
func (d *Descriptor) CheckArgs(payload map[string]any) []string {
	var bad []string
	for _, p := range d.Params {
		v, present := payload[p.Name]
		if !present || v == nil {
			if p.Required {
				bad = append(bad, p.Name)
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			bad = append(bad, p.Name)
		}
	}
	return bad
}
