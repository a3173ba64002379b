package config

import (
	"errors"
	"fmt"

	"neurosdk/pkg/api"

	jsoniter "github.com/json-iterator/go"
)

// ActionDefinition describes one action in a manifest file.
type ActionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
	Disabled    bool           `json:"disabled"`
}

// Manifest is the top-level shape of an action manifest.
type Manifest struct {
	Actions []ActionDefinition `json:"actions"`
}

// ToAction converts the definition into an action without a handler.
func (d ActionDefinition) ToAction() (api.Action, error) {
	a := api.Action{
		Name:        d.Name,
		Description: d.Description,
		Disabled:    d.Disabled,
	}
	if len(d.Schema) > 0 {
		raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(d.Schema)
		if err != nil {
			return api.Action{}, fmt.Errorf("action %q: schema: %w", d.Name, err)
		}
		a.Schema = raw
	}
	return a, nil
}

// LoadActions reads an action manifest (.json, .toml or .yaml).
// Every action needs a unique non-empty name; schemas are checked when the
// actions are registered.
func LoadActions(path string) ([]api.Action, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := decode(doc, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	seen := make(map[string]bool, len(m.Actions))
	out := make([]api.Action, 0, len(m.Actions))
	var errs []error
	for i, d := range m.Actions {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("actions[%d]: %w: missing name", i, api.ErrInvalidAction))
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("actions[%d]: %w: duplicate name %q", i, api.ErrInvalidAction, d.Name))
			continue
		}
		seen[d.Name] = true

		a, err := d.ToAction()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, a)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
