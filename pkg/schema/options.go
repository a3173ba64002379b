package schema

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

// OptionKey is the parameter that carries the chosen option.
const OptionKey = "options"

const draft = "https://json-schema.org/draft/2020-12/schema"

// Options builds a schema asking the controller to choose exactly one of
// values, sent back under OptionKey.
func Options(title string, values ...string) jsoniter.RawMessage {
	enum := make([]string, len(values))
	copy(enum, values)

	doc := map[string]any{
		"$schema": draft,
		"type":    "object",
		"properties": map[string]any{
			OptionKey: map[string]any{
				"type": "string",
				"enum": enum,
			},
		},
		"required": []string{OptionKey},
	}
	if title != "" {
		doc["title"] = title
	}
	raw, _ := json.Marshal(doc)
	return raw
}

// Object builds an object schema from property schemas.
func Object(props map[string]any, required ...string) jsoniter.RawMessage {
	doc := map[string]any{"type": "object"}
	if len(props) > 0 {
		doc["properties"] = props
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	raw, _ := json.Marshal(doc)
	return raw
}

// Selected returns the option chosen in params, if any.
func Selected(params any) (string, bool) {
	m, ok := params.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m[OptionKey].(string)
	return s, ok
}

// OptionMap maps option names to values of T and renders them as an Options
// schema in insertion order. Changing the options of a registered action
// only reaches the controller once the action is registered again.
type OptionMap[T any] struct {
	mu     sync.RWMutex
	keys   []string
	values map[string]T
}

func NewOptionMap[T any]() *OptionMap[T] {
	return &OptionMap[T]{values: make(map[string]T)}
}

// Set maps option to value and reports whether it replaced an existing one.
func (m *OptionMap[T]) Set(option string, value T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.values[option]
	if !existed {
		m.keys = append(m.keys, option)
	}
	m.values[option] = value
	return existed
}

// Remove deletes option and reports whether it was present.
func (m *OptionMap[T]) Remove(option string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[option]; !ok {
		return false
	}
	delete(m.values, option)
	for i, k := range m.keys {
		if k == option {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return true
}

func (m *OptionMap[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = nil
	m.values = make(map[string]T)
}

func (m *OptionMap[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

func (m *OptionMap[T]) Get(option string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[option]
	return v, ok
}

// Pick resolves the option chosen in an invocation's parameters.
func (m *OptionMap[T]) Pick(params any) (T, bool) {
	option, ok := Selected(params)
	if !ok {
		var zero T
		return zero, false
	}
	return m.Get(option)
}

// Schema renders the current options.
func (m *OptionMap[T]) Schema(title string) jsoniter.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Options(title, m.keys...)
}
