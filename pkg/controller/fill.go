package controller

import (
	"fmt"
	"sort"

	"neurosdk/pkg/schema"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Fill builds parameters that satisfy a JSON schema, choosing enum members
// and numbers with intN. It covers the subset games use for actions: objects,
// enums, const, anyOf/oneOf, primitive types and arrays. The schema is read
// after schema.Rewrite, so local refs and nullable unions work too. An empty
// schema yields nil.
func Fill(raw []byte, intN func(n int) int) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	rewritten, err := schema.Rewrite(raw)
	if err != nil {
		return nil, fmt.Errorf("fill: %w", err)
	}
	var root map[string]any
	if err := json.Unmarshal(rewritten, &root); err != nil {
		return nil, fmt.Errorf("fill: %w", err)
	}
	if len(root) == 0 {
		return nil, nil
	}
	return fillValue(root, intN), nil
}

func fillValue(s map[string]any, intN func(int) int) any {
	if c, ok := s["const"]; ok {
		return c
	}
	if enum, ok := s["enum"].([]any); ok && len(enum) > 0 {
		return enum[intN(len(enum))]
	}

	for _, key := range []string{"oneOf", "anyOf"} {
		if list, ok := s[key].([]any); ok && len(list) > 0 {
			if sub, ok := list[intN(len(list))].(map[string]any); ok {
				return fillValue(sub, intN)
			}
		}
	}

	typ, _ := s["type"].(string)
	if list, ok := s["type"].([]any); ok && len(list) > 0 {
		typ, _ = list[0].(string)
	}
	if typ == "" {
		if _, ok := s["properties"]; ok {
			typ = "object"
		} else if nullable, _ := s["nullable"].(bool); nullable {
			return nil
		}
	}

	switch typ {
	case "object":
		out := make(map[string]any)
		props, _ := s["properties"].(map[string]any)
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if sub, ok := props[name].(map[string]any); ok {
				out[name] = fillValue(sub, intN)
			}
		}
		return out
	case "array":
		items, _ := s["items"].(map[string]any)
		n := int(number(s, "minItems", 1))
		if n < 1 {
			n = 1
		}
		out := make([]any, 0, n)
		for range n {
			out = append(out, fillValue(items, intN))
		}
		return out
	case "integer":
		lo := int(number(s, "minimum", 0))
		hi := int(number(s, "maximum", float64(lo+10)))
		if flag(s, "exclusiveMinimum") {
			lo++
		}
		if flag(s, "exclusiveMaximum") {
			hi--
		}
		if hi < lo {
			hi = lo
		}
		return lo + intN(hi-lo+1)
	case "number":
		lo := number(s, "minimum", 0)
		hi := number(s, "maximum", lo+10)
		if hi < lo {
			hi = lo
		}
		k := intN(101)
		if flag(s, "exclusiveMinimum") || flag(s, "exclusiveMaximum") {
			k = 1 + intN(99)
		}
		return lo + (hi-lo)*float64(k)/100
	case "boolean":
		return intN(2) == 1
	case "string":
		return "randy"
	case "null":
		return nil
	}
	return map[string]any{}
}

func number(s map[string]any, key string, def float64) float64 {
	if v, ok := s[key].(float64); ok {
		return v
	}
	return def
}

func flag(s map[string]any, key string) bool {
	v, _ := s[key].(bool)
	return v
}
