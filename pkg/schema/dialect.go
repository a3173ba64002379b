package schema

import (
	"fmt"
	"strings"
)

// maxRefDepth bounds nested $ref expansion.
const maxRefDepth = 64

// Keywords from JSON Schema drafts that carry no validation meaning and that
// openapi3 would otherwise reject as unknown sibling fields.
var annotationKeywords = []string{"$schema", "$id", "$comment", "$anchor", "examples", "$defs", "definitions"}

// rewriter turns a JSON Schema document (draft-07 or 2020-12) into the
// OpenAPI 3.0 dialect openapi3 understands:
//
//   - local $ref pointers are inlined; a ref back into its own expansion
//     becomes an empty schema
//   - numeric exclusiveMinimum/exclusiveMaximum become bound + boolean flag
//   - "null" in type becomes nullable
//   - const becomes a one-value enum
//   - boolean subschemas become {} and {"not": {}}
//   - prefixItems (and array-form items) become items: anyOf of the
//     positional schemas, with maxItems when no further items are allowed
//
// Tuples lose their positional checks: every element only has to match one
// of the listed schemas.
type rewriter struct {
	doc   map[string]any // pristine copy for $ref lookups
	stack []string
	err   error
}

// Rewrite returns raw in the dialect the validator checks against, so other
// readers of action schemas see the same structure.
func Rewrite(raw []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &Error{Reason: "schema is not a JSON object", Err: err}
	}
	doc, err := rewrite(doc)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, &Error{Reason: "re-encode", Err: err}
	}
	return out, nil
}

func rewrite(doc map[string]any) (map[string]any, error) {
	r := &rewriter{doc: clone(doc).(map[string]any)}
	out := r.object(doc)
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

func (r *rewriter) schema(v any) any {
	switch s := v.(type) {
	case bool:
		if s {
			return map[string]any{}
		}
		return map[string]any{"not": map[string]any{}}
	case map[string]any:
		return r.object(s)
	default:
		return v
	}
}

func (r *rewriter) object(node map[string]any) map[string]any {
	if r.err != nil {
		return node
	}

	depth := len(r.stack)
	defer func() { r.stack = r.stack[:depth] }()
	for {
		ref, ok := node["$ref"].(string)
		if !ok {
			break
		}
		delete(node, "$ref")
		if r.expanding(ref) {
			break
		}
		if len(r.stack) >= maxRefDepth {
			r.err = &Error{Reason: fmt.Sprintf("$ref nesting deeper than %d", maxRefDepth)}
			return node
		}
		target, err := r.lookup(ref)
		if err != nil {
			r.err = err
			return node
		}
		r.stack = append(r.stack, ref)
		for k, v := range target {
			if _, has := node[k]; !has {
				node[k] = v
			}
		}
	}

	for _, k := range annotationKeywords {
		delete(node, k)
	}
	if c, ok := node["const"]; ok {
		delete(node, "const")
		if _, has := node["enum"]; !has {
			node["enum"] = []any{c}
		}
	}
	exclusiveBound(node, "exclusiveMinimum", "minimum", func(excl, incl float64) bool { return excl >= incl })
	exclusiveBound(node, "exclusiveMaximum", "maximum", func(excl, incl float64) bool { return excl <= incl })
	nullableType(node)
	tuple(node)

	for key, val := range node {
		switch key {
		case "properties", "patternProperties":
			if m, ok := val.(map[string]any); ok {
				for name, sub := range m {
					m[name] = r.schema(sub)
				}
			}
		case "additionalProperties":
			if _, ok := val.(bool); !ok {
				node[key] = r.schema(val)
			}
		case "items", "not":
			node[key] = r.schema(val)
		case "allOf", "anyOf", "oneOf":
			if list, ok := val.([]any); ok {
				for i, sub := range list {
					list[i] = r.schema(sub)
				}
			}
		}
	}
	return node
}

func (r *rewriter) expanding(ref string) bool {
	for _, s := range r.stack {
		if s == ref {
			return true
		}
	}
	return false
}

// lookup resolves a local JSON pointer ref against the original document.
func (r *rewriter) lookup(ref string) (map[string]any, error) {
	if !strings.HasPrefix(ref, "#") {
		return nil, &Error{Reason: fmt.Sprintf("unsupported $ref %q: only local refs are resolved", ref)}
	}
	var cur any = r.doc
	if ptr := strings.TrimPrefix(ref, "#"); ptr != "" {
		if !strings.HasPrefix(ptr, "/") {
			return nil, &Error{Reason: fmt.Sprintf("unresolved $ref %q", ref)}
		}
		for _, tok := range strings.Split(ptr[1:], "/") {
			tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, &Error{Reason: fmt.Sprintf("unresolved $ref %q", ref)}
			}
			if cur, ok = m[tok]; !ok {
				return nil, &Error{Reason: fmt.Sprintf("unresolved $ref %q", ref)}
			}
		}
	}

	switch t := clone(cur).(type) {
	case map[string]any:
		return t, nil
	case bool:
		return r.schema(t).(map[string]any), nil
	default:
		return nil, &Error{Reason: fmt.Sprintf("$ref %q does not point at a schema", ref)}
	}
}

// exclusiveBound rewrites a numeric exclusive bound into the inclusive
// keyword plus a boolean flag, keeping whichever bound is tighter.
func exclusiveBound(node map[string]any, exclKey, inclKey string, tighter func(excl, incl float64) bool) {
	v, ok := node[exclKey].(float64)
	if !ok {
		return
	}
	if incl, has := node[inclKey].(float64); has && !tighter(v, incl) {
		delete(node, exclKey)
		return
	}
	node[inclKey] = v
	node[exclKey] = true
}

func nullableType(node map[string]any) {
	switch t := node["type"].(type) {
	case string:
		if t == "null" {
			delete(node, "type")
			onlyNull(node)
		}
	case []any:
		var kept []any
		null := false
		for _, x := range t {
			if x == "null" {
				null = true
				continue
			}
			kept = append(kept, x)
		}
		if !null {
			return
		}
		node["nullable"] = true
		switch len(kept) {
		case 0:
			delete(node, "type")
			onlyNull(node)
		case 1:
			node["type"] = kept[0]
		default:
			node["type"] = kept
		}
	}
}

// onlyNull accepts null and nothing else.
func onlyNull(node map[string]any) {
	node["nullable"] = true
	if _, has := node["not"]; !has {
		node["not"] = map[string]any{}
	}
}

func tuple(node map[string]any) {
	var prefix []any
	var rest any
	if p, ok := node["prefixItems"].([]any); ok {
		delete(node, "prefixItems")
		prefix, rest = p, node["items"]
	} else if p, ok := node["items"].([]any); ok {
		prefix, rest = p, node["additionalItems"]
		delete(node, "additionalItems")
	} else {
		return
	}
	delete(node, "items")

	switch rest := rest.(type) {
	case nil:
		// Any element may follow the prefix, so nothing is left to check.
	case bool:
		if rest {
			return
		}
		n := float64(len(prefix))
		if cur, ok := node["maxItems"].(float64); !ok || cur > n {
			node["maxItems"] = n
		}
		if len(prefix) > 0 {
			node["items"] = map[string]any{"anyOf": prefix}
		}
	default:
		node["items"] = map[string]any{"anyOf": append(append([]any{}, prefix...), rest)}
	}
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = clone(val)
		}
		return out
	default:
		return v
	}
}
