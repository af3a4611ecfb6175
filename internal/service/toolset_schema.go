package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// validateArgs checks raw against the declared input schema: the payload
// must be an object, required properties must be present, undeclared
// properties are rejected, and declared primitive types must match.
func validateArgs(schema mcplib.ToolInputSchema, raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil {
			return nil, fmt.Errorf("arguments must be a JSON object")
		}
	}

	for _, req := range schema.Required {
		if v, ok := args[req]; !ok || v == nil {
			return nil, fmt.Errorf("missing required property %q", req)
		}
	}

	var unknown []string
	for name, v := range args {
		prop, ok := schema.Properties[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if err := checkType(name, prop, v); err != nil {
			return nil, err
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown property %q", unknown[0])
	}

	return normalizeNumbers(args), nil
}

func checkType(name string, prop, v any) error {
	def, ok := prop.(map[string]any)
	if !ok {
		return nil
	}
	want, _ := def["type"].(string)
	if v == nil {
		return nil
	}
	var good bool
	switch want {
	case "string":
		s, isStr := v.(string)
		good = isStr
		if good {
			if enum, ok := def["enum"].([]string); ok && !contains(enum, s) {
				return fmt.Errorf("property %q must be one of %v", name, enum)
			}
		}
	case "number":
		_, good = v.(json.Number)
	case "integer":
		if n, isNum := v.(json.Number); isNum {
			f, err := n.Float64()
			good = err == nil && f == math.Trunc(f)
		}
	case "boolean":
		_, good = v.(bool)
	case "object":
		_, good = v.(map[string]any)
	case "array":
		_, good = v.([]any)
	default:
		good = true
	}
	if !good {
		return fmt.Errorf("property %q must be of type %s", name, want)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// normalizeNumbers replaces json.Number with float64 so handlers see the
// same shapes encoding/json produces by default.
func normalizeNumbers(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]any:
		return normalizeNumbers(t)
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	}
	return v
}
