package providers

import "strings"

// CleanSchemaForProvider strips JSON Schema keywords a given back-end's
// function-calling implementation rejects or ignores, recursively. Each
// provider's tool-schema validator is stricter than the JSON Schema spec
// in different, undocumented ways discovered empirically; this keeps that
// knowledge in one place instead of scattered per-provider.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	cleaned := cleanSchemaValue(provider, schema)
	if m, ok := cleaned.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func cleanSchemaValue(provider string, v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, sub := range val {
			if isDroppedSchemaKeyword(provider, k) {
				continue
			}
			out[k] = cleanSchemaValue(provider, sub)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, sub := range val {
			out[i] = cleanSchemaValue(provider, sub)
		}
		return out
	default:
		return v
	}
}

// isDroppedSchemaKeyword reports whether key is a JSON Schema keyword the
// named provider's tool-call validator rejects.
func isDroppedSchemaKeyword(provider, key string) bool {
	switch key {
	case "$schema", "$id", "title":
		// Meta keywords no function-calling back-end needs; harmless to
		// send but some (Gemini) reject unknown top-level keys.
		return strings.Contains(strings.ToLower(provider), "gemini")
	case "additionalProperties":
		// Gemini's function declaration schema rejects additionalProperties
		// entirely (its OpenAPI-subset validator doesn't recognize it).
		return strings.Contains(strings.ToLower(provider), "gemini")
	case "minLength", "maxLength", "pattern", "format":
		// Gemini's OpenAPI-subset schema supports only a narrow "format"
		// enum and no string length/pattern constraints.
		return strings.Contains(strings.ToLower(provider), "gemini")
	default:
		return false
	}
}

// CleanToolSchemas converts tool definitions to OpenAI-compatible wire
// format, sanitizing each parameter schema for the named provider.
func CleanToolSchemas(provider string, tools []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  CleanSchemaForProvider(provider, t.Function.Parameters),
			},
		})
	}
	return out
}
