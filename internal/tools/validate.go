package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each tool's declared JSON Schema once and reuses it
// for every subsequent call — ToolMetadata.Parameters doesn't change after
// a tool registers, so there's nothing to invalidate.
var (
	schemaCacheMu sync.Mutex
	schemaCache   = make(map[string]*jsonschema.Schema)
)

// ValidateArguments checks a tool call's arguments against the tool's
// declared JSON Schema (spec §3.2 ToolMetadata's optional_validator). A
// schema-less tool (nil Parameters) always validates; this is the common
// case for tools that take no structured arguments.
func ValidateArguments(md ToolMetadata, args map[string]interface{}) error {
	if len(md.Parameters) == 0 {
		return nil
	}

	schema, err := compiledSchema(md)
	if err != nil {
		return err
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tools: marshaling arguments for %s: %w", md.Name, err)
	}
	var v interface{}
	if err := json.Unmarshal(argsJSON, &v); err != nil {
		return fmt.Errorf("tools: decoding arguments for %s: %w", md.Name, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("arguments for %s failed schema validation: %w", md.Name, err)
	}
	return nil
}

func compiledSchema(md ToolMetadata) (*jsonschema.Schema, error) {
	schemaCacheMu.Lock()
	defer schemaCacheMu.Unlock()

	if s, ok := schemaCache[md.Name]; ok {
		return s, nil
	}

	schemaJSON, err := json.Marshal(md.Parameters)
	if err != nil {
		return nil, fmt.Errorf("tools: marshaling schema for %s: %w", md.Name, err)
	}
	url := "mem://tool/" + md.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("tools: invalid schema for %s: %w", md.Name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tools: compiling schema for %s: %w", md.Name, err)
	}
	schemaCache[md.Name] = schema
	return schema, nil
}
