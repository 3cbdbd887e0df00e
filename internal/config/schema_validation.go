package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	procschema "github.com/Paintersrp/procsup/schema"
)

var (
	schemaOnce      sync.Once
	ecosystemSchema *jsonschema.Schema
	schemaErr       error
)

func loadEcosystemSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("ecosystem.v1.json", bytes.NewReader(procschema.EcosystemV1Schema)); err != nil {
			schemaErr = fmt.Errorf("add ecosystem schema resource: %w", err)
			return
		}
		ecosystemSchema, schemaErr = compiler.Compile("ecosystem.v1.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile ecosystem schema: %w", schemaErr)
		}
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	return ecosystemSchema, nil
}

// validateAgainstSchema returns one line per schema violation. The error is
// reserved for a broken embedded schema.
func validateAgainstSchema(doc any) ([]string, error) {
	schema, err := loadEcosystemSchema()
	if err != nil {
		return nil, fmt.Errorf("load ecosystem schema: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		if vErr, ok := err.(*jsonschema.ValidationError); ok {
			return formatValidationError(vErr), nil
		}
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	return nil, nil
}

// normalizeForSchema round-trips the decoded document through JSON so YAML
// and TOML values take the shapes the validator expects.
func normalizeForSchema(doc map[string]any) (any, error) {
	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)
	if err := encoder.Encode(doc); err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(buf.Bytes()))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func formatValidationError(err *jsonschema.ValidationError) []string {
	var lines []string
	collectValidationErrors(&lines, err)
	return lines
}

func collectValidationErrors(lines *[]string, err *jsonschema.ValidationError) {
	if len(err.Causes) == 0 {
		*lines = append(*lines, fmt.Sprintf("%s: %s", formatInstanceLocation(err.InstanceLocation), err.Message))
		return
	}
	for _, cause := range err.Causes {
		collectValidationErrors(lines, cause)
	}
}

func formatInstanceLocation(ptr string) string {
	if ptr == "" || ptr == "/" {
		return "document"
	}
	segments := strings.Split(ptr, "/")
	if len(segments) > 0 {
		segments = segments[1:]
	}
	if len(segments) == 0 {
		return "document"
	}
	var b strings.Builder
	for _, segment := range segments {
		decoded := strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(decoded); err == nil {
			fmt.Fprintf(&b, "[%s]", decoded)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(decoded)
	}
	if b.Len() == 0 {
		return "document"
	}
	return b.String()
}
