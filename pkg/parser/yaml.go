// Package parser reads GitHub Actions workflow files into generic ordered
// documents and validates them against the workflow JSON schema.
package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/goccy/go-yaml"
)

var yamlLog = logger.New("parser:yaml")

// YAMLSyntaxError is a YAML parse failure with its source position.
// Line and Column are 1-based; zero means unknown.
type YAMLSyntaxError struct {
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *YAMLSyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("yaml syntax error at line %d, column %d: %s", e.Line, e.Column, e.Message)
	}
	return "yaml syntax error: " + e.Message
}

func (e *YAMLSyntaxError) Unwrap() error {
	return e.Err
}

// ErrEmptyDocument is returned when the content holds no YAML mapping.
var ErrEmptyDocument = errors.New("workflow document is empty")

// ParseYAML parses a workflow document, preserving key order at every level.
// Nested mappings are returned as yaml.MapSlice values.
func ParseYAML(content []byte) (yaml.MapSlice, error) {
	yamlLog.Printf("Parsing YAML document: %d bytes", len(content))
	if strings.TrimSpace(string(content)) == "" {
		return nil, ErrEmptyDocument
	}

	var doc yaml.MapSlice
	if err := yaml.UnmarshalWithOptions(content, &doc, yaml.UseOrderedMap()); err != nil {
		line, column, message := ExtractYAMLError(err, 1)
		yamlLog.Printf("YAML parse failed at %d:%d: %s", line, column, message)
		return nil, &YAMLSyntaxError{Line: line, Column: column, Message: message, Err: err}
	}
	if len(doc) == 0 {
		return nil, ErrEmptyDocument
	}
	return doc, nil
}

// Lookup returns the value stored under key in an ordered mapping.
func Lookup(m yaml.MapSlice, key string) (any, bool) {
	for _, item := range m {
		if KeyString(item.Key) == key {
			return item.Value, true
		}
	}
	return nil, false
}

// KeyString renders a mapping key as a string.
func KeyString(key any) string {
	if s, ok := key.(string); ok {
		return s
	}
	return fmt.Sprint(key)
}

// ToPlain converts ordered mappings into map[string]any recursively so the
// document can be handed to JSON-based tooling.
func ToPlain(v any) any {
	switch val := v.(type) {
	case yaml.MapSlice:
		out := make(map[string]any, len(val))
		for _, item := range val {
			out[KeyString(item.Key)] = ToPlain(item.Value)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ToPlain(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ToPlain(item)
		}
		return out
	default:
		return v
	}
}
