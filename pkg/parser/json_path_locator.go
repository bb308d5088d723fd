package parser

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/goccy/go-yaml"
)

var jsonPathLog = logger.New("parser:json_path_locator")

// JSONPathLocation is a position in YAML source corresponding to a JSON path.
type JSONPathLocation struct {
	Line   int
	Column int
	Found  bool
}

// convertInstanceLocationToJSONPath converts a validator instance location
// into a JSON path string like "/jobs/build".
func convertInstanceLocationToJSONPath(location []string) string {
	if len(location) == 0 {
		return ""
	}
	return "/" + strings.Join(location, "/")
}

// toYAMLPath converts "/jobs/build/steps/0" into "$.jobs.build.steps[0]".
func toYAMLPath(segments []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range segments {
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if strings.ContainsAny(seg, ".[]'\" ") {
			b.WriteString(".'" + seg + "'")
		} else {
			b.WriteString("." + seg)
		}
	}
	return b.String()
}

// LocateJSONPathInYAML finds the source position of a JSON path. When the
// exact node cannot be resolved the closest resolvable ancestor is used.
func LocateJSONPathInYAML(content []byte, jsonPath string) JSONPathLocation {
	jsonPathLog.Printf("Locating JSON path in YAML: %s", jsonPath)
	var segments []string
	if trimmed := strings.Trim(jsonPath, "/"); trimmed != "" {
		segments = strings.Split(trimmed, "/")
	}

	for n := len(segments); n > 0; n-- {
		path, err := yaml.PathString(toYAMLPath(segments[:n]))
		if err != nil {
			continue
		}
		node, err := path.ReadNode(bytes.NewReader(content))
		if err != nil || node == nil {
			continue
		}
		tok := node.GetToken()
		if tok == nil || tok.Position == nil {
			continue
		}
		jsonPathLog.Printf("Resolved %s to line %d", jsonPath, tok.Position.Line)
		return JSONPathLocation{Line: tok.Position.Line, Column: tok.Position.Column, Found: n == len(segments)}
	}
	return JSONPathLocation{Line: 1, Column: 1, Found: len(segments) == 0}
}
