package parser

import (
	"fmt"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/logger"
)

var yamlErrorLog = logger.New("parser:yaml_error")

// ExtractYAMLError extracts line and column information from a YAML parse
// error. lineOffset is the 1-based line where the YAML content starts in the
// surrounding file.
func ExtractYAMLError(err error, lineOffset int) (line int, column int, message string) {
	errStr := err.Error()

	line, column, message = extractFromGoccyFormat(errStr, lineOffset)
	if line > 0 || column > 0 {
		yamlErrorLog.Printf("Extracted error location from goccy format: line=%d, column=%d", line, column)
		return line, column, message
	}

	yamlErrorLog.Print("Falling back to string parsing for error location")
	return extractFromStringParsing(errStr, lineOffset)
}

// extractFromGoccyFormat parses goccy/go-yaml's "[line:column] message"
// format. Only the first line of the message is kept; goccy appends an
// annotated source excerpt after it.
func extractFromGoccyFormat(errStr string, lineOffset int) (line int, column int, message string) {
	start := strings.Index(errStr, "[")
	end := strings.Index(errStr, "]")
	if start < 0 || end <= start {
		return 0, 0, ""
	}

	location := errStr[start+1 : end]
	message = strings.TrimSpace(errStr[end+1:])
	if i := strings.Index(message, "\n"); i >= 0 {
		message = strings.TrimSpace(message[:i])
	}

	parts := strings.Split(location, ":")
	if len(parts) != 2 {
		return 0, 0, ""
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[0]), "%d", &line); err != nil {
		return 0, 0, ""
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &column); err != nil {
		return 0, 0, ""
	}
	if line > 0 {
		line += lineOffset - 1
	}
	return line, column, message
}

// extractFromStringParsing handles "yaml: line X: message" style errors.
func extractFromStringParsing(errStr string, lineOffset int) (line int, column int, message string) {
	_, rest, ok := strings.Cut(errStr, "yaml: line ")
	if !ok {
		return 0, 0, errStr
	}
	lineStr, msg, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, errStr
	}
	if _, err := fmt.Sscanf(lineStr, "%d", &line); err != nil {
		return 0, 0, errStr
	}
	line += lineOffset - 1
	msg = strings.TrimSpace(msg)

	if after, found := strings.CutPrefix(msg, "column "); found {
		colStr, colMsg, ok := strings.Cut(after, ":")
		if ok {
			if _, err := fmt.Sscanf(colStr, "%d", &column); err == nil {
				return line, column, strings.TrimSpace(colMsg)
			}
		}
	}
	return line, 0, msg
}
