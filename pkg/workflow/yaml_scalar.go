package workflow

import (
	"strconv"
	"strings"
)

// reservedScalars are plain scalars YAML would resolve to a non-string.
var reservedScalars = map[string]bool{
	"true": true, "false": true, "yes": true, "no": true, "on": true, "off": true,
	"y": true, "n": true, "null": true, "~": true,
}

// yamlScalar renders s as a YAML scalar, quoting only when a plain scalar
// would be misread.
func yamlScalar(s string) string {
	if needsQuoting(s) {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
	return s
}

func needsQuoting(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return true
	}
	if reservedScalars[strings.ToLower(s)] {
		return true
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	if strings.ContainsAny(s[:1], "!&*{}[]|>'\"%@`#,?:") {
		return true
	}
	if s[0] == '-' && (len(s) == 1 || s[1] == ' ') {
		return true
	}
	return strings.Contains(s, ": ") || strings.Contains(s, " #") || strings.HasSuffix(s, ":")
}

// writeBlockScalar writes a multi-line string as a literal block whose lines
// are indented by contentIndent.
func writeBlockScalar(b *strings.Builder, prefix, contentIndent, key, value string) {
	b.WriteString(prefix + key + ": |\n")
	for line := range strings.SplitSeq(strings.TrimRight(value, "\n"), "\n") {
		if line == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString(contentIndent + line + "\n")
	}
}
