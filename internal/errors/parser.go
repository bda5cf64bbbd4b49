package errors

import (
	"regexp"
	"strconv"
	"strings"
)

// Location is where a compiler placed an error in the source. Zero values
// mean the compiler did not say.
type Location struct {
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`
}

// IsZero reports whether no position is known.
func (l Location) IsZero() bool {
	return l.Line == 0 && l.Column == 0
}

type locationPattern struct {
	regex       *regexp.Regexp
	parseFields func(matches []string) (line, column int, message string)
}

// locationPatterns cover the message shapes of the coffee command and of
// the in-process compiler bundle, most specific first.
var locationPatterns = []locationPattern{
	{
		// [stdin]:3:7: error: unexpected indentation
		regex: regexp.MustCompile(`^(?:.+?):(\d+):(\d+): error: (.+)$`),
		parseFields: func(matches []string) (int, int, string) {
			line, _ := strconv.Atoi(matches[1])
			column, _ := strconv.Atoi(matches[2])
			return line, column, matches[3]
		},
	},
	{
		// Parse error on line 2: Unexpected 'INDENT'
		regex: regexp.MustCompile(`^(.*?)\bon line (\d+)(?::\s*(.*))?$`),
		parseFields: func(matches []string) (int, int, string) {
			line, _ := strconv.Atoi(matches[2])
			message := strings.TrimSpace(matches[1])
			if matches[3] != "" {
				message = strings.TrimSpace(message + " " + matches[3])
			}
			return line, 0, message
		},
	},
}

// ParseCompileMessage extracts the source position from compiler output.
// The first line that carries a position wins; the remaining text is
// returned as the message with JavaScript error name prefixes removed.
func ParseCompileMessage(output string) (Location, string) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for _, raw := range lines {
		line := stripErrorName(strings.TrimSpace(raw))
		for _, p := range locationPatterns {
			matches := p.regex.FindStringSubmatch(line)
			if matches == nil {
				continue
			}
			ln, col, msg := p.parseFields(matches)
			if ln > 0 {
				return Location{Line: ln, Column: col}, msg
			}
		}
	}
	if len(lines) == 0 {
		return Location{}, ""
	}
	return Location{}, stripErrorName(strings.TrimSpace(lines[0]))
}

// stripErrorName drops "SyntaxError: " and similar prefixes.
func stripErrorName(s string) string {
	name, rest, ok := strings.Cut(s, ": ")
	if !ok || !strings.HasSuffix(name, "Error") || strings.ContainsAny(name, " :[") {
		return s
	}
	return rest
}
