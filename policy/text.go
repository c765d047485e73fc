package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Textual authoring format:
//
//	SOURCES a, b SINK s CONSTRAINT <expr> ON FAIL <RESOLUTION> [DESCRIPTION <text>]
//
// Keywords are case-insensitive and separated by arbitrary whitespace.
// SOURCE is accepted as a synonym for SOURCES. SINK and DESCRIPTION
// are optional.
var textFormat = regexp.MustCompile(
	`(?is)^\s*SOURCES?\s+(.+?)\s*` +
		`(?:SINK\s+(\S+)\s*)?` +
		`CONSTRAINT\s+(.+?)\s*` +
		`ON\s+FAIL\s+(\S+)\s*` +
		`(?:DESCRIPTION\s+(.+?)\s*)?$`)

// ParseText parses a policy written in the textual authoring format.
func ParseText(text string) (Policy, error) {
	m := textFormat.FindStringSubmatch(text)
	if m == nil {
		return Policy{}, fmt.Errorf("policy text %q does not match SOURCES ... CONSTRAINT ... ON FAIL ...", strings.TrimSpace(text))
	}
	onFail, err := ParseResolution(m[4])
	if err != nil {
		return Policy{}, err
	}
	return New(splitSources(m[1]), m[2], m[3], onFail, m[5])
}

func splitSources(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
