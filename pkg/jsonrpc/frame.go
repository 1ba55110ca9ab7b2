package jsonrpc

import "strings"

// ExtractObject returns the first {...} span in line, or "" when the line
// holds no JSON object. Servers interleave protocol messages with free-form
// log text on the same stream, so framing tolerates a prefix and suffix
// around the object.
func ExtractObject(line string) string {
	start := strings.IndexByte(line, '{')
	if start < 0 {
		return ""
	}
	end := strings.LastIndexByte(line, '}')
	if end < start {
		return ""
	}
	return line[start : end+1]
}

// SplitLines splits buffered stream text into complete lines plus the
// trailing fragment that has not yet been newline-terminated. A final
// fragment ending in '}' is treated as complete: some servers flush the
// closing brace without the newline.
func SplitLines(buf string) (complete []string, rest string) {
	lines := strings.Split(buf, "\n")
	last := lines[len(lines)-1]
	if last != "" && !strings.HasSuffix(strings.TrimSpace(last), "}") {
		return lines[:len(lines)-1], last
	}
	return lines, ""
}
