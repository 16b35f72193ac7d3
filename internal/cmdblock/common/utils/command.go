package utils

import "strings"

// ModPrefixSeparator separates a namespace from a command name, as in "minecraft:me".
const ModPrefixSeparator = ":"

// RemoveModPrefix returns the part of token after the first separator, or the
// token unchanged when it has no namespace. "minecraft:" yields "".
func RemoveModPrefix(token string) string {
	if _, after, found := strings.Cut(token, ModPrefixSeparator); found {
		return after
	}
	return token
}

// CommandToken extracts the command name from a dispatched command line:
// surrounding whitespace and one leading slash are dropped and only the
// first field is kept. Arguments are never inspected.
func CommandToken(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "/")
	if i := strings.IndexFunc(line, isSpace); i >= 0 {
		return line[:i]
	}
	return line
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
