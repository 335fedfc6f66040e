package handlers

import (
	"regexp"
	"strings"
)

var mentionTag = regexp.MustCompile(`<@!?\d+>`)

// parseMessage extracts a command from a chat message that either mentions
// the bot or starts with prefix.
func parseMessage(content, prefix string, mentioned bool) (cmd, args string, ok bool) {
	switch {
	case mentioned:
		content = mentionTag.ReplaceAllString(content, "")
	case prefix != "" && strings.HasPrefix(content, prefix):
		content = strings.TrimPrefix(content, prefix)
	default:
		return "", "", false
	}

	fields := strings.Fields(content)
	if len(fields) == 0 {
		return "", "", false
	}
	return strings.ToLower(fields[0]), strings.Join(fields[1:], " "), true
}
