package matrix

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bdobrica/Ely/internal/ely/memory"
)

// Chat commands.
const (
	CommandUser   = "!ely"
	CommandServer = "!elyall"
)

// Reply limits.
const (
	maxReplyLen      = 2000
	truncatedLen     = 1990
	maxErrorReplyLen = 1900
)

// Command is a parsed chat command.
type Command struct {
	Scope  memory.Scope
	Prompt string
}

// ParseCommand recognises "!ely <prompt>" (user scope) and
// "!elyall <prompt>" (server scope). The keyword must be the first word of
// body; ok is false for anything else. Prompt may be empty.
func ParseCommand(body string) (cmd Command, ok bool) {
	body = strings.TrimSpace(body)
	word, rest := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		word, rest = body[:i], body[i:]
	}
	switch word {
	case CommandUser:
		cmd.Scope = memory.ScopeUser
	case CommandServer:
		cmd.Scope = memory.ScopeServer
	default:
		return Command{}, false
	}
	cmd.Prompt = strings.TrimSpace(rest)
	return cmd, true
}

// cut shortens s to at most n bytes without splitting a UTF-8 sequence.
func cut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// splitReply returns the text to send and whether it was shortened.
func splitReply(reply string) (string, bool) {
	if len(reply) <= maxReplyLen {
		return reply, false
	}
	return cut(reply, truncatedLen) + "...", true
}

// capError bounds an error reply.
func capError(text string) string {
	if len(text) <= maxErrorReplyLen {
		return text
	}
	return cut(text, maxErrorReplyLen) + "..."
}
