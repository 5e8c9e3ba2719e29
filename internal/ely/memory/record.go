// Package memory implements Ely's conversational memory: bounded,
// per-identity conversation records kept in a process-wide cache and
// persisted through a pluggable Store (JSON files or SQLite).
//
// The Cache is the single access point for records. It never returns an
// error to its callers: unreadable history degrades to an empty record and
// failed writes leave the in-memory copy authoritative. Both conditions are
// reported through slog and the optional Prometheus Metrics.
package memory

// MaxHistoryLen is the maximum number of messages retained per record.
const MaxHistoryLen = 20

// Recognised message roles. The cache stores any role string verbatim;
// validating roles for a provider is the caller's concern.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged turn.
type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Record is the ordered (oldest first) message history of one identity
// within one scope.
type Record struct {
	Messages []Message `json:"messages" yaml:"messages"`
}

// Append pushes a user message followed by an assistant message.
func (r *Record) Append(userText, assistantText string) {
	r.Messages = append(r.Messages,
		Message{Role: RoleUser, Content: userText},
		Message{Role: RoleAssistant, Content: assistantText},
	)
}

// Truncate drops messages from the front until at most max remain and
// returns how many were dropped. The retained tail is copied into a fresh
// slice so the dropped prefix can be collected.
func (r *Record) Truncate(max int) int {
	if max < 0 {
		max = 0
	}
	excess := len(r.Messages) - max
	if excess <= 0 {
		return 0
	}
	kept := make([]Message, max)
	copy(kept, r.Messages[excess:])
	r.Messages = kept
	return excess
}

// Len returns the number of messages in the record.
func (r Record) Len() int { return len(r.Messages) }

// Clone returns an independent copy. The copy always has a non-nil
// Messages slice so it serialises as an empty array rather than null.
func (r Record) Clone() Record {
	msgs := make([]Message, len(r.Messages))
	copy(msgs, r.Messages)
	return Record{Messages: msgs}
}
