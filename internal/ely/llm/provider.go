// Package llm talks to the chat-completion backends Ely can use.
//
// Every backend implements Provider: given the ordered conversation, with
// an optional leading system message and the new user prompt last, it
// returns the assistant's reply text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Provider is implemented by every LLM backend.
type Provider interface {
	Complete(ctx context.Context, msgs []Message) (string, error)
	// Name identifies the backend in logs and errors.
	Name() string
}

// Generation defaults shared by the adapters.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
)

var (
	// ErrNoChoices is returned when a successful response carries no reply.
	ErrNoChoices = errors.New("llm: response contained no choices")
	// ErrNoMessages is returned when nothing sendable is left after
	// converting the conversation for a backend.
	ErrNoMessages = errors.New("llm: no messages to send")
)

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	// Code is the provider's own error code or status string, if any.
	Code    string
	Message string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s API error (%d %s)", e.Provider, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Temporary reports whether the status suggests trying again later.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable classifies an error from Complete: rate limits, server
// errors and network timeouts are transient; caller cancellation, client
// errors and empty responses are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, ErrNoChoices) || errors.Is(err, ErrNoMessages) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// truncateBody keeps error bodies small enough for a log line.
func truncateBody(b []byte) string {
	const max = 512
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	n := max
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
