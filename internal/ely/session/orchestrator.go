// Package session turns one chat prompt into one recorded exchange: it
// reads the caller's history, asks the provider for a reply, and stores
// the pair only when the reply arrived.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/Ely/common/retry"
	"github.com/bdobrica/Ely/common/trace"
	"github.com/bdobrica/Ely/internal/ely/llm"
	"github.com/bdobrica/Ely/internal/ely/memory"
	"github.com/bdobrica/Ely/internal/ely/observability"
)

// ErrEmptyPrompt is returned for a prompt that is blank after trimming.
var ErrEmptyPrompt = errors.New("session: empty prompt")

// Memory is the part of memory.Cache the orchestrator needs.
type Memory interface {
	Fetch(ctx context.Context, scope memory.Scope, id string) memory.Record
	Append(ctx context.Context, scope memory.Scope, id, userText, assistantText string)
}

// Request is one prompt addressed to one conversation.
type Request struct {
	Scope  memory.Scope
	ID     string
	Prompt string
}

// Config configures an Orchestrator.
type Config struct {
	Memory   Memory
	Provider llm.Provider
	// SystemPrompt, when non-empty, is sent ahead of the history on every
	// request. It is never stored.
	SystemPrompt string
	// Retry governs provider calls. ShouldRetry defaults to llm.IsRetryable.
	Retry   retry.Config
	Metrics *Metrics
	Logger  *slog.Logger
}

// Orchestrator handles chat requests. It is safe for concurrent use.
type Orchestrator struct {
	mem      Memory
	provider llm.Provider
	system   string
	retry    retry.Config
	metrics  *Metrics
	logger   *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	rc := cfg.Retry
	if rc.ShouldRetry == nil {
		rc.ShouldRetry = llm.IsRetryable
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		mem:      cfg.Memory,
		provider: cfg.Provider,
		system:   strings.TrimSpace(cfg.SystemPrompt),
		retry:    rc,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Handle answers req.Prompt in the context of the (Scope, ID) history. On
// success the prompt and reply are appended to that history and the reply
// is returned. On failure nothing is recorded.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (string, error) {
	ctx, traceID := trace.Ensure(ctx)
	log := observability.WithTrace(ctx, o.logger).With("scope", req.Scope, "id", req.ID)

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		o.metrics.observe(req.Scope, resultRejected, 0)
		return "", ErrEmptyPrompt
	}
	if !req.Scope.Valid() {
		o.metrics.observe(req.Scope, resultRejected, 0)
		return "", fmt.Errorf("session: invalid scope %q", req.Scope)
	}

	history := o.mem.Fetch(ctx, req.Scope, req.ID)
	msgs := o.buildMessages(history, prompt)
	log.Info("session: handling prompt", "history", history.Len(), "provider", o.provider.Name())

	start := time.Now()
	reply, err := retry.Value(ctx, o.retry, func(ctx context.Context) (string, error) {
		return o.provider.Complete(ctx, msgs)
	})
	elapsed := time.Since(start)
	if err != nil {
		o.metrics.observe(req.Scope, resultFailed, elapsed)
		log.Error("session: provider call failed", "elapsed", elapsed, "err", err)
		return "", fmt.Errorf("session %s: %w", traceID, err)
	}

	o.mem.Append(ctx, req.Scope, req.ID, prompt, reply)
	o.metrics.observe(req.Scope, resultOK, elapsed)
	log.Info("session: reply recorded", "elapsed", elapsed, "chars", len(reply))
	return reply, nil
}

// buildMessages lays out [system] + history + prompt.
func (o *Orchestrator) buildMessages(history memory.Record, prompt string) []llm.Message {
	msgs := make([]llm.Message, 0, history.Len()+2)
	if o.system != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: o.system})
	}
	for _, m := range history.Messages {
		msgs = append(msgs, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: prompt})
}
