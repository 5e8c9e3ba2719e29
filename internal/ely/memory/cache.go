package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// table is the in-process record map for one scope. Its mutex is held for
// the whole of a Fetch or Append, including the store call on a miss or
// write, so operations on one scope are strictly serialised.
type table struct {
	mu      sync.Mutex
	records map[string]*Record
}

// Cache is the concurrency-safe access point for conversation records. It
// is safe for concurrent use; the two scopes are guarded by separate locks
// and proceed in parallel.
type Cache struct {
	store      Store
	logger     *slog.Logger
	metrics    *Metrics
	maxHistory int
	tables     map[Scope]*table // fixed at construction, read-only afterwards
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the logger used for absorbed failures and cache events.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches Prometheus counters.
func WithMetrics(m *Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// WithMaxHistory overrides MaxHistoryLen in tests. The bound must hold whole
// user/assistant pairs: odd values are rounded down and values below 2 are
// ignored.
func WithMaxHistory(n int) CacheOption {
	return func(c *Cache) {
		if n >= 2 {
			c.maxHistory = n - n%2
		}
	}
}

// NewCache creates an empty cache backed by store.
func NewCache(store Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store:      store,
		logger:     slog.Default(),
		maxHistory: MaxHistoryLen,
		tables:     make(map[Scope]*table, len(Scopes())),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, scope := range Scopes() {
		c.tables[scope] = &table{records: make(map[string]*Record)}
	}
	return c
}

// Fetch returns a snapshot of the record for (scope, id), loading it from
// the store on first access. It never fails: unreadable history is logged
// and replaced by an empty record, which stays cached so the load is not
// retried on every call.
//
// Fetch panics if scope is not a known Scope.
func (c *Cache) Fetch(ctx context.Context, scope Scope, id string) Record {
	t := c.table(scope)
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, hit := t.records[id]
	c.metrics.lookup(scope, hit)
	if hit {
		c.logger.Debug("memory: cache hit", "scope", scope, "id", id, "messages", len(rec.Messages))
		return rec.Clone()
	}

	rec = c.load(ctx, Key{Scope: scope, ID: id})
	t.records[id] = rec
	return rec.Clone()
}

// Append records one completed exchange for (scope, id): the user message,
// then the assistant reply. The record is truncated to the retention bound,
// updated in the cache, and then persisted. A failed save is logged and
// counted but the cached record is kept; it remains the source of truth for
// the rest of the process lifetime.
//
// Append panics if scope is not a known Scope.
func (c *Cache) Append(ctx context.Context, scope Scope, id, userText, assistantText string) {
	t := c.table(scope)
	t.mu.Lock()
	defer t.mu.Unlock()

	key := Key{Scope: scope, ID: id}
	rec, ok := t.records[id]
	if !ok {
		c.logger.Warn("memory: append without cached history, loading", "scope", scope, "id", id)
		rec = c.load(ctx, key)
		t.records[id] = rec
	}

	rec.Append(userText, assistantText)
	if dropped := rec.Truncate(c.maxHistory); dropped > 0 {
		c.metrics.truncation(scope, dropped)
		c.logger.Info("memory: truncated history", "scope", scope, "id", id, "dropped", dropped, "max", c.maxHistory)
	}

	if err := c.store.Save(context.WithoutCancel(ctx), key, rec.Clone()); err != nil {
		kind := SaveErrorIO
		var saveErr *SaveError
		if errors.As(err, &saveErr) {
			kind = saveErr.Kind
		}
		c.metrics.saveError(scope, kind)
		c.logger.Error("memory: failed to persist history, keeping in-memory copy",
			"scope", scope, "id", id, "kind", kind, "err", err)
		return
	}
	c.logger.Debug("memory: persisted history", "scope", scope, "id", id, "messages", len(rec.Messages))
}

// Len returns the number of identities currently cached for scope.
func (c *Cache) Len(scope Scope) int {
	t := c.table(scope)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// load reads the record for key from the store and applies the retention
// bound. Any error yields an empty record. Must be called with the scope
// lock held.
func (c *Cache) load(ctx context.Context, key Key) *Record {
	rec, err := c.store.Load(context.WithoutCancel(ctx), key)
	if err != nil {
		reason := "io"
		var corrupt *CorruptError
		if errors.As(err, &corrupt) {
			reason = "corrupt"
		}
		c.metrics.loadError(key.Scope, reason)
		c.logger.Warn("memory: failed to load history, starting fresh",
			"scope", key.Scope, "id", key.ID, "reason", reason, "err", err)
		return &Record{Messages: []Message{}}
	}

	if rec.Messages == nil {
		rec.Messages = []Message{}
	}
	if dropped := rec.Truncate(c.maxHistory); dropped > 0 {
		c.metrics.truncation(key.Scope, dropped)
		c.logger.Info("memory: truncated loaded history", "scope", key.Scope, "id", key.ID, "dropped", dropped, "max", c.maxHistory)
	}
	c.logger.Info("memory: loaded history", "scope", key.Scope, "id", key.ID, "messages", len(rec.Messages))
	return &rec
}

func (c *Cache) table(scope Scope) *table {
	t, ok := c.tables[scope]
	if !ok {
		panic(fmt.Sprintf("memory: invalid scope %q", scope))
	}
	return t
}
