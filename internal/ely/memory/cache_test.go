package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeStore is an in-memory Store that records calls and can be told to fail.
type fakeStore struct {
	mu       sync.Mutex
	records  map[Key]Record
	loadErr  error
	saveErr  error
	loads    int
	saves    int
	saveCtxs []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[Key]Record)}
}

func (f *fakeStore) Load(_ context.Context, key Key) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return Record{}, f.loadErr
	}
	return f.records[key].Clone(), nil
}

func (f *fakeStore) Save(ctx context.Context, key Key, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.saveCtxs = append(f.saveCtxs, ctx.Err())
	if f.saveErr != nil {
		return f.saveErr
	}
	f.records[key] = rec.Clone()
	return nil
}

func (f *fakeStore) stored(key Key) Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[key].Clone()
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h), &buf
}

func TestCache_FetchMissReturnsEmpty(t *testing.T) {
	c := NewCache(newFakeStore())

	rec := c.Fetch(context.Background(), ScopeUser, "42")
	if rec.Messages == nil {
		t.Fatal("expected non-nil empty message slice")
	}
	if rec.Len() != 0 {
		t.Errorf("expected empty history, got %d messages", rec.Len())
	}
}

func TestCache_FetchMissIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	c := NewCache(fs)
	ctx := context.Background()

	c.Fetch(ctx, ScopeUser, "42")
	c.Fetch(ctx, ScopeUser, "42")
	c.Fetch(ctx, ScopeUser, "42")

	if fs.loads != 1 {
		t.Errorf("expected a single store load, got %d", fs.loads)
	}
	if c.Len(ScopeUser) != 1 {
		t.Errorf("expected 1 cached identity, got %d", c.Len(ScopeUser))
	}
}

func TestCache_FetchReturnsCopy(t *testing.T) {
	c := NewCache(newFakeStore())
	ctx := context.Background()
	c.Append(ctx, ScopeUser, "42", "hi", "hello")

	snap := c.Fetch(ctx, ScopeUser, "42")
	snap.Messages[0].Content = "tampered"
	_ = append(snap.Messages, Message{Role: RoleUser, Content: "extra"})

	again := c.Fetch(ctx, ScopeUser, "42")
	if again.Len() != 2 || again.Messages[0].Content != "hi" {
		t.Errorf("cached record changed through snapshot: %+v", again.Messages)
	}
}

func TestCache_AppendOrderAndPersistence(t *testing.T) {
	fs := newFakeStore()
	c := NewCache(fs)
	ctx := context.Background()
	key := Key{Scope: ScopeServer, ID: "!room:example.org"}

	c.Fetch(ctx, key.Scope, key.ID)
	c.Append(ctx, key.Scope, key.ID, "first question", "first answer")
	c.Append(ctx, key.Scope, key.ID, "second question", "second answer")

	rec := c.Fetch(ctx, key.Scope, key.ID)
	if rec.Len() != 4 {
		t.Fatalf("expected 4 messages, got %d", rec.Len())
	}
	last := rec.Messages[2:]
	if last[0] != (Message{Role: RoleUser, Content: "second question"}) {
		t.Errorf("penultimate = %+v", last[0])
	}
	if last[1] != (Message{Role: RoleAssistant, Content: "second answer"}) {
		t.Errorf("last = %+v", last[1])
	}

	if got := fs.stored(key); got.Len() != 4 {
		t.Errorf("store holds %d messages, want 4", got.Len())
	}
	if fs.saves != 2 {
		t.Errorf("expected one save per append, got %d", fs.saves)
	}
}

func TestCache_BoundHoldsAfterEveryAppend(t *testing.T) {
	fs := newFakeStore()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := NewCache(fs, WithMetrics(m))
	ctx := context.Background()
	key := Key{Scope: ScopeUser, ID: "42"}

	for i := 0; i < 30; i++ {
		u, a := fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i)
		c.Append(ctx, key.Scope, key.ID, u, a)

		rec := c.Fetch(ctx, key.Scope, key.ID)
		if rec.Len() > MaxHistoryLen {
			t.Fatalf("after append %d: %d messages exceeds bound", i, rec.Len())
		}
		n := rec.Len()
		if rec.Messages[n-2].Content != u || rec.Messages[n-1].Content != a {
			t.Fatalf("after append %d: newest pair = %q, %q", i, rec.Messages[n-2].Content, rec.Messages[n-1].Content)
		}
		if stored := fs.stored(key); stored.Len() > MaxHistoryLen {
			t.Fatalf("after append %d: stored %d messages exceeds bound", i, stored.Len())
		}
	}

	// 60 messages written, 20 kept.
	if got := testutil.ToFloat64(m.truncated.WithLabelValues("user")); got != 40 {
		t.Errorf("truncated counter = %v, want 40", got)
	}
}

func TestCache_TwentyMessageScenario(t *testing.T) {
	fs := newFakeStore()
	key := Key{Scope: ScopeUser, ID: "42"}
	var seed Record
	for i := 1; i <= 10; i++ {
		seed.Append(fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
	}
	fs.records[key] = seed

	c := NewCache(fs)
	ctx := context.Background()
	if got := c.Fetch(ctx, key.Scope, key.ID); got.Len() != 20 {
		t.Fatalf("expected seeded 20 messages, got %d", got.Len())
	}

	c.Append(ctx, key.Scope, key.ID, "u11", "a11")

	rec := c.Fetch(ctx, key.Scope, key.ID)
	if rec.Len() != 20 {
		t.Fatalf("expected 20 messages, got %d", rec.Len())
	}
	if rec.Messages[0].Content != "u2" {
		t.Errorf("oldest message = %q, want u2", rec.Messages[0].Content)
	}
	if rec.Messages[19].Content != "a11" {
		t.Errorf("newest message = %q, want a11", rec.Messages[19].Content)
	}
}

func TestCache_LoadAppliesBound(t *testing.T) {
	fs := newFakeStore()
	key := Key{Scope: ScopeServer, ID: "room"}
	var seed Record
	for i := 0; i < 15; i++ {
		seed.Append(fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
	}
	fs.records[key] = seed

	rec := NewCache(fs).Fetch(context.Background(), key.Scope, key.ID)
	if rec.Len() != MaxHistoryLen {
		t.Fatalf("expected %d messages, got %d", MaxHistoryLen, rec.Len())
	}
	if rec.Messages[0].Content != "u5" || rec.Messages[MaxHistoryLen-1].Content != "a14" {
		t.Errorf("unexpected window: first=%q last=%q", rec.Messages[0].Content, rec.Messages[MaxHistoryLen-1].Content)
	}
}

func TestCache_WithMaxHistory(t *testing.T) {
	c := NewCache(newFakeStore(), WithMaxHistory(4))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		c.Append(ctx, ScopeUser, "1", fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
	}
	rec := c.Fetch(ctx, ScopeUser, "1")
	if rec.Len() != 4 || rec.Messages[0].Content != "u3" {
		t.Errorf("unexpected history: %+v", rec.Messages)
	}
}

func TestCache_WithMaxHistoryKeepsWholePairs(t *testing.T) {
	tests := []struct {
		bound int
		want  int
	}{
		{bound: 3, want: 2},
		{bound: 1, want: MaxHistoryLen},
		{bound: 0, want: MaxHistoryLen},
		{bound: 7, want: 6},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("bound=%d", tt.bound), func(t *testing.T) {
			c := NewCache(newFakeStore(), WithMaxHistory(tt.bound))
			ctx := context.Background()
			for i := 0; i < MaxHistoryLen; i++ {
				c.Append(ctx, ScopeUser, "1", fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
			}
			rec := c.Fetch(ctx, ScopeUser, "1")
			if rec.Len() != tt.want {
				t.Fatalf("kept %d messages, want %d", rec.Len(), tt.want)
			}
			if rec.Messages[0].Role != RoleUser {
				t.Errorf("history starts with %q, want a user turn: %+v", rec.Messages[0].Role, rec.Messages)
			}
			last := MaxHistoryLen - 1
			if got := rec.Messages[rec.Len()-2]; got.Content != fmt.Sprintf("u%d", last) {
				t.Errorf("newest user message = %+v", got)
			}
		})
	}
}

func TestCache_AppendWithoutFetchLoadsFromStore(t *testing.T) {
	fs := newFakeStore()
	key := Key{Scope: ScopeUser, ID: "42"}
	var seed Record
	seed.Append("old question", "old answer")
	fs.records[key] = seed

	logger, logs := bufferLogger()
	c := NewCache(fs, WithLogger(logger))
	ctx := context.Background()

	c.Append(ctx, key.Scope, key.ID, "new question", "new answer")

	rec := c.Fetch(ctx, key.Scope, key.ID)
	if rec.Len() != 4 {
		t.Fatalf("expected prior history to be kept, got %d messages", rec.Len())
	}
	if rec.Messages[0].Content != "old question" || rec.Messages[3].Content != "new answer" {
		t.Errorf("unexpected history: %+v", rec.Messages)
	}
	if !strings.Contains(logs.String(), "level=WARN") {
		t.Errorf("expected a warning for append without cached history, logs:\n%s", logs)
	}
}

func TestCache_RestartRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	c1 := NewCache(s1)
	c1.Fetch(ctx, ScopeUser, "42")
	c1.Append(ctx, ScopeUser, "42", "remember me", "I will")
	c1.Append(ctx, ScopeServer, "42", "server side", "noted")
	want := c1.Fetch(ctx, ScopeUser, "42")

	// A fresh process: new store, new cache, same directory.
	s2, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	c2 := NewCache(s2)
	got := c2.Fetch(ctx, ScopeUser, "42")

	if got.Len() != want.Len() {
		t.Fatalf("after restart got %d messages, want %d", got.Len(), want.Len())
	}
	for i := range want.Messages {
		if got.Messages[i] != want.Messages[i] {
			t.Errorf("message %d = %+v, want %+v", i, got.Messages[i], want.Messages[i])
		}
	}
	if srv := c2.Fetch(ctx, ScopeServer, "42"); srv.Len() != 2 || srv.Messages[0].Content != "server side" {
		t.Errorf("server scope after restart: %+v", srv.Messages)
	}
}

func TestCache_CorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	key := Key{Scope: ScopeUser, ID: "42"}
	if err := os.WriteFile(s.Path(key), []byte("{not valid json!!!"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	logger, logs := bufferLogger()
	m := NewMetrics(prometheus.NewRegistry())
	c := NewCache(s, WithLogger(logger), WithMetrics(m))
	ctx := context.Background()

	rec := c.Fetch(ctx, key.Scope, key.ID)
	if rec.Len() != 0 {
		t.Fatalf("expected empty history for corrupt file, got %d messages", rec.Len())
	}
	if !strings.Contains(logs.String(), "level=WARN") {
		t.Errorf("expected a warning log, got:\n%s", logs)
	}
	if got := testutil.ToFloat64(m.loadErrors.WithLabelValues("user", "corrupt")); got != 1 {
		t.Errorf("load error counter = %v, want 1", got)
	}

	// The empty record stays cached; the next append overwrites the file.
	c.Fetch(ctx, key.Scope, key.ID)
	if got := testutil.ToFloat64(m.loadErrors.WithLabelValues("user", "corrupt")); got != 1 {
		t.Errorf("corrupt file was reloaded: counter = %v", got)
	}
	c.Append(ctx, key.Scope, key.ID, "fresh", "start")
	reloaded, err := s.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load after overwrite: %v", err)
	}
	if reloaded.Len() != 2 {
		t.Errorf("expected overwritten file with 2 messages, got %d", reloaded.Len())
	}
}

func TestCache_LoadIOErrorIsCounted(t *testing.T) {
	fs := newFakeStore()
	fs.loadErr = errors.New("disk on fire")
	m := NewMetrics(prometheus.NewRegistry())
	c := NewCache(fs, WithMetrics(m))

	rec := c.Fetch(context.Background(), ScopeServer, "room")
	if rec.Len() != 0 {
		t.Errorf("expected empty history, got %d", rec.Len())
	}
	if got := testutil.ToFloat64(m.loadErrors.WithLabelValues("server", "io")); got != 1 {
		t.Errorf("load error counter = %v, want 1", got)
	}
}

func TestCache_SaveFailureKeepsInMemoryCopy(t *testing.T) {
	fs := newFakeStore()
	fs.saveErr = &SaveError{Kind: SaveErrorIO, Key: Key{Scope: ScopeUser, ID: "42"}, Source: "test", Err: errors.New("read-only")}
	logger, logs := bufferLogger()
	m := NewMetrics(prometheus.NewRegistry())
	c := NewCache(fs, WithLogger(logger), WithMetrics(m))
	ctx := context.Background()

	c.Fetch(ctx, ScopeUser, "42")
	c.Append(ctx, ScopeUser, "42", "q", "a")

	rec := c.Fetch(ctx, ScopeUser, "42")
	if rec.Len() != 2 {
		t.Fatalf("expected in-memory history to survive save failure, got %d messages", rec.Len())
	}
	if !strings.Contains(logs.String(), "level=ERROR") {
		t.Errorf("expected an error log, got:\n%s", logs)
	}
	if got := testutil.ToFloat64(m.saveErrors.WithLabelValues("user", "io")); got != 1 {
		t.Errorf("save error counter = %v, want 1", got)
	}
}

func TestCache_SaveIgnoresCallerCancellation(t *testing.T) {
	fs := newFakeStore()
	c := NewCache(fs)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c.Append(ctx, ScopeUser, "42", "q", "a")

	if len(fs.saveCtxs) != 1 {
		t.Fatalf("expected 1 save, got %d", len(fs.saveCtxs))
	}
	if fs.saveCtxs[0] != nil {
		t.Errorf("save ran with a cancelled context: %v", fs.saveCtxs[0])
	}
}

func TestCache_ScopeIsolation(t *testing.T) {
	fs := newFakeStore()
	c := NewCache(fs)
	ctx := context.Background()

	c.Append(ctx, ScopeUser, "42", "user scope", "reply")

	if srv := c.Fetch(ctx, ScopeServer, "42"); srv.Len() != 0 {
		t.Errorf("server scope sees user scope history: %+v", srv.Messages)
	}
	if usr := c.Fetch(ctx, ScopeUser, "42"); usr.Len() != 2 {
		t.Errorf("user scope lost its history: %+v", usr.Messages)
	}
	if got := fs.stored(Key{Scope: ScopeServer, ID: "42"}); got.Len() != 0 {
		t.Errorf("server key written by user append: %+v", got.Messages)
	}
}

func TestCache_ConcurrentAppendsLoseNothing(t *testing.T) {
	const n = 50
	fs := newFakeStore()
	c := NewCache(fs, WithMaxHistory(2*n))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Append(ctx, ScopeServer, "room", fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
		}(i)
	}
	wg.Wait()

	rec := c.Fetch(ctx, ScopeServer, "room")
	if rec.Len() != 2*n {
		t.Fatalf("expected %d messages, got %d", 2*n, rec.Len())
	}
	seen := make(map[string]bool, n)
	for j := 0; j < rec.Len(); j += 2 {
		u, a := rec.Messages[j], rec.Messages[j+1]
		if u.Role != RoleUser || a.Role != RoleAssistant {
			t.Fatalf("pair at %d has roles %q, %q", j, u.Role, a.Role)
		}
		idx := strings.TrimPrefix(u.Content, "u")
		if a.Content != "a"+idx {
			t.Fatalf("interleaved pair at %d: %q, %q", j, u.Content, a.Content)
		}
		if seen[idx] {
			t.Fatalf("pair %s appears twice", idx)
		}
		seen[idx] = true
	}

	if stored := fs.stored(Key{Scope: ScopeServer, ID: "room"}); stored.Len() != 2*n {
		t.Errorf("final stored record has %d messages, want %d", stored.Len(), 2*n)
	}
}

func TestCache_ConcurrentAppendsRespectBound(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	c := NewCache(s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scope := ScopeUser
			if i%2 == 1 {
				scope = ScopeServer
			}
			c.Append(ctx, scope, "shared", fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
		}(i)
	}
	wg.Wait()

	for _, scope := range Scopes() {
		rec := c.Fetch(ctx, scope, "shared")
		if rec.Len() != MaxHistoryLen {
			t.Errorf("%s: expected %d messages, got %d", scope, MaxHistoryLen, rec.Len())
		}
		onDisk, err := s.Load(ctx, Key{Scope: scope, ID: "shared"})
		if err != nil {
			t.Fatalf("%s: Load: %v", scope, err)
		}
		if onDisk.Len() != rec.Len() {
			t.Errorf("%s: disk has %d messages, cache has %d", scope, onDisk.Len(), rec.Len())
		}
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestCache_InvalidScopePanics(t *testing.T) {
	c := NewCache(newFakeStore())

	for name, fn := range map[string]func(){
		"fetch":  func() { c.Fetch(context.Background(), Scope("guild"), "1") },
		"append": func() { c.Append(context.Background(), Scope("guild"), "1", "q", "a") },
		"len":    func() { c.Len(Scope("")) },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic for invalid scope")
				}
			}()
			fn()
		})
	}
}

func TestCache_LookupMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	c := NewCache(newFakeStore(), WithMetrics(m))
	ctx := context.Background()

	c.Fetch(ctx, ScopeUser, "1")
	c.Fetch(ctx, ScopeUser, "1")
	c.Fetch(ctx, ScopeUser, "2")

	if got := testutil.ToFloat64(m.lookups.WithLabelValues("user", "miss")); got != 2 {
		t.Errorf("misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.lookups.WithLabelValues("user", "hit")); got != 1 {
		t.Errorf("hits = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.lookup(ScopeUser, true)
	m.loadError(ScopeUser, "io")
	m.saveError(ScopeUser, SaveErrorIO)
	m.truncation(ScopeUser, 3)
}
