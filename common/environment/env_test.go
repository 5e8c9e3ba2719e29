package environment_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/Ely/common/environment"
)

func unsetAfter(t *testing.T, names ...string) {
	t.Helper()
	t.Cleanup(func() {
		for _, n := range names {
			os.Unsetenv(n)
		}
	})
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "ELY_TEST_DOTENV_A=from-file\nELY_TEST_DOTENV_B=\"quoted value\"\n# comment\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	unsetAfter(t, "ELY_TEST_DOTENV_A", "ELY_TEST_DOTENV_B")

	loaded, err := environment.LoadDotEnv(filepath.Join(dir, "missing.env"), path)
	if err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != path {
		t.Errorf("loaded = %v, want [%s]", loaded, path)
	}
	if got := os.Getenv("ELY_TEST_DOTENV_A"); got != "from-file" {
		t.Errorf("A = %q", got)
	}
	if got := os.Getenv("ELY_TEST_DOTENV_B"); got != "quoted value" {
		t.Errorf("B = %q", got)
	}
}

func TestLoadDotEnv_ProcessEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("ELY_TEST_DOTENV_C=from-file\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("ELY_TEST_DOTENV_C", "from-process")

	if _, err := environment.LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("ELY_TEST_DOTENV_C"); got != "from-process" {
		t.Errorf("expected process value to win, got %q", got)
	}
}

func TestLoadDotEnv_AllMissing(t *testing.T) {
	loaded, err := environment.LoadDotEnv(filepath.Join(t.TempDir(), "nope.env"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("loaded = %v, want none", loaded)
	}
}

func TestStringOr(t *testing.T) {
	t.Setenv("ELY_TEST_STRING", "hello")
	if got := environment.StringOr("ELY_TEST_STRING", "default"); got != "hello" {
		t.Errorf("expected %q, got %q", "hello", got)
	}
	if got := environment.StringOr("ELY_TEST_STRING_MISSING", "default"); got != "default" {
		t.Errorf("expected %q, got %q", "default", got)
	}
}

func TestFirstOf(t *testing.T) {
	t.Setenv("ELY_TEST_FIRST_A", "")
	t.Setenv("ELY_TEST_FIRST_B", "b-value")
	t.Setenv("ELY_TEST_FIRST_C", "c-value")

	v, name := environment.FirstOf("ELY_TEST_FIRST_A", "ELY_TEST_FIRST_B", "ELY_TEST_FIRST_C")
	if v != "b-value" || name != "ELY_TEST_FIRST_B" {
		t.Errorf("FirstOf = %q from %q", v, name)
	}
	if v, name := environment.FirstOf("ELY_TEST_FIRST_MISSING"); v != "" || name != "" {
		t.Errorf("expected empty result, got %q from %q", v, name)
	}
}

func TestRequiredString(t *testing.T) {
	t.Setenv("ELY_TEST_REQUIRED", "value")
	v, err := environment.RequiredString("ELY_TEST_REQUIRED")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "value" {
		t.Errorf("expected %q, got %q", "value", v)
	}
	if _, err := environment.RequiredString("ELY_TEST_REQUIRED_MISSING"); err == nil {
		t.Error("expected error for missing variable")
	}
}

func TestParsedLookups(t *testing.T) {
	t.Setenv("ELY_TEST_BOOL", "true")
	t.Setenv("ELY_TEST_INT", " 42 ")
	t.Setenv("ELY_TEST_INT_BAD", "forty-two")
	t.Setenv("ELY_TEST_DUR", "30s")

	if !environment.BoolOr("ELY_TEST_BOOL", false) {
		t.Error("BoolOr: expected true")
	}
	if !environment.BoolOr("ELY_TEST_BOOL_MISSING", true) {
		t.Error("BoolOr: expected default true")
	}
	if got := environment.IntOr("ELY_TEST_INT", 0); got != 42 {
		t.Errorf("IntOr = %d, want 42", got)
	}
	if got := environment.IntOr("ELY_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("IntOr bad value = %d, want default 7", got)
	}
	if got := environment.DurationOr("ELY_TEST_DUR", time.Minute); got != 30*time.Second {
		t.Errorf("DurationOr = %v, want 30s", got)
	}
	if got := environment.DurationOr("ELY_TEST_DUR_MISSING", time.Minute); got != time.Minute {
		t.Errorf("DurationOr default = %v", got)
	}
}

func TestStringSliceOr(t *testing.T) {
	t.Setenv("ELY_TEST_SLICE", "!a:x, !b:x , ,!c:x")
	got := environment.StringSliceOr("ELY_TEST_SLICE", nil)
	if len(got) != 3 || got[0] != "!a:x" || got[1] != "!b:x" || got[2] != "!c:x" {
		t.Errorf("unexpected result: %v", got)
	}

	t.Setenv("ELY_TEST_SLICE_BLANK", " , ")
	fallback := []string{"x"}
	if got := environment.StringSliceOr("ELY_TEST_SLICE_BLANK", fallback); len(got) != 1 || got[0] != "x" {
		t.Errorf("expected fallback, got %v", got)
	}
}
