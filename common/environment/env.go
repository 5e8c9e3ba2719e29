// Package environment reads Ely's settings from process environment
// variables and optional .env files.
//
// Lookups never exit the process. Missing required values come back as
// errors so the caller decides how to report them.
package environment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=value pairs from each of paths into the process
// environment. Variables that are already set win over file contents.
// Missing files are skipped; it returns the paths that were actually read.
// With no arguments it tries ".env" in the working directory.
func LoadDotEnv(paths ...string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var loaded []string
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("load %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// String returns the named variable and whether it is set at all.
func String(name string) (string, bool) {
	return os.LookupEnv(name)
}

// StringOr returns the named variable, or def when it is unset or empty.
func StringOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// FirstOf returns the first non-empty value among names, in order, and
// the name it came from.
func FirstOf(names ...string) (value, name string) {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v, n
		}
	}
	return "", ""
}

// RequiredString returns the named variable or an error naming it.
func RequiredString(name string) (string, error) {
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("required environment variable %q is not set", name)
}

// BoolOr parses the named variable with strconv.ParseBool.
func BoolOr(name string, def bool) bool {
	return parseOr(name, def, strconv.ParseBool)
}

// IntOr parses the named variable as a base-10 integer.
func IntOr(name string, def int) int {
	return parseOr(name, def, strconv.Atoi)
}

// DurationOr parses the named variable with time.ParseDuration.
func DurationOr(name string, def time.Duration) time.Duration {
	return parseOr(name, def, time.ParseDuration)
}

// StringSliceOr splits the named variable on commas, trimming blanks and
// dropping empty elements. def is returned when nothing remains.
func StringSliceOr(name string, def []string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(name), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// parseOr returns def when the variable is unset, empty, or fails to parse.
func parseOr[T any](name string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}
