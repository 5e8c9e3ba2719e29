package memory

import "fmt"

// Scope selects one of the independent memory namespaces.
type Scope string

const (
	// ScopeUser holds one history per user, shared across rooms.
	ScopeUser Scope = "user"
	// ScopeServer holds one history per room, shared by its members.
	ScopeServer Scope = "server"
)

// Scopes returns every valid scope in a stable order.
func Scopes() []Scope {
	return []Scope{ScopeUser, ScopeServer}
}

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	return s == ScopeUser || s == ScopeServer
}

// ParseScope converts external input (CLI flags, config) into a Scope.
func ParseScope(s string) (Scope, error) {
	scope := Scope(s)
	if !scope.Valid() {
		return "", fmt.Errorf("memory: unknown scope %q (want %q or %q)", s, ScopeUser, ScopeServer)
	}
	return scope, nil
}

// Key identifies one record: an opaque caller-supplied ID within a scope.
type Key struct {
	Scope Scope
	ID    string
}

func (k Key) String() string {
	return string(k.Scope) + "/" + k.ID
}
