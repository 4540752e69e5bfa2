package model

import (
	"fmt"
	"sort"
	"strings"
)

// Action is a single permitted operation on a resource.
type Action string

const (
	ActionView    Action = "view"
	ActionComment Action = "comment"
)

var knownActions = map[Action]bool{
	ActionView:    true,
	ActionComment: true,
}

// Scope is the set of actions a credential or session authorizes. It is kept
// sorted and free of duplicates so equal scopes compare and serialize equally.
type Scope []Action

// DefaultScope is the scope granted when an issuer does not ask for one.
func DefaultScope() Scope {
	return Scope{ActionView}
}

// ParseScope parses a comma-separated list of actions ("view,comment").
// Unknown actions are rejected; an empty string yields an empty scope.
func ParseScope(s string) (Scope, error) {
	if strings.TrimSpace(s) == "" {
		return Scope{}, nil
	}
	parts := strings.Split(s, ",")
	actions := make([]Action, 0, len(parts))
	for _, p := range parts {
		a := Action(strings.ToLower(strings.TrimSpace(p)))
		if a == "" {
			continue
		}
		if !knownActions[a] {
			return nil, fmt.Errorf("unknown scope action %q", a)
		}
		actions = append(actions, a)
	}
	return NewScope(actions...), nil
}

// NewScope builds a normalized scope from the given actions.
func NewScope(actions ...Action) Scope {
	seen := make(map[Action]bool, len(actions))
	out := make(Scope, 0, len(actions))
	for _, a := range actions {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether the scope permits action a.
func (s Scope) Has(a Action) bool {
	for _, x := range s {
		if x == a {
			return true
		}
	}
	return false
}

// Intersect returns the actions present in both s and other.
func (s Scope) Intersect(other Scope) Scope {
	out := make([]Action, 0, len(s))
	for _, a := range s {
		if other.Has(a) {
			out = append(out, a)
		}
	}
	return NewScope(out...)
}

// String returns the comma-separated storage form of the scope.
func (s Scope) String() string {
	parts := make([]string, len(s))
	for i, a := range s {
		parts[i] = string(a)
	}
	return strings.Join(parts, ",")
}

// Strings returns the scope as a plain string slice (token claims, JSON).
func (s Scope) Strings() []string {
	out := make([]string, len(s))
	for i, a := range s {
		out[i] = string(a)
	}
	return out
}
