// Package registry holds the immutable alias → action mapping built from config.
package registry

import (
	"regexp"
	"sort"

	"github.com/mattjoyce/zika/internal/config"
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Button is the Home Assistant presentation of an action.
type Button struct {
	Name string
	Icon string
}

// Action is a resolved host action.
type Action struct {
	Alias   string
	Command string
	Button  *Button
}

// Registry is safe for concurrent reads; it is never mutated after New.
type Registry struct {
	actions map[string]Action
	aliases []string
}

// New builds a Registry from the configured commands.
func New(commands map[string]config.CommandConfig) *Registry {
	r := &Registry{actions: make(map[string]Action, len(commands))}
	for alias, c := range commands {
		a := Action{Alias: alias, Command: c.Command}
		if c.HA != nil {
			a.Button = &Button{Name: c.HA.Name, Icon: c.HA.Icon}
		}
		r.actions[alias] = a
		r.aliases = append(r.aliases, alias)
	}
	sort.Strings(r.aliases)
	return r
}

// Lookup resolves an alias.
func (r *Registry) Lookup(alias string) (Action, bool) {
	a, ok := r.actions[alias]
	return a, ok
}

// Aliases returns all aliases in sorted order.
func (r *Registry) Aliases() []string {
	out := make([]string, len(r.aliases))
	copy(out, r.aliases)
	return out
}

// All returns every action in alias order.
func (r *Registry) All() []Action {
	out := make([]Action, 0, len(r.aliases))
	for _, alias := range r.aliases {
		out = append(out, r.actions[alias])
	}
	return out
}

// Len returns the number of registered actions.
func (r *Registry) Len() int { return len(r.actions) }

// DiscoveryID turns an alias into an identifier safe for discovery topics.
func DiscoveryID(alias string) string {
	return nonAlnum.ReplaceAllString(alias, "_")
}
