package plugin

import (
	"fmt"
	"strings"
	"sync"

	"nendo/errs"
	"nendo/logger"
)

// ShortNamePrefix is stripped from plugin names to form their short alias.
const ShortNamePrefix = "nendo_plugin_"

// ShortName returns name without ShortNamePrefix.
func ShortName(name string) string {
	return strings.TrimPrefix(name, ShortNamePrefix)
}

// Registered is a plugin known to the registry.
type Registered struct {
	Name    string
	Version string
	Plugin  *Plugin
}

// Registry maps plugin names and short names to plugins. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*Registered
	short   map[string]string
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*Registered),
		short:   make(map[string]string),
	}
}

func validate(p *Plugin) error {
	if p == nil || p.Name == "" {
		return errs.PluginLoading("", "plugin has no name")
	}
	if len(p.Ops) == 0 {
		return errs.PluginLoading(p.Name, "plugin has no functions")
	}
	seen := make(map[string]bool, len(p.Ops))
	for _, op := range p.Ops {
		if op == nil || op.OpName() == "" {
			return errs.PluginLoading(p.Name, "plugin function without name")
		}
		if seen[op.OpName()] {
			return errs.PluginLoading(p.Name, fmt.Sprintf("duplicate function %q", op.OpName()))
		}
		seen[op.OpName()] = true
	}
	for _, key := range p.RequiredConfig {
		if p.Config[key] == "" {
			return errs.PluginConfig(p.Name, key)
		}
	}
	return nil
}

// Add registers p, replacing a plugin of the same name.
func (r *Registry) Add(p *Plugin) (*Registered, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	reg := &Registered{Name: p.Name, Version: p.Version, Plugin: p}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[p.Name]; exists {
		logger.Warn("[Plugin] Replacing registered plugin", logger.String("plugin", p.Name))
	} else {
		r.order = append(r.order, p.Name)
	}
	r.plugins[p.Name] = reg
	r.short[ShortName(p.Name)] = p.Name
	logger.Info("[Plugin] Registered plugin", logger.String("plugin", p.Name), logger.String("version", p.Version))
	return reg, nil
}

// Remove unregisters a plugin by full or short name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	full, ok := r.resolve(name)
	if !ok {
		return errs.PluginLoading(name, "plugin not registered")
	}
	delete(r.plugins, full)
	delete(r.short, ShortName(full))
	for i, n := range r.order {
		if n == full {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// resolve needs r.mu held.
func (r *Registry) resolve(name string) (string, bool) {
	if _, ok := r.plugins[name]; ok {
		return name, true
	}
	full, ok := r.short[name]
	return full, ok
}

// Get finds a plugin by full or short name.
func (r *Registry) Get(name string) (*Registered, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	full, ok := r.resolve(name)
	if !ok {
		return nil, errs.PluginLoading(name, "plugin not registered")
	}
	return r.plugins[full], nil
}

// AllNames lists plugin names in registration order.
func (r *Registry) AllNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// All lists registered plugins in registration order.
func (r *Registry) All() []*Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registered, len(r.order))
	for i, n := range r.order {
		out[i] = r.plugins[n]
	}
	return out
}

// FindByKind returns the first registered plugin with an op of kind k, or
// nil.
func (r *Registry) FindByKind(k Kind) *Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.order {
		if reg := r.plugins[n]; reg.Plugin.HasKind(k) {
			return reg
		}
	}
	return nil
}

// Len is the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

func (r *Registry) String() string {
	var b strings.Builder
	for _, reg := range r.All() {
		fmt.Fprintf(&b, "%s - version %s (%s)\n", reg.Name, reg.Version, reg.Plugin.Family)
	}
	return b.String()
}
