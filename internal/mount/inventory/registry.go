package inventory

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// DetectFunc reports whether an item belongs to an extension the core cannot interpret.
type DetectFunc func(Item) bool

// DescribeFunc returns a human-readable description of an item; ok=false defers to the next
// describer.
type DescribeFunc func(Item) (desc string, ok bool)

// Registry holds named extension detectors and describers. It can be extended at runtime,
// concurrently with encoding.
type Registry struct {
	mu         sync.RWMutex
	detectors  map[string]DetectFunc
	describers map[string]DescribeFunc
	order      []string // describer registration order
}

func NewRegistry() *Registry {
	return &Registry{
		detectors:  map[string]DetectFunc{},
		describers: map[string]DescribeFunc{},
	}
}

// RegisterDetector adds or replaces the detector registered under name.
func (r *Registry) RegisterDetector(name string, fn DetectFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors[name] = fn
}

// RegisterDescriber adds or replaces the describer registered under name. Describers are
// consulted in registration order.
func (r *Registry) RegisterDescriber(name string, fn DescribeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.describers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.describers[name] = fn
}

// Unregister removes both the detector and describer registered under name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.detectors, name)
	if _, ok := r.describers[name]; ok {
		delete(r.describers, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
}

// Detectors returns the registered detector names, sorted.
func (r *Registry) Detectors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.detectors))
	for n := range r.detectors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsExtensionItem reports whether any detector claims it.
func (r *Registry) IsExtensionItem(it Item) bool {
	if it.Empty() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, fn := range r.detectors {
		if fn(it) {
			return true
		}
	}
	return false
}

// Describe returns the first describer's answer, or the item's own summary.
func (r *Registry) Describe(it Item) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.order {
		if desc, ok := r.describers[n](it); ok && desc != "" {
			return desc
		}
	}
	return it.String()
}

// DetectOptions configures the built-in detectors. It is read on every call.
type DetectOptions struct {
	// KnownNamespaces are key namespaces the platform understands. Keys in any other
	// namespace mark an extension item.
	KnownNamespaces []string
	// LoreMarkers are regular expressions; a lore line matching any marks an extension item.
	LoreMarkers []string
	// ModelDataIsExtension treats any custom render model marker as an extension item.
	ModelDataIsExtension bool
}

// Built-in detector names.
const (
	DetectNamespacedKeys = "namespaced-keys"
	DetectLoreMarkers    = "lore-markers"
	DetectModelData      = "model-data"
)

// RegisterBuiltins installs the namespaced-key, lore-marker and model-data detectors and a
// describer that prefers the display name. opts is consulted on every detection.
func RegisterBuiltins(r *Registry, opts func() DetectOptions) {
	markers := &markerCache{}
	r.RegisterDetector(DetectNamespacedKeys, func(it Item) bool {
		known := opts().KnownNamespaces
		for _, ns := range it.Namespaces() {
			if ns == "" {
				continue
			}
			if !containsFold(known, ns) && ns != "simplemounts" {
				return true
			}
		}
		return false
	})
	r.RegisterDetector(DetectLoreMarkers, func(it Item) bool {
		res := markers.compiled(opts().LoreMarkers)
		for _, line := range it.Lore {
			for _, re := range res {
				if re.MatchString(line) {
					return true
				}
			}
		}
		return false
	})
	r.RegisterDetector(DetectModelData, func(it Item) bool {
		return it.ModelData != nil && opts().ModelDataIsExtension
	})
	r.RegisterDescriber("display-name", func(it Item) (string, bool) {
		if it.DisplayName == "" {
			return "", false
		}
		return it.String(), true
	})
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}

// markerCache recompiles lore markers only when the configured list changes.
type markerCache struct {
	mu  sync.Mutex
	key string
	res []*regexp.Regexp
}

func (c *markerCache) compiled(patterns []string) []*regexp.Regexp {
	key := strings.Join(patterns, "\x00")
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == c.key && c.res != nil {
		return c.res
	}
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		res = append(res, re)
	}
	c.key = key
	c.res = res
	return res
}
