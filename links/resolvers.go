// Package links implements the pluggable resolver registry and the link
// resolution engine that maps source-column filter values onto target data
// collection identifiers. Resolvers are stateless and safe for concurrent
// use; custom strategies can be registered by name.
package links

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/models"
)

// Resolver maps source filter values to target identifiers under a link's
// configuration. targetKnownValues carries the distinct values present in
// the target DC; only the matching resolvers (regex, wildcard) consult it.
// Implementations must not mutate their inputs.
type Resolver interface {
	Name() string
	Resolve(sourceValues []string, cfg models.LinkConfig, targetKnownValues []string) (resolved, unmapped []string)
}

// DirectResolver passes values through unchanged. Use when source and target
// DCs share identifiers.
type DirectResolver struct{}

func (DirectResolver) Name() string { return string(models.ResolverDirect) }

func (DirectResolver) Resolve(sourceValues []string, _ models.LinkConfig, _ []string) ([]string, []string) {
	resolved := make([]string, len(sourceValues))
	copy(resolved, sourceValues)
	return resolved, nil
}

// SampleMappingResolver expands canonical ids into their variants via the
// configured mappings (e.g. paired-end suffixes in MultiQC sample names).
// Unmatched canonicals are forwarded as-is and reported as unmapped.
type SampleMappingResolver struct{}

func (SampleMappingResolver) Name() string { return string(models.ResolverSampleMapping) }

func (SampleMappingResolver) Resolve(sourceValues []string, cfg models.LinkConfig, _ []string) ([]string, []string) {
	resolved := make([]string, 0, len(sourceValues))
	var unmapped []string

	for _, val := range sourceValues {
		variants, found := lookupMapping(cfg, val)
		if found {
			resolved = append(resolved, variants...)
			continue
		}
		resolved = append(resolved, val)
		unmapped = append(unmapped, val)
	}

	common.Logger.Debugf("sample_mapping: resolved %d source values to %d target values (%d unmapped)",
		len(sourceValues), len(resolved), len(unmapped))
	return resolved, unmapped
}

func lookupMapping(cfg models.LinkConfig, val string) ([]string, bool) {
	if cfg.CaseSensitive {
		variants, ok := cfg.Mappings[val]
		return variants, ok
	}
	lower := strings.ToLower(val)
	for key, variants := range cfg.Mappings {
		if strings.ToLower(key) == lower {
			return variants, true
		}
	}
	return nil, false
}

// PatternResolver substitutes each value into the configured {sample}
// template (e.g. "{sample}.bam" → "S1.bam").
type PatternResolver struct{}

func (PatternResolver) Name() string { return string(models.ResolverPattern) }

func (PatternResolver) Resolve(sourceValues []string, cfg models.LinkConfig, _ []string) ([]string, []string) {
	if cfg.Pattern == "" {
		// Enforced at config time; fall back to direct if it slips through.
		common.Logger.Warn("pattern resolver has no pattern configured, falling back to direct")
		resolved := make([]string, len(sourceValues))
		copy(resolved, sourceValues)
		return resolved, nil
	}

	resolved := make([]string, len(sourceValues))
	for i, val := range sourceValues {
		resolved[i] = strings.ReplaceAll(cfg.Pattern, "{sample}", val)
	}
	return resolved, nil
}

// RegexResolver matches target-known values against a prefix pattern built
// from each source value. Matches are deduplicated preserving first-seen
// order; values with no matches are reported unmapped.
type RegexResolver struct{}

func (RegexResolver) Name() string { return string(models.ResolverRegex) }

func (RegexResolver) Resolve(sourceValues []string, cfg models.LinkConfig, targetKnownValues []string) ([]string, []string) {
	if len(targetKnownValues) == 0 {
		common.Logger.Warn("regex resolver has no target values, returning source as-is")
		resolved := make([]string, len(sourceValues))
		copy(resolved, sourceValues)
		return resolved, nil
	}

	var resolved, unmapped []string
	seen := make(map[string]bool)

	for _, val := range sourceValues {
		pattern := "^" + regexp.QuoteMeta(val) + ".*$"
		if !cfg.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			common.Logger.Warnf("regex resolver: invalid pattern for %q: %v", val, err)
			unmapped = append(unmapped, val)
			continue
		}

		matchedAny := false
		for _, target := range targetKnownValues {
			if re.MatchString(target) {
				matchedAny = true
				if !seen[target] {
					seen[target] = true
					resolved = append(resolved, target)
				}
			}
		}
		if !matchedAny {
			unmapped = append(unmapped, val)
		}
	}
	return resolved, unmapped
}

// WildcardResolver matches target-known values with a glob pattern "{v}*",
// a simpler alternative to regex prefix matching.
type WildcardResolver struct{}

func (WildcardResolver) Name() string { return string(models.ResolverWildcard) }

func (WildcardResolver) Resolve(sourceValues []string, cfg models.LinkConfig, targetKnownValues []string) ([]string, []string) {
	if len(targetKnownValues) == 0 {
		common.Logger.Warn("wildcard resolver has no target values, returning source as-is")
		resolved := make([]string, len(sourceValues))
		copy(resolved, sourceValues)
		return resolved, nil
	}

	var resolved, unmapped []string
	seen := make(map[string]bool)

	for _, val := range sourceValues {
		pattern := val + "*"
		candidate := func(target string) (string, string) { return pattern, target }
		if !cfg.CaseSensitive {
			candidate = func(target string) (string, string) {
				return strings.ToLower(pattern), strings.ToLower(target)
			}
		}

		matchedAny := false
		for _, target := range targetKnownValues {
			p, t := candidate(target)
			ok, err := path.Match(p, t)
			if err != nil {
				break
			}
			if ok {
				matchedAny = true
				if !seen[target] {
					seen[target] = true
					resolved = append(resolved, target)
				}
			}
		}
		if !matchedAny {
			unmapped = append(unmapped, val)
		}
	}
	return resolved, unmapped
}

// Registry holds named resolvers. The zero registry is not usable; call
// NewRegistry for one pre-populated with the built-in strategies.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry returns a registry with the five built-in resolvers.
func NewRegistry() *Registry {
	r := &Registry{resolvers: make(map[string]Resolver)}
	for _, resolver := range []Resolver{
		DirectResolver{},
		SampleMappingResolver{},
		PatternResolver{},
		RegexResolver{},
		WildcardResolver{},
	} {
		r.resolvers[resolver.Name()] = resolver
	}
	return r
}

// Register adds (or replaces) a resolver under its name.
func (r *Registry) Register(resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[resolver.Name()] = resolver
}

// Get returns the resolver registered under name.
func (r *Registry) Get(name string) (Resolver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolver, ok := r.resolvers[name]
	if !ok {
		return nil, fmt.Errorf("unknown resolver type %q, valid types: %s",
			name, strings.Join(r.Names(), ", "))
	}
	return resolver, nil
}

// Names lists the registered resolver names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.resolvers))
	for name := range r.resolvers {
		names = append(names, name)
	}
	return names
}
