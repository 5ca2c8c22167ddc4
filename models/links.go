package models

import (
	"strings"

	"github.com/depictio/depictio/common"
)

// ResolverKind names a value-resolution strategy for DC links.
type ResolverKind string

const (
	ResolverDirect        ResolverKind = "direct"
	ResolverSampleMapping ResolverKind = "sample_mapping"
	ResolverPattern       ResolverKind = "pattern"
	ResolverRegex         ResolverKind = "regex"
	ResolverWildcard      ResolverKind = "wildcard"
)

// LinkConfig configures how source filter values are resolved into target DC
// identifiers. Exactly the keys relevant to the chosen resolver may be set;
// unknown keys are rejected at decode time (yaml.v3 KnownFields / strict
// JSON decoding at the API boundary).
type LinkConfig struct {
	Resolver ResolverKind `json:"resolver" yaml:"resolver"`

	// Mappings expands canonical values into variants; sample_mapping only.
	Mappings map[string][]string `json:"mappings,omitempty" yaml:"mappings,omitempty"`

	// Pattern is the substitution template; pattern resolver only. Must
	// contain the {sample} placeholder.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// TargetField is the column in the target DC to match resolved values
	// against.
	TargetField string `json:"target_field,omitempty" yaml:"target_field,omitempty"`

	CaseSensitive bool `json:"case_sensitive" yaml:"case_sensitive"`
}

// Validate checks resolver-specific invariants.
func (lc LinkConfig) Validate() error {
	switch lc.Resolver {
	case ResolverDirect, ResolverSampleMapping, ResolverRegex, ResolverWildcard:
	case ResolverPattern:
		if !strings.Contains(lc.Pattern, "{sample}") {
			return common.NewError(common.ErrConfigInvalid,
				"pattern must contain {sample} placeholder", string(lc.Resolver))
		}
	default:
		return common.Errorf(common.ErrConfigInvalid, "", "unknown resolver %q", lc.Resolver)
	}
	return nil
}

// DCLink is a directional value mapping from a source DC column to a target
// DC, used to propagate filters across collections without materializing a
// join.
type DCLink struct {
	ID           ID         `json:"_id" yaml:"id,omitempty"`
	SourceDCID   ID         `json:"source_dc_id" yaml:"source_dc_id"`
	SourceColumn string     `json:"source_column" yaml:"source_column"`
	TargetDCID   ID         `json:"target_dc_id" yaml:"target_dc_id"`
	TargetType   DCType     `json:"target_type" yaml:"target_type"`
	LinkConfig   LinkConfig `json:"link_config" yaml:"link_config"`
	Description  string     `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled      bool       `json:"enabled" yaml:"enabled"`
}

// Validate checks the link's field invariants.
func (l DCLink) Validate() error {
	if l.SourceDCID.IsZero() {
		return common.NewError(common.ErrConfigInvalid, "source_dc_id cannot be empty", l.ID.String())
	}
	if l.TargetDCID.IsZero() {
		return common.NewError(common.ErrConfigInvalid, "target_dc_id cannot be empty", l.ID.String())
	}
	if strings.TrimSpace(l.SourceColumn) == "" {
		return common.NewError(common.ErrConfigInvalid, "source_column cannot be empty", l.ID.String())
	}
	return l.LinkConfig.Validate()
}

// LinkResolutionRequest asks the link engine to translate filter values from
// a source DC column into target DC identifiers.
type LinkResolutionRequest struct {
	SourceDCID   ID       `json:"source_dc_id"`
	SourceColumn string   `json:"source_column"`
	FilterValues []string `json:"filter_values"`
	TargetDCID   ID       `json:"target_dc_id"`
}

// LinkResolutionResponse carries the resolved values plus resolution
// metadata. An empty ResolvedValues with an empty LinkID means no enabled
// link matched; callers treat that as "no cross-DC effect".
type LinkResolutionResponse struct {
	ResolvedValues []string `json:"resolved_values"`
	LinkID         string   `json:"link_id"`
	ResolverUsed   string   `json:"resolver_used"`
	MatchCount     int      `json:"match_count"`
	TargetType     string   `json:"target_type"`
	SourceCount    int      `json:"source_count"`
	UnmappedValues []string `json:"unmapped_values"`
}
