package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/depictio/depictio/common"
)

// Wildcard is a named sub-pattern substituted into a scan regex.
type Wildcard struct {
	Name          string `json:"name" yaml:"name"`
	WildcardRegex string `json:"wildcard_regex" yaml:"wildcard_regex"`
}

// Regex is a filename pattern with optional named wildcards. Placeholders of
// the form {name} are substituted with the wildcard's regex (wrapped in a
// capture group) before compilation.
type Regex struct {
	Pattern   string     `json:"pattern" yaml:"pattern"`
	Wildcards []Wildcard `json:"wildcards,omitempty" yaml:"wildcards,omitempty"`
}

// FullPattern constructs the effective regex by substituting each wildcard
// placeholder. Duplicate wildcard names are a configuration error.
func (r Regex) FullPattern() (string, error) {
	pattern := r.Pattern
	if len(r.Wildcards) == 0 {
		return pattern, nil
	}

	seen := make(map[string]bool, len(r.Wildcards))
	for _, wc := range r.Wildcards {
		if seen[wc.Name] {
			return "", common.Errorf(common.ErrConfigInvalid, r.Pattern,
				"duplicate wildcard name %q in regex configuration", wc.Name)
		}
		seen[wc.Name] = true
	}

	for _, wc := range r.Wildcards {
		placeholder := fmt.Sprintf("{%s}", wc.Name)
		pattern = strings.ReplaceAll(pattern, placeholder, "("+wc.WildcardRegex+")")
	}
	return pattern, nil
}

// Compile builds the matcher for the effective pattern. Matching is anchored
// at the start of the basename; path separators in the pattern are normalized
// to forward slashes first.
func (r Regex) Compile() (*regexp.Regexp, error) {
	pattern, err := r.FullPattern()
	if err != nil {
		return nil, err
	}
	pattern = strings.ReplaceAll(pattern, `\\`, "/")
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, common.Errorf(common.ErrConfigInvalid, r.Pattern,
			"regex does not compile: %v", err)
	}
	return re, nil
}
