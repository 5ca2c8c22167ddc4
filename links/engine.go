package links

import (
	"context"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/dataframe"
	"github.com/depictio/depictio/models"
)

// TableReader loads the materialized table of a data collection. The query
// pipeline's Delta store satisfies this.
type TableReader interface {
	ReadTable(ctx context.Context, dcID models.ID) (*dataframe.Frame, error)
}

// Engine resolves cross-DC links using the resolver registry. Matching
// resolvers (regex, wildcard) consult the target DC's table for its known
// values; the other strategies never touch storage.
type Engine struct {
	registry *Registry
	tables   TableReader
	log      *common.ContextLogger
}

// NewEngine builds a link engine. tables may be nil when no matching
// resolver is in use (resolution then falls back to source pass-through).
func NewEngine(registry *Registry, tables TableReader) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{
		registry: registry,
		tables:   tables,
		log:      common.NewContextLogger(nil, map[string]interface{}{"component": "link-engine"}),
	}
}

// Resolve finds the enabled link matching the request and applies its
// resolver. When no link matches (or the matching link is disabled), the
// response carries no values and callers treat the filter as having no
// cross-DC effect.
func (e *Engine) Resolve(ctx context.Context, project *models.Project, req models.LinkResolutionRequest) (*models.LinkResolutionResponse, error) {
	link := project.FindLink(req.SourceDCID, req.SourceColumn, req.TargetDCID)
	if link == nil {
		e.log.Debugf("no enabled link from %s.%s to %s", req.SourceDCID, req.SourceColumn, req.TargetDCID)
		return &models.LinkResolutionResponse{
			ResolvedValues: []string{},
			SourceCount:    len(req.FilterValues),
			UnmappedValues: []string{},
		}, nil
	}

	resolver, err := e.registry.Get(string(link.LinkConfig.Resolver))
	if err != nil {
		return nil, common.WrapError(common.ErrConfigInvalid, link.ID.String(), err)
	}

	targetKnown := e.targetKnownValues(ctx, link)
	resolved, unmapped := resolver.Resolve(req.FilterValues, link.LinkConfig, targetKnown)
	if resolved == nil {
		resolved = []string{}
	}
	if unmapped == nil {
		unmapped = []string{}
	}

	e.log.WithFields(map[string]interface{}{
		"link_id":  link.ID.String(),
		"resolver": resolver.Name(),
		"resolved": len(resolved),
		"unmapped": len(unmapped),
	}).Info("Resolved link values")

	return &models.LinkResolutionResponse{
		ResolvedValues: resolved,
		LinkID:         link.ID.String(),
		ResolverUsed:   resolver.Name(),
		MatchCount:     len(resolved),
		TargetType:     string(link.TargetType),
		SourceCount:    len(req.FilterValues),
		UnmappedValues: unmapped,
	}, nil
}

// targetKnownValues loads the distinct values of the link's target field.
// Failures downgrade to nil: resolvers then fall back to pass-through and
// report unmapped values instead of aborting the request.
func (e *Engine) targetKnownValues(ctx context.Context, link *models.DCLink) []string {
	needsTargets := link.LinkConfig.Resolver == models.ResolverRegex ||
		link.LinkConfig.Resolver == models.ResolverWildcard
	if !needsTargets || e.tables == nil || link.LinkConfig.TargetField == "" {
		return nil
	}

	frame, err := e.tables.ReadTable(ctx, link.TargetDCID)
	if err != nil {
		e.log.Warnf("failed to load target DC %s for link %s: %v", link.TargetDCID, link.ID, err)
		return nil
	}
	values, err := frame.UniqueValues(link.LinkConfig.TargetField)
	if err != nil {
		e.log.Warnf("target field %q missing in DC %s: %v", link.LinkConfig.TargetField, link.TargetDCID, err)
		return nil
	}

	out := make([]string, len(values))
	for i, v := range values {
		out[i] = dataframe.FormatValue(v)
	}
	return out
}
