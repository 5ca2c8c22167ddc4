package query

import (
	"context"
	"strings"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/dataframe"
	"github.com/depictio/depictio/links"
	"github.com/depictio/depictio/models"
)

// JoinedDCSeparator joins the two DC ids of a materialized join result into
// a composite target id ("dc1--dc2").
const JoinedDCSeparator = "--"

// ComponentMetadata identifies what a filter component filters.
type ComponentMetadata struct {
	DCID                     models.ID `json:"dc_id"`
	ColumnName               string    `json:"column_name"`
	InteractiveComponentType string    `json:"interactive_component_type"`
	ColumnType               string    `json:"column_type"`
}

// FilterComponent is one active dashboard filter.
type FilterComponent struct {
	Index    string            `json:"index"`
	Value    interface{}       `json:"value"`
	Metadata ComponentMetadata `json:"metadata"`
}

// SortEntry is one sort-model entry.
type SortEntry struct {
	ColID string `json:"colId"`
	Sort  string `json:"sort"` // "asc" or "desc"
}

// Request is an interactive query against one target data collection.
type Request struct {
	StartRow         int                        `json:"startRow"`
	EndRow           int                        `json:"endRow"`
	FilterModel      map[string]FilterCondition `json:"filterModel,omitempty"`
	SortModel        []SortEntry                `json:"sortModel,omitempty"`
	FilterComponents []FilterComponent          `json:"filterComponents,omitempty"`
}

// Response is the paginated projection returned to the client.
type Response struct {
	RowData        []map[string]interface{} `json:"rowData"`
	RowCount       int                      `json:"rowCount"`
	DroppedFilters bool                     `json:"droppedFilters,omitempty"`
}

// TableReader is the Delta-table contract the pipeline needs.
type TableReader interface {
	ReadTable(ctx context.Context, dcID models.ID) (*dataframe.Frame, error)
	TableExists(ctx context.Context, dcID models.ID) (bool, error)
}

// Pipeline serves interactive queries. It holds no cross-request state.
type Pipeline struct {
	tables TableReader
	links  *links.Engine
	log    *common.ContextLogger
}

// NewPipeline builds a query pipeline. The link engine may be nil to disable
// cross-DC link resolution.
func NewPipeline(tables TableReader, linkEngine *links.Engine) *Pipeline {
	return &Pipeline{
		tables: tables,
		links:  linkEngine,
		log:    common.NewContextLogger(nil, map[string]interface{}{"component": "query-pipeline"}),
	}
}

// joinEdge is one usable edge of the project's join graph, with DC
// references resolved to ids.
type joinEdge struct {
	a, b      models.ID
	onColumns []string
	resultID  models.ID
}

// joinGraph resolves the project's join definitions into id-keyed edges.
// Unresolvable definitions are skipped with a warning.
func (p *Pipeline) joinGraph(project *models.Project) []joinEdge {
	var edges []joinEdge
	for i := range project.Joins {
		j := &project.Joins[i]
		left, _, errL := project.ResolveDC(j.LeftDC, j.WorkflowName)
		right, _, errR := project.ResolveDC(j.RightDC, j.WorkflowName)
		if errL != nil || errR != nil {
			p.log.Warnf("join %q references unresolvable data collections, skipping", j.Name)
			continue
		}
		edges = append(edges, joinEdge{
			a:         left.ID,
			b:         right.ID,
			onColumns: j.OnColumns,
			resultID:  j.ResultDCID,
		})
	}
	return edges
}

// Query runs the full pipeline for one target data collection.
func (p *Pipeline) Query(ctx context.Context, project *models.Project, targetDC string, req Request) (*Response, error) {
	// Target DC id set: single id, or both sides for a joined result whose
	// composite id has the form "dc1--dc2".
	targetIDs := make(map[models.ID]bool)
	for _, part := range strings.Split(targetDC, JoinedDCSeparator) {
		if part != "" {
			targetIDs[models.ID(part)] = true
		}
	}
	isJoinedTarget := strings.Contains(targetDC, JoinedDCSeparator)

	// Active filter components and the DC ids they reference.
	activeFilters := make([]FilterComponent, 0, len(req.FilterComponents))
	filterIDs := make(map[models.ID]bool)
	for _, fc := range req.FilterComponents {
		if fc.Value == nil || fc.Metadata.DCID.IsZero() {
			continue
		}
		activeFilters = append(activeFilters, fc)
		filterIDs[fc.Metadata.DCID] = true
	}

	edges := p.joinGraph(project)

	// Compatibility analysis.
	direct := len(filterIDs) == 0 || isSubset(filterIDs, targetIDs) || isSubset(targetIDs, filterIDs)
	joinBased := false
	if !direct {
		for _, edge := range edges {
			edgeSet := map[models.ID]bool{edge.a: true, edge.b: true}
			if intersects(targetIDs, edgeSet) && intersects(filterIDs, edgeSet) {
				joinBased = true
				break
			}
		}
	}

	var (
		frame          *dataframe.Frame
		err            error
		droppedFilters bool
	)

	switch {
	case direct:
		frame, err = p.loadDirect(ctx, project, targetDC, targetIDs, isJoinedTarget, activeFilters, edges)
	case joinBased && !isJoinedTarget && len(targetIDs) == 1:
		frame, err = p.semiJoin(ctx, project, firstID(targetIDs), activeFilters, edges)
	case joinBased:
		frame, err = p.iterativeJoin(ctx, targetIDs, activeFilters, edges)
	default:
		// Incompatible: interactive filters are dropped for this table.
		p.log.Warnf("interactive filters target unrelated data collections, loading %s unfiltered", targetDC)
		droppedFilters = true
		frame, err = p.loadTarget(ctx, project, targetDC, targetIDs, isJoinedTarget, edges)
	}
	if err != nil {
		return nil, err
	}

	// Server-side filter model, then sorting, then pagination.
	frame = ApplyFilterModel(frame, req.FilterModel)

	if len(req.SortModel) > 0 {
		keys := make([]dataframe.SortKey, 0, len(req.SortModel))
		for _, entry := range req.SortModel {
			if !frame.HasColumn(entry.ColID) {
				p.log.Warnf("sort references unknown column %q, skipping", entry.ColID)
				continue
			}
			keys = append(keys, dataframe.SortKey{
				Column:     entry.ColID,
				Descending: entry.Sort == "desc",
			})
		}
		if len(keys) > 0 {
			if frame, err = frame.Sort(keys...); err != nil {
				return nil, err
			}
		}
	}

	total := frame.Height()
	page := frame.Slice(req.StartRow, req.EndRow)

	// Columns containing dots are rewritten for presentation compatibility.
	renames := make(map[string]string)
	for _, name := range page.Columns() {
		if strings.Contains(name, ".") {
			renames[name] = strings.ReplaceAll(name, ".", "_")
		}
	}
	if len(renames) > 0 {
		page = page.Rename(renames)
	}

	// Monotonic ID column reflecting the absolute offset.
	ids := make([]int64, page.Height())
	for i := range ids {
		ids[i] = int64(req.StartRow + i)
	}
	if page, err = page.WithColumn(dataframe.NewIntSeries("ID", ids)); err != nil {
		return nil, err
	}

	return &Response{
		RowData:        page.Rows(),
		RowCount:       total,
		DroppedFilters: droppedFilters,
	}, nil
}

// loadDirect loads the target and applies the filters that address its own
// DCs.
func (p *Pipeline) loadDirect(ctx context.Context, project *models.Project, targetDC string, targetIDs map[models.ID]bool, isJoinedTarget bool, filters []FilterComponent, edges []joinEdge) (*dataframe.Frame, error) {
	frame, err := p.loadTarget(ctx, project, targetDC, targetIDs, isJoinedTarget, edges)
	if err != nil {
		return nil, err
	}
	for _, fc := range filters {
		if !targetIDs[fc.Metadata.DCID] && !isJoinedTarget {
			continue
		}
		frame = applyInteractiveFilter(frame, fc)
	}
	return frame, nil
}

// loadTarget loads the target table: the DC's own Delta table, or the
// materialized join result for composite targets. A missing target table is
// fatal.
func (p *Pipeline) loadTarget(ctx context.Context, project *models.Project, targetDC string, targetIDs map[models.ID]bool, isJoinedTarget bool, edges []joinEdge) (*dataframe.Frame, error) {
	if !isJoinedTarget {
		return p.readFatal(ctx, firstID(targetIDs))
	}

	// Composite target: prefer the persisted join result.
	for _, edge := range edges {
		if targetIDs[edge.a] && targetIDs[edge.b] && !edge.resultID.IsZero() {
			if exists, err := p.tables.TableExists(ctx, edge.resultID); err == nil && exists {
				return p.readFatal(ctx, edge.resultID)
			}
		}
	}
	// No materialized result: join the parts on the fly.
	return p.iterativeJoin(ctx, targetIDs, nil, edges)
}

// readFatal loads a table, mapping a missing table to io-error per the
// failure semantics for target tables.
func (p *Pipeline) readFatal(ctx context.Context, dcID models.ID) (*dataframe.Frame, error) {
	frame, err := p.tables.ReadTable(ctx, dcID)
	if err != nil {
		if common.IsKind(err, common.ErrNotFound) {
			return nil, common.Errorf(common.ErrIO, dcID.String(), "target table is not materialized")
		}
		return nil, err
	}
	return frame, nil
}

// semiJoin filters a single-DC target through the join graph without
// expanding its rows: the filter side is loaded with its filters applied,
// the distinct shared-key values extracted, and the target filtered by
// membership. Cartesian expansion is deliberately avoided.
func (p *Pipeline) semiJoin(ctx context.Context, project *models.Project, targetID models.ID, filters []FilterComponent, edges []joinEdge) (*dataframe.Frame, error) {
	target, err := p.readFatal(ctx, targetID)
	if err != nil {
		return nil, err
	}

	for _, fc := range filters {
		filterDC := fc.Metadata.DCID
		if filterDC == targetID {
			target = applyInteractiveFilter(target, fc)
			continue
		}

		// Link resolution pre-step: a link from the filter DC to the target
		// replaces the filter's values and names the target column.
		if p.links != nil {
			values := valueStrings(fc.Value)
			resolution, err := p.links.Resolve(ctx, project, models.LinkResolutionRequest{
				SourceDCID:   filterDC,
				SourceColumn: fc.Metadata.ColumnName,
				FilterValues: values,
				TargetDCID:   targetID,
			})
			if err == nil && resolution.LinkID != "" {
				targetField := fc.Metadata.ColumnName
				if link := project.FindLink(filterDC, fc.Metadata.ColumnName, targetID); link != nil && link.LinkConfig.TargetField != "" {
					targetField = link.LinkConfig.TargetField
				}
				target = filterByMembership(target, targetField, resolution.ResolvedValues)
				continue
			}
		}

		// Join-graph semi-join on the shared key column.
		edge := findEdge(edges, targetID, filterDC)
		if edge == nil {
			p.log.Warnf("no join connects %s and %s, dropping filter", targetID, filterDC)
			continue
		}

		filterFrame, err := p.tables.ReadTable(ctx, filterDC)
		if err != nil {
			// A missing filter-side table downgrades to no additional
			// filter.
			p.log.Warnf("filter-side table %s unavailable, dropping filter: %v", filterDC, err)
			continue
		}
		filterFrame = applyInteractiveFilter(filterFrame, fc)

		joinColumn := edge.onColumns[0]
		keyValues, err := filterFrame.UniqueValues(joinColumn)
		if err != nil {
			p.log.Warnf("join column %q missing in filter DC %s: %v", joinColumn, filterDC, err)
			continue
		}
		keys := make([]string, len(keyValues))
		for i, v := range keyValues {
			keys[i] = dataframe.FormatValue(v)
		}

		before := target.Height()
		target = filterByMembership(target, joinColumn, keys)
		p.log.Infof("Semi-join filtered target from %d to %d rows", before, target.Height())
	}
	return target, nil
}

// iterativeJoin composes every DC implied by the target and the filters by
// walking the join graph, applying each DC's filters as its table loads.
// Visited-edge tracking makes cyclic graphs safe.
func (p *Pipeline) iterativeJoin(ctx context.Context, targetIDs map[models.ID]bool, filters []FilterComponent, edges []joinEdge) (*dataframe.Frame, error) {
	needed := make(map[models.ID]bool, len(targetIDs))
	for id := range targetIDs {
		needed[id] = true
	}
	for _, fc := range filters {
		needed[fc.Metadata.DCID] = true
	}

	filtersByDC := make(map[models.ID][]FilterComponent)
	for _, fc := range filters {
		filtersByDC[fc.Metadata.DCID] = append(filtersByDC[fc.Metadata.DCID], fc)
	}

	load := func(id models.ID) (*dataframe.Frame, error) {
		frame, err := p.readFatal(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, fc := range filtersByDC[id] {
			frame = applyInteractiveFilter(frame, fc)
		}
		return frame, nil
	}

	// Seed with a target DC so the result's row identity follows the
	// target.
	start := firstID(targetIDs)
	result, err := load(start)
	if err != nil {
		return nil, err
	}
	composed := map[models.ID]bool{start: true}
	visited := make(map[int]bool, len(edges))

	for {
		progressed := false
		for i, edge := range edges {
			if visited[i] {
				continue
			}
			var next models.ID
			switch {
			case composed[edge.a] && !composed[edge.b] && needed[edge.b]:
				next = edge.b
			case composed[edge.b] && !composed[edge.a] && needed[edge.a]:
				next = edge.a
			default:
				continue
			}
			visited[i] = true

			other, err := load(next)
			if err != nil {
				return nil, err
			}
			left, right, err := dataframe.NormalizeJoinTypes(result, other, edge.onColumns)
			if err != nil {
				return nil, common.WrapError(common.ErrTypeError, next.String(), err)
			}
			if result, err = dataframe.Join(left, right, edge.onColumns, dataframe.JoinInner); err != nil {
				return nil, common.WrapError(common.ErrTypeError, next.String(), err)
			}
			composed[next] = true
			progressed = true
		}
		if !progressed {
			break
		}
	}

	for id := range needed {
		if !composed[id] {
			p.log.Warnf("no join path reaches data collection %s; its filters are dropped", id)
		}
	}
	return result, nil
}

// applyInteractiveFilter narrows a frame by one filter component. List
// values filter by membership; two-element numeric lists from sliders filter
// by range; scalars filter by equality.
func applyInteractiveFilter(f *dataframe.Frame, fc FilterComponent) *dataframe.Frame {
	column := fc.Metadata.ColumnName
	if !f.HasColumn(column) {
		common.Logger.Warnf("interactive filter references unknown column %q, skipping", column)
		return f
	}
	col, _ := f.Column(column)

	if list, ok := fc.Value.([]interface{}); ok {
		isRange := fc.Metadata.InteractiveComponentType == "range_slider" ||
			(len(list) == 2 && isNumericPair(list) && fc.Metadata.ColumnType != "object")
		if isRange && len(list) == 2 {
			lo, _ := dataframe.AsFloat(list[0])
			hi, _ := dataframe.AsFloat(list[1])
			return f.Filter(func(row int) bool {
				v, ok := dataframe.AsFloat(col.Values[row])
				return ok && v >= lo && v <= hi
			})
		}
		keys := make([]string, len(list))
		for i, v := range list {
			keys[i] = dataframe.FormatValue(v)
		}
		return filterByMembership(f, column, keys)
	}

	operand := dataframe.FormatValue(fc.Value)
	return f.Filter(func(row int) bool {
		if col.Values[row] == nil {
			return false
		}
		return dataframe.FormatValue(col.Values[row]) == operand
	})
}

// filterByMembership keeps rows whose column value is in the key set.
func filterByMembership(f *dataframe.Frame, column string, keys []string) *dataframe.Frame {
	if !f.HasColumn(column) {
		common.Logger.Warnf("membership filter references unknown column %q, skipping", column)
		return f
	}
	allowed := make(map[string]bool, len(keys))
	for _, key := range keys {
		allowed[key] = true
	}
	col, _ := f.Column(column)
	return f.Filter(func(row int) bool {
		if col.Values[row] == nil {
			return false
		}
		return allowed[dataframe.FormatValue(col.Values[row])]
	})
}

func valueStrings(value interface{}) []string {
	if list, ok := value.([]interface{}); ok {
		out := make([]string, len(list))
		for i, v := range list {
			out[i] = dataframe.FormatValue(v)
		}
		return out
	}
	return []string{dataframe.FormatValue(value)}
}

func isNumericPair(list []interface{}) bool {
	for _, v := range list {
		if _, ok := dataframe.AsFloat(v); !ok {
			return false
		}
	}
	return true
}

func findEdge(edges []joinEdge, a, b models.ID) *joinEdge {
	for i := range edges {
		if (edges[i].a == a && edges[i].b == b) || (edges[i].a == b && edges[i].b == a) {
			return &edges[i]
		}
	}
	return nil
}

func isSubset(sub, super map[models.ID]bool) bool {
	for id := range sub {
		if !super[id] {
			return false
		}
	}
	return true
}

func intersects(a, b map[models.ID]bool) bool {
	for id := range a {
		if b[id] {
			return true
		}
	}
	return false
}

func firstID(set map[models.ID]bool) models.ID {
	for id := range set {
		return id
	}
	return ""
}
