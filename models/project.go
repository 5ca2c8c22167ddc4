package models

import (
	"strings"

	"github.com/depictio/depictio/common"
)

// ProjectType distinguishes flat (basic) projects from workflow-structured
// (advanced) ones.
type ProjectType string

const (
	ProjectBasic    ProjectType = "basic"
	ProjectAdvanced ProjectType = "advanced"
)

// Permissions lists user ids by role. Users are managed by an external
// identity service; only ids are stored here.
type Permissions struct {
	Owners  []string `json:"owners" yaml:"owners"`
	Editors []string `json:"editors,omitempty" yaml:"editors,omitempty"`
	Viewers []string `json:"viewers,omitempty" yaml:"viewers,omitempty"`
}

// Project is the top-level container grouping workflows (advanced) or a flat
// list of data collections (basic), plus join definitions and DC links.
type Project struct {
	ID          ID          `json:"_id" yaml:"id,omitempty"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	ProjectType ProjectType `json:"project_type" yaml:"project_type"`
	Public      bool        `json:"public" yaml:"public"`
	Permissions Permissions `json:"permissions" yaml:"permissions"`

	Workflows       []Workflow       `json:"workflows,omitempty" yaml:"workflows,omitempty"`
	DataCollections []DataCollection `json:"data_collections,omitempty" yaml:"data_collections,omitempty"`

	Joins []JoinDefinition `json:"joins,omitempty" yaml:"joins,omitempty"`
	Links []DCLink         `json:"links,omitempty" yaml:"links,omitempty"`
}

// FindWorkflow returns the workflow with the given name, or nil.
func (p *Project) FindWorkflow(name string) *Workflow {
	for i := range p.Workflows {
		if p.Workflows[i].Name == name || p.Workflows[i].Tag() == name {
			return &p.Workflows[i]
		}
	}
	return nil
}

// ResolveDC resolves a data collection reference. Bare tags search the named
// workflow (when workflowName is non-empty) or the project-level collections;
// dotted "workflow.tag" references search exactly that workflow. The second
// return value names the owning workflow ("" for project-level DCs).
func (p *Project) ResolveDC(ref, workflowName string) (*DataCollection, string, error) {
	if dotted := strings.SplitN(ref, ".", 2); len(dotted) == 2 && dotted[0] != "" {
		wf := p.FindWorkflow(dotted[0])
		if wf != nil {
			if dc := wf.FindDC(dotted[1]); dc != nil {
				return dc, wf.Name, nil
			}
		}
		return nil, "", common.Errorf(common.ErrDCNotFound, p.ID.String(),
			"data collection %q not found", ref)
	}

	if workflowName != "" {
		if wf := p.FindWorkflow(workflowName); wf != nil {
			if dc := wf.FindDC(ref); dc != nil {
				return dc, wf.Name, nil
			}
		}
		return nil, "", common.Errorf(common.ErrDCNotFound, p.ID.String(),
			"data collection %q not found in workflow %q", ref, workflowName)
	}

	for i := range p.DataCollections {
		if p.DataCollections[i].Tag == ref {
			return &p.DataCollections[i], "", nil
		}
	}
	// Fall back to searching every workflow so bare tags resolve when
	// unambiguous across the project.
	for i := range p.Workflows {
		if dc := p.Workflows[i].FindDC(ref); dc != nil {
			return dc, p.Workflows[i].Name, nil
		}
	}
	return nil, "", common.Errorf(common.ErrDCNotFound, p.ID.String(),
		"data collection %q not found", ref)
}

// FindDCByID returns the data collection with the given id, searching both
// project-level and workflow-owned collections.
func (p *Project) FindDCByID(id ID) *DataCollection {
	for i := range p.DataCollections {
		if p.DataCollections[i].ID == id {
			return &p.DataCollections[i]
		}
	}
	for w := range p.Workflows {
		for i := range p.Workflows[w].DataCollections {
			if p.Workflows[w].DataCollections[i].ID == id {
				return &p.Workflows[w].DataCollections[i]
			}
		}
	}
	return nil
}

// FindLink returns the enabled link matching source DC, source column and
// target DC, or nil.
func (p *Project) FindLink(sourceDC ID, sourceColumn string, targetDC ID) *DCLink {
	for i := range p.Links {
		l := &p.Links[i]
		if l.Enabled && l.SourceDCID == sourceDC && l.SourceColumn == sourceColumn && l.TargetDCID == targetDC {
			return l
		}
	}
	return nil
}

// Validate checks the project's invariants: workflow name uniqueness, join
// name uniqueness, and the nested entity invariants.
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return common.NewError(common.ErrConfigInvalid, "project name is required", p.ID.String())
	}
	switch p.ProjectType {
	case ProjectBasic, ProjectAdvanced:
	default:
		return common.Errorf(common.ErrConfigInvalid, p.Name, "unknown project_type %q", p.ProjectType)
	}

	wfNames := make(map[string]bool, len(p.Workflows))
	for _, wf := range p.Workflows {
		if wfNames[wf.Name] {
			return common.Errorf(common.ErrConfigInvalid, p.Name,
				"duplicate workflow name %q within project", wf.Name)
		}
		wfNames[wf.Name] = true
		if err := wf.Validate(); err != nil {
			return err
		}
	}

	for _, dc := range p.DataCollections {
		if err := dc.Validate(); err != nil {
			return err
		}
	}

	joinNames := make(map[string]bool, len(p.Joins))
	for _, j := range p.Joins {
		if joinNames[j.Name] {
			return common.Errorf(common.ErrConfigInvalid, p.Name,
				"duplicate join name %q within project", j.Name)
		}
		joinNames[j.Name] = true
		if err := j.Validate(); err != nil {
			return err
		}
	}

	for _, l := range p.Links {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	return nil
}
