package models

import (
	"fmt"
	"strings"

	"github.com/depictio/depictio/common"
)

// DataStructure describes how runs are laid out under a workflow's locations.
type DataStructure string

const (
	// StructureFlat treats each configured location as a single run.
	StructureFlat DataStructure = "flat"

	// StructureSequencingRuns treats each immediate subdirectory matching
	// runs_regex as a run.
	StructureSequencingRuns DataStructure = "sequencing-runs"
)

// DataLocation describes where a workflow's data lives on disk. Locations may
// reference {NAME} environment placeholders, resolved at ingestion time.
type DataLocation struct {
	Structure DataStructure `json:"structure" yaml:"structure"`
	Locations []string      `json:"locations" yaml:"locations"`

	// RunsRegex selects run subdirectories; required iff structure is
	// sequencing-runs.
	RunsRegex string `json:"runs_regex,omitempty" yaml:"runs_regex,omitempty"`
}

// Validate checks the location's cross-field invariants.
func (dl DataLocation) Validate() error {
	switch dl.Structure {
	case StructureFlat:
		if dl.RunsRegex != "" {
			return common.NewError(common.ErrConfigInvalid,
				"runs_regex is only valid for sequencing-runs structure", "")
		}
	case StructureSequencingRuns:
		if dl.RunsRegex == "" {
			return common.NewError(common.ErrConfigInvalid,
				"runs_regex is required for sequencing-runs structure", "")
		}
	default:
		return common.Errorf(common.ErrConfigInvalid, "", "unknown data structure %q", dl.Structure)
	}
	if len(dl.Locations) == 0 {
		return common.NewError(common.ErrConfigInvalid, "at least one location is required", "")
	}
	return nil
}

// Engine identifies the processing engine behind a workflow.
type Engine struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Workflow is a named processing pipeline owning an ordered list of data
// collections and a data location.
type Workflow struct {
	ID              ID               `json:"_id" yaml:"id,omitempty"`
	Name            string           `json:"name" yaml:"name"`
	Engine          Engine           `json:"engine" yaml:"engine"`
	Catalog         string           `json:"catalog,omitempty" yaml:"catalog,omitempty"`
	DataLocation    DataLocation     `json:"data_location" yaml:"data_location"`
	DataCollections []DataCollection `json:"data_collections" yaml:"data_collections"`
}

// Tag returns the computed workflow tag, {engine}/{name}, with the nf-core
// catalog overriding the engine segment.
func (w Workflow) Tag() string {
	engine := w.Engine.Name
	if w.Catalog == "nf-core" {
		engine = "nf-core"
	}
	return fmt.Sprintf("%s/%s", engine, w.Name)
}

// FindDC returns the data collection with the given tag, or nil.
func (w Workflow) FindDC(tag string) *DataCollection {
	for i := range w.DataCollections {
		if w.DataCollections[i].Tag == tag {
			return &w.DataCollections[i]
		}
	}
	return nil
}

// Validate checks the workflow's invariants, including DC tag uniqueness.
func (w Workflow) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return common.NewError(common.ErrConfigInvalid, "workflow name is required", w.ID.String())
	}
	if w.Engine.Name == "" {
		return common.NewError(common.ErrConfigInvalid, "workflow engine name is required", w.Name)
	}
	if err := w.DataLocation.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(w.DataCollections))
	for _, dc := range w.DataCollections {
		if seen[dc.Tag] {
			return common.Errorf(common.ErrConfigInvalid, w.Tag(),
				"duplicate data_collection_tag %q within workflow", dc.Tag)
		}
		seen[dc.Tag] = true
		if err := dc.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ScanStats counts file outcomes for one scan of one DC (or aggregated over
// all DCs of a run).
type ScanStats struct {
	TotalFiles        int `json:"total_files"`
	NewFiles          int `json:"new_files"`
	UpdatedFiles      int `json:"updated_files"`
	SkippedFiles      int `json:"skipped_files"`
	MissingFiles      int `json:"missing_files"`
	DeletedFiles      int `json:"deleted_files"`
	OtherFailureFiles int `json:"other_failure_files"`
}

// Add accumulates another stats record into the receiver.
func (s *ScanStats) Add(other ScanStats) {
	s.TotalFiles += other.TotalFiles
	s.NewFiles += other.NewFiles
	s.UpdatedFiles += other.UpdatedFiles
	s.SkippedFiles += other.SkippedFiles
	s.MissingFiles += other.MissingFiles
	s.DeletedFiles += other.DeletedFiles
	s.OtherFailureFiles += other.OtherFailureFiles
}

// ScanFileIDs groups file ids by outcome bucket for one scan.
type ScanFileIDs struct {
	NewFiles          []ID `json:"new_files"`
	UpdatedFiles      []ID `json:"updated_files"`
	SkippedFiles      []ID `json:"skipped_files"`
	OtherFailureFiles []ID `json:"other_failure_files"`
}

// ScanResult is the per-scan record appended to a WorkflowRun: aggregate
// stats, per-DC stats keyed by DC tag, the bucketed file-id sets and the scan
// timestamp.
type ScanResult struct {
	Stats    ScanStats            `json:"stats"`
	FileIDs  ScanFileIDs          `json:"files_id"`
	DCStats  map[string]ScanStats `json:"dc_stats"`
	ScanTime string               `json:"scan_time"`
}

// WorkflowRun is one observed instance of a workflow's data being ingested.
type WorkflowRun struct {
	ID                   ID           `json:"_id"`
	WorkflowID           ID           `json:"workflow_id"`
	RunTag               string       `json:"run_tag"`
	RunLocation          string       `json:"run_location"`
	CreationTime         string       `json:"creation_time"`
	LastModificationTime string       `json:"last_modification_time"`
	FileIDs              []ID         `json:"files_id"`
	RunHash              string       `json:"run_hash"`
	ScanResults          []ScanResult `json:"scan_results,omitempty"`
	Permissions          Permissions  `json:"permissions"`
	RegistrationTime     string       `json:"registration_time,omitempty"`
}

// Validate checks the run's field invariants.
func (r WorkflowRun) Validate() error {
	if r.RunTag == "" {
		return common.NewError(common.ErrConfigInvalid, "run_tag is required", r.RunLocation)
	}
	if r.RunHash != "" && len(r.RunHash) != 64 {
		return common.Errorf(common.ErrConfigInvalid, r.RunTag,
			"run_hash must be 64 hex characters, got %d", len(r.RunHash))
	}
	for _, field := range []string{r.CreationTime, r.LastModificationTime} {
		if field == "" {
			continue
		}
		if _, err := NormalizeTimestamp(field); err != nil {
			return err
		}
	}
	return nil
}
