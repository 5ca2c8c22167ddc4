package metastore

import (
	"context"
	"encoding/json"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/models"
)

// ProjectStore is the narrow interface the engines need for project access.
type ProjectStore interface {
	GetProject(ctx context.Context, id models.ID) (*models.Project, error)
	PutProject(ctx context.Context, project *models.Project) error
	ListProjects(ctx context.Context) ([]models.Project, error)
}

// RunStore covers workflow-run reconciliation.
type RunStore interface {
	GetRunsByWorkflow(ctx context.Context, workflowID models.ID) ([]models.WorkflowRun, error)
	UpsertRuns(ctx context.Context, runs []models.WorkflowRun) error
	DeleteRun(ctx context.Context, id models.ID) error
}

// FileStore covers file reconciliation.
type FileStore interface {
	GetFilesByDC(ctx context.Context, dcID models.ID) ([]models.File, error)
	UpsertFiles(ctx context.Context, files []models.File) error
	DeleteFile(ctx context.Context, id models.ID) error
	DeleteFilesByRun(ctx context.Context, runID models.ID) error
}

// LineageStore records join lineage.
type LineageStore interface {
	PutLineage(ctx context.Context, meta *models.JoinedTableMetadata) error
	GetLineageByJoin(ctx context.Context, joinName string) (*models.JoinedTableMetadata, error)
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id models.ID) (*models.Project, error) {
	var project models.Project
	if err := s.getDoc(ctx, DBProjects, id.String(), &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// PutProject upserts a project document, assigning an id when missing.
func (s *Store) PutProject(ctx context.Context, project *models.Project) error {
	if project.ID.IsZero() {
		project.ID = models.NewID()
	}
	if err := project.Validate(); err != nil {
		return err
	}
	return s.putDoc(ctx, DBProjects, project.ID.String(), project)
}

// ListProjects returns every project document.
func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	err := s.findDocs(ctx, DBProjects, map[string]interface{}{"_id": map[string]interface{}{"$gt": nil}},
		func(raw json.RawMessage) error {
			var p models.Project
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			projects = append(projects, p)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// GetRunsByWorkflow returns every run recorded for a workflow.
func (s *Store) GetRunsByWorkflow(ctx context.Context, workflowID models.ID) ([]models.WorkflowRun, error) {
	var runs []models.WorkflowRun
	err := s.findDocs(ctx, DBRuns, map[string]interface{}{"workflow_id": workflowID.String()},
		func(raw json.RawMessage) error {
			var r models.WorkflowRun
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			runs = append(runs, r)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// UpsertRuns writes a batch of runs, one idempotent upsert each.
func (s *Store) UpsertRuns(ctx context.Context, runs []models.WorkflowRun) error {
	for i := range runs {
		run := &runs[i]
		if run.ID.IsZero() {
			run.ID = models.NewID()
		}
		if run.RegistrationTime == "" {
			run.RegistrationTime = now()
		}
		if err := run.Validate(); err != nil {
			return err
		}
		if err := s.putDoc(ctx, DBRuns, run.ID.String(), run); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRun removes a run document. The caller cascades file deletion via
// DeleteFilesByRun.
func (s *Store) DeleteRun(ctx context.Context, id models.ID) error {
	return s.deleteDoc(ctx, DBRuns, id.String())
}

// GetFilesByDC returns every file recorded for a data collection.
func (s *Store) GetFilesByDC(ctx context.Context, dcID models.ID) ([]models.File, error) {
	var files []models.File
	err := s.findDocs(ctx, DBFiles, map[string]interface{}{"data_collection_id": dcID.String()},
		func(raw json.RawMessage) error {
			var f models.File
			if err := json.Unmarshal(raw, &f); err != nil {
				return err
			}
			files = append(files, f)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// UpsertFiles writes a batch of files after validating each.
func (s *Store) UpsertFiles(ctx context.Context, files []models.File) error {
	for i := range files {
		file := &files[i]
		if file.ID.IsZero() {
			file.ID = models.NewID()
		}
		if file.RegistrationTime == "" {
			file.RegistrationTime = now()
		}
		if err := file.Validate(); err != nil {
			return err
		}
		if err := s.putDoc(ctx, DBFiles, file.ID.String(), file); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFile removes one file document.
func (s *Store) DeleteFile(ctx context.Context, id models.ID) error {
	return s.deleteDoc(ctx, DBFiles, id.String())
}

// DeleteFilesByRun removes every file belonging to a run.
func (s *Store) DeleteFilesByRun(ctx context.Context, runID models.ID) error {
	var ids []models.ID
	err := s.findDocs(ctx, DBFiles, map[string]interface{}{"run_id": runID.String()},
		func(raw json.RawMessage) error {
			var f models.File
			if err := json.Unmarshal(raw, &f); err != nil {
				return err
			}
			ids = append(ids, f.ID)
			return nil
		})
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.DeleteFile(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// PutLineage upserts a join lineage record keyed by join name, so repeated
// executions of the same join overwrite their lineage in place.
func (s *Store) PutLineage(ctx context.Context, meta *models.JoinedTableMetadata) error {
	if meta.ID.IsZero() {
		meta.ID = models.NewID()
	}
	existing, err := s.GetLineageByJoin(ctx, meta.JoinName)
	if err != nil && !common.IsKind(err, common.ErrNotFound) {
		return err
	}
	if existing != nil {
		meta.ID = existing.ID
		meta.CreatedAt = existing.CreatedAt
		meta.UpdatedAt = now()
	} else {
		meta.CreatedAt = now()
	}
	return s.putDoc(ctx, DBDeltaTables, meta.ID.String(), meta)
}

// GetLineageByJoin fetches the lineage record for a join definition.
func (s *Store) GetLineageByJoin(ctx context.Context, joinName string) (*models.JoinedTableMetadata, error) {
	var found *models.JoinedTableMetadata
	err := s.findDocs(ctx, DBDeltaTables, map[string]interface{}{"join_name": joinName},
		func(raw json.RawMessage) error {
			var m models.JoinedTableMetadata
			if err := json.Unmarshal(raw, &m); err != nil {
				return err
			}
			found = &m
			return nil
		})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, common.Errorf(common.ErrNotFound, joinName, "no lineage record for join")
	}
	return found, nil
}
