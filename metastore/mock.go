package metastore

import (
	"context"
	"sync"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/models"
)

// MockStore is an in-memory metadata store for tests. It implements the same
// narrow interfaces as Store and mirrors its idempotent-upsert semantics.
type MockStore struct {
	mu       sync.RWMutex
	Projects map[models.ID]*models.Project
	Runs     map[models.ID]*models.WorkflowRun
	Files    map[models.ID]*models.File
	Lineage  map[string]*models.JoinedTableMetadata
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		Projects: make(map[models.ID]*models.Project),
		Runs:     make(map[models.ID]*models.WorkflowRun),
		Files:    make(map[models.ID]*models.File),
		Lineage:  make(map[string]*models.JoinedTableMetadata),
	}
}

var (
	_ ProjectStore = (*MockStore)(nil)
	_ RunStore     = (*MockStore)(nil)
	_ FileStore    = (*MockStore)(nil)
	_ LineageStore = (*MockStore)(nil)
)

// GetProject fetches a project by id.
func (m *MockStore) GetProject(_ context.Context, id models.ID) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.Projects[id]
	if !ok {
		return nil, common.Errorf(common.ErrNotFound, id.String(), "document not found in projects")
	}
	clone := *p
	return &clone, nil
}

// PutProject upserts a project.
func (m *MockStore) PutProject(_ context.Context, project *models.Project) error {
	if project.ID.IsZero() {
		project.ID = models.NewID()
	}
	if err := project.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *project
	m.Projects[project.ID] = &clone
	return nil
}

// ListProjects returns every stored project.
func (m *MockStore) ListProjects(_ context.Context) ([]models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Project, 0, len(m.Projects))
	for _, p := range m.Projects {
		out = append(out, *p)
	}
	return out, nil
}

// GetRunsByWorkflow returns the runs recorded for a workflow.
func (m *MockStore) GetRunsByWorkflow(_ context.Context, workflowID models.ID) ([]models.WorkflowRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.WorkflowRun
	for _, r := range m.Runs {
		if r.WorkflowID == workflowID {
			out = append(out, *r)
		}
	}
	return out, nil
}

// UpsertRuns stores a batch of runs.
func (m *MockStore) UpsertRuns(_ context.Context, runs []models.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range runs {
		run := runs[i]
		if run.ID.IsZero() {
			run.ID = models.NewID()
		}
		if err := run.Validate(); err != nil {
			return err
		}
		m.Runs[run.ID] = &run
	}
	return nil
}

// DeleteRun removes a run.
func (m *MockStore) DeleteRun(_ context.Context, id models.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Runs, id)
	return nil
}

// GetFilesByDC returns the files recorded for a data collection.
func (m *MockStore) GetFilesByDC(_ context.Context, dcID models.ID) ([]models.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.File
	for _, f := range m.Files {
		if f.DataCollectionID == dcID {
			out = append(out, *f)
		}
	}
	return out, nil
}

// UpsertFiles stores a batch of files.
func (m *MockStore) UpsertFiles(_ context.Context, files []models.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range files {
		file := files[i]
		if file.ID.IsZero() {
			file.ID = models.NewID()
		}
		if err := file.Validate(); err != nil {
			return err
		}
		m.Files[file.ID] = &file
	}
	return nil
}

// DeleteFile removes one file.
func (m *MockStore) DeleteFile(_ context.Context, id models.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Files, id)
	return nil
}

// DeleteFilesByRun removes every file belonging to a run.
func (m *MockStore) DeleteFilesByRun(_ context.Context, runID models.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.Files {
		if f.RunID == runID {
			delete(m.Files, id)
		}
	}
	return nil
}

// PutLineage upserts a lineage record keyed by join name.
func (m *MockStore) PutLineage(_ context.Context, meta *models.JoinedTableMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta.ID.IsZero() {
		meta.ID = models.NewID()
	}
	clone := *meta
	m.Lineage[meta.JoinName] = &clone
	return nil
}

// GetLineageByJoin fetches a lineage record by join name.
func (m *MockStore) GetLineageByJoin(_ context.Context, joinName string) (*models.JoinedTableMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.Lineage[joinName]
	if !ok {
		return nil, common.Errorf(common.ErrNotFound, joinName, "no lineage record for join")
	}
	clone := *meta
	return &clone, nil
}
