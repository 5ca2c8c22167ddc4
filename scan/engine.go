// Package scan implements the file-scan state machine: it discovers runs and
// files under a workflow's configured locations, reconciles them against the
// metadata store, and produces per-scan statistics.
//
// A file moves through the states absent → added → (unchanged|updated)* →
// missing → (deleted|re-added) across scans. Reconciliation is idempotent:
// file identity is the file_location, change detection is the metadata hash,
// and ids are preserved across updates.
package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/hashing"
	"github.com/depictio/depictio/metastore"
	"github.com/depictio/depictio/models"
)

// Params are the caller-selected scan semantics. Rescan revisits runs that
// are already recorded and deletes recorded runs that are no longer found;
// Sync deletes missing files instead of only counting them. Changed files of
// recursive DCs are updated either way; a single-file DC persists a changed
// file only under Sync.
type Params struct {
	Rescan bool
	Sync   bool
}

// EventPublisher receives data-collection change notifications. The event
// bus satisfies this; a nil publisher disables notifications.
type EventPublisher interface {
	PublishDataCollectionUpdated(dcID models.ID, tag string, operation string)
}

// ProjectResult summarizes a project scan.
type ProjectResult struct {
	RunsScanned int                         `json:"runs_scanned"`
	DCStats     map[string]models.ScanStats `json:"dc_stats"`
	Partial     bool                        `json:"partial"`
	Errors      []string                    `json:"errors,omitempty"`
}

// Engine is the scan engine. It holds no cross-request state; one engine is
// shared by every scan request.
type Engine struct {
	runs   metastore.RunStore
	files  metastore.FileStore
	events EventPublisher
	log    *common.ContextLogger
}

// NewEngine builds a scan engine over the metadata store.
func NewEngine(runs metastore.RunStore, files metastore.FileStore, events EventPublisher) *Engine {
	return &Engine{
		runs:   runs,
		files:  files,
		events: events,
		log:    common.NewContextLogger(nil, map[string]interface{}{"component": "scan-engine"}),
	}
}

// ScanProject scans every workflow of a project, optionally filtered to one
// workflow and/or one data collection tag. Location-level IO failures are
// localized: the scan continues and reports a partial result.
func (e *Engine) ScanProject(ctx context.Context, project *models.Project, filterWorkflow, filterDCTag string, params Params) (*ProjectResult, error) {
	e.log.Infof("Scanning project '%s'", project.Name)

	result := &ProjectResult{DCStats: make(map[string]models.ScanStats)}

	workflows := project.Workflows
	if filterWorkflow != "" {
		wf := project.FindWorkflow(filterWorkflow)
		if wf == nil {
			return nil, common.Errorf(common.ErrNotFound, project.ID.String(),
				"workflow %q not found in project", filterWorkflow)
		}
		workflows = []models.Workflow{*wf}
	}

	for i := range workflows {
		wf := &workflows[i]
		e.log.Infof(" ↪ Scanning workflow '%s'", wf.Tag())

		dcs := wf.DataCollections
		if filterDCTag != "" {
			dc := wf.FindDC(filterDCTag)
			if dc == nil {
				e.log.Warnf("data collection %q not found in workflow %q", filterDCTag, wf.Tag())
				continue
			}
			dcs = []models.DataCollection{*dc}
		}

		var recursive, single []models.DataCollection
		for _, dc := range dcs {
			if dc.IsJoined() || dc.Config.Scan == nil {
				continue
			}
			switch dc.Config.Scan.Mode {
			case models.ScanModeRecursive:
				recursive = append(recursive, dc)
			case models.ScanModeSingle:
				single = append(single, dc)
			}
		}

		if len(recursive) > 0 {
			runs, stats, err := e.ScanWorkflow(ctx, wf, recursive, params)
			if err != nil {
				if common.IsKind(err, common.ErrScanIO) {
					result.Partial = true
					result.Errors = append(result.Errors, err.Error())
				} else {
					return nil, err
				}
			}
			result.RunsScanned += len(runs)
			for tag, s := range stats {
				merged := result.DCStats[tag]
				merged.Add(s)
				result.DCStats[tag] = merged
			}
		}

		for _, dc := range single {
			stats, err := e.ScanSingleDC(ctx, wf, &dc, params)
			if err != nil {
				if common.IsKind(err, common.ErrScanIO) || common.IsKind(err, common.ErrConfigInvalid) {
					result.Partial = true
					result.Errors = append(result.Errors, err.Error())
					continue
				}
				return nil, err
			}
			merged := result.DCStats[dc.Tag]
			merged.Add(*stats)
			result.DCStats[dc.Tag] = merged
		}
	}

	e.log.Infof("Scanned %d runs in project '%s'", result.RunsScanned, project.Name)
	return result, nil
}

// dcScanContext carries the per-DC compiled regex and prior file set through
// a workflow scan.
type dcScanContext struct {
	dc       models.DataCollection
	re       *regexp.Regexp
	existing map[string]models.File // keyed by file_location
	seen     map[string]bool        // locations discovered this scan
}

// ScanWorkflow scans all recursive data collections of a workflow in a
// single pass over each run directory, returning the assembled runs and
// per-DC statistics.
func (e *Engine) ScanWorkflow(ctx context.Context, wf *models.Workflow, dcs []models.DataCollection, params Params) ([]models.WorkflowRun, map[string]models.ScanStats, error) {
	// Prefetch: current file sets per DC and current runs per workflow.
	dcContexts := make([]*dcScanContext, 0, len(dcs))
	for _, dc := range dcs {
		dcc, err := e.prepareDC(ctx, dc)
		if err != nil {
			// A malformed DC config aborts that DC only.
			e.log.WithError(err).Warnf("skipping data collection %q", dc.Tag)
			continue
		}
		dcContexts = append(dcContexts, dcc)
	}
	if len(dcContexts) == 0 {
		return nil, map[string]models.ScanStats{}, nil
	}

	existingRuns := make(map[string]models.WorkflowRun)
	stored, err := e.runs.GetRunsByWorkflow(ctx, wf.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, run := range stored {
		existingRuns[run.RunTag] = run
	}

	var (
		allRuns  []models.WorkflowRun
		scanErr  error
		dcStats  = make(map[string]models.ScanStats)
		seenTags = make(map[string]bool)
	)

	for _, rawLocation := range wf.DataLocation.Locations {
		location, err := hashing.ExpandPath(rawLocation)
		if err != nil {
			scanErr = common.WrapError(common.ErrScanIO, rawLocation, err)
			e.log.WithError(err).Error("Failed to expand scan location")
			continue
		}

		runDirs, err := e.enumerateRuns(wf, location)
		if err != nil {
			// An unreadable location aborts that location; siblings continue.
			scanErr = err
			e.log.WithError(err).Errorf("Failed to enumerate runs under %s", location)
			continue
		}

		for _, runDir := range runDirs {
			seenTags[runDir.tag] = true
			existing, known := existingRuns[runDir.tag]
			if known && !params.Rescan {
				e.log.Debugf("Skipping existing run %s", runDir.tag)
				continue
			}
			var existingPtr *models.WorkflowRun
			if known {
				existingPtr = &existing
			}

			run, runStats, err := e.scanRun(ctx, wf, runDir, dcContexts, existingPtr, params)
			if err != nil {
				scanErr = err
				e.log.WithError(err).Errorf("Failed to scan run %s", runDir.tag)
				continue
			}
			allRuns = append(allRuns, *run)
			for tag, s := range runStats {
				merged := dcStats[tag]
				merged.Add(s)
				dcStats[tag] = merged
			}
		}
	}

	// Missing-file detection per DC: prior locations minus everything
	// discovered in this scan.
	for _, dcc := range dcContexts {
		missing := make([]models.File, 0)
		for location, file := range dcc.existing {
			if !dcc.seen[location] {
				missing = append(missing, file)
			}
		}
		if len(missing) == 0 {
			continue
		}
		stats := dcStats[dcc.dc.Tag]
		if params.Sync {
			for _, file := range missing {
				if err := e.files.DeleteFile(ctx, file.ID); err != nil {
					return nil, nil, err
				}
			}
			stats.DeletedFiles += len(missing)
			e.log.Infof("Removed %d missing files for DC %s", len(missing), dcc.dc.Tag)
			e.publish(dcc.dc, "deleted")
		} else {
			stats.MissingFiles += len(missing)
		}
		dcStats[dcc.dc.Tag] = stats
	}

	// Missing-run detection: on rescan, previously-recorded runs not seen in
	// this scan are deleted together with their files.
	if params.Rescan {
		for tag, run := range existingRuns {
			if seenTags[tag] {
				continue
			}
			e.log.Infof("Removing missing run %s", tag)
			if err := e.files.DeleteFilesByRun(ctx, run.ID); err != nil {
				return nil, nil, err
			}
			if err := e.runs.DeleteRun(ctx, run.ID); err != nil {
				return nil, nil, err
			}
		}
	}

	// Batched upsert of all assembled runs.
	if len(allRuns) > 0 {
		if err := e.runs.UpsertRuns(ctx, allRuns); err != nil {
			return nil, nil, err
		}
	}

	for _, dcc := range dcContexts {
		s := dcStats[dcc.dc.Tag]
		if s.NewFiles > 0 {
			e.publish(dcc.dc, "added")
		}
		if s.UpdatedFiles > 0 {
			e.publish(dcc.dc, "updated")
		}
	}

	return allRuns, dcStats, scanErr
}

// prepareDC compiles the DC's regex and prefetches its current file set.
func (e *Engine) prepareDC(ctx context.Context, dc models.DataCollection) (*dcScanContext, error) {
	if dc.Config.Scan == nil || dc.Config.Scan.RegexConfig == nil {
		return nil, common.NewError(common.ErrConfigInvalid,
			"recursive scan requires regex_config", dc.Tag)
	}
	re, err := dc.Config.Scan.RegexConfig.Compile()
	if err != nil {
		return nil, err
	}

	files, err := e.files.GetFilesByDC(ctx, dc.ID)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]models.File, len(files))
	for _, f := range files {
		existing[f.FileLocation] = f
	}
	e.log.Debugf("DC %s: %d existing files", dc.Tag, len(existing))

	return &dcScanContext{
		dc:       dc,
		re:       re,
		existing: existing,
		seen:     make(map[string]bool),
	}, nil
}

// runDir names one run directory to scan.
type runDir struct {
	tag  string
	path string
}

// enumerateRuns lists the run directories under a location. Flat structures
// treat the location itself as the single run; sequencing-runs structures
// take each immediate subdirectory matching runs_regex.
func (e *Engine) enumerateRuns(wf *models.Workflow, location string) ([]runDir, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, common.WrapError(common.ErrScanIO, location,
			fmt.Errorf("the directory %q does not exist: %w", location, err))
	}
	if !info.IsDir() {
		return nil, common.Errorf(common.ErrScanIO, location, "%q is not a directory", location)
	}

	switch wf.DataLocation.Structure {
	case models.StructureFlat:
		return []runDir{{tag: filepath.Base(filepath.Clean(location)), path: location}}, nil

	case models.StructureSequencingRuns:
		re, err := regexp.Compile(wf.DataLocation.RunsRegex)
		if err != nil {
			return nil, common.Errorf(common.ErrConfigInvalid, wf.Tag(),
				"runs_regex does not compile: %v", err)
		}
		entries, err := os.ReadDir(location)
		if err != nil {
			return nil, common.WrapError(common.ErrScanIO, location, err)
		}
		var runs []runDir
		for _, entry := range entries {
			if !entry.IsDir() || !re.MatchString(entry.Name()) {
				continue
			}
			runs = append(runs, runDir{tag: entry.Name(), path: filepath.Join(location, entry.Name())})
		}
		return runs, nil

	default:
		return nil, common.Errorf(common.ErrConfigInvalid, wf.Tag(),
			"unknown data structure %q", wf.DataLocation.Structure)
	}
}

// scanRun walks one run directory once, matching every recursive DC's regex
// against each file basename, and assembles the resulting WorkflowRun with
// its ScanResult.
func (e *Engine) scanRun(ctx context.Context, wf *models.Workflow, dir runDir, dcContexts []*dcScanContext, existingRun *models.WorkflowRun, params Params) (*models.WorkflowRun, map[string]models.ScanStats, error) {
	dirInfo, err := os.Stat(dir.path)
	if err != nil {
		return nil, nil, common.WrapError(common.ErrScanIO, dir.path, err)
	}
	creationTime := models.FormatTimestamp(dirInfo.ModTime())
	lastModification := models.FormatTimestamp(dirInfo.ModTime())

	// Single walk shared by every DC.
	var filesInRun []string
	walkErr := filepath.WalkDir(dir.path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			filesInRun = append(filesInRun, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, nil, common.WrapError(common.ErrScanIO, dir.path, walkErr)
	}

	run := models.WorkflowRun{
		ID:                   models.NewID(),
		WorkflowID:           wf.ID,
		RunTag:               dir.tag,
		RunLocation:          dir.path,
		CreationTime:         creationTime,
		LastModificationTime: lastModification,
	}
	if existingRun != nil {
		run.ID = existingRun.ID
		run.ScanResults = existingRun.ScanResults
		run.Permissions = existingRun.Permissions
	}

	dcStats := make(map[string]models.ScanStats, len(dcContexts))
	fileIDBuckets := models.ScanFileIDs{}
	var runFileIDs []models.ID
	var runFileHashes []string
	var toUpsert []models.File

	for _, dcc := range dcContexts {
		stats := models.ScanStats{}
		for _, location := range filesInRun {
			if !dcc.re.MatchString(filepath.Base(location)) {
				continue
			}
			record, err := e.scanFile(location, &run, dcc, params)
			if err != nil {
				stats.OtherFailureFiles++
				stats.TotalFiles++
				e.log.WithError(err).Warnf("Rejected file %s", location)
				continue
			}
			dcc.seen[location] = true
			stats.TotalFiles++
			runFileIDs = append(runFileIDs, record.File.ID)
			runFileHashes = append(runFileHashes, record.File.FileHash)

			switch record.Outcome {
			case models.FileAdded:
				stats.NewFiles++
				fileIDBuckets.NewFiles = append(fileIDBuckets.NewFiles, record.File.ID)
				toUpsert = append(toUpsert, record.File)
			case models.FileUpdated:
				stats.UpdatedFiles++
				fileIDBuckets.UpdatedFiles = append(fileIDBuckets.UpdatedFiles, record.File.ID)
				toUpsert = append(toUpsert, record.File)
			case models.FileSkipped:
				stats.SkippedFiles++
				fileIDBuckets.SkippedFiles = append(fileIDBuckets.SkippedFiles, record.File.ID)
				if params.Sync {
					toUpsert = append(toUpsert, record.File)
				}
			}
		}
		dcStats[dcc.dc.Tag] = stats
	}

	if len(toUpsert) > 0 {
		if err := e.files.UpsertFiles(ctx, toUpsert); err != nil {
			return nil, nil, err
		}
	}

	run.FileIDs = runFileIDs
	run.RunHash = hashing.RunHash(dir.path, creationTime, lastModification, runFileHashes)

	// Run diff: on rescan, report which fields drifted since the stored run.
	if existingRun != nil && existingRun.RunHash != run.RunHash {
		e.logRunDifferences(existingRun, &run)
	}

	aggregate := models.ScanStats{}
	for _, s := range dcStats {
		aggregate.Add(s)
	}
	run.ScanResults = append(run.ScanResults, models.ScanResult{
		Stats:    aggregate,
		FileIDs:  fileIDBuckets,
		DCStats:  dcStats,
		ScanTime: models.FormatTimestamp(time.Now()),
	})

	return &run, dcStats, nil
}

// scanFile hashes one matched file and classifies it against the DC's prior
// state. Existing ids are preserved on update.
func (e *Engine) scanFile(location string, run *models.WorkflowRun, dcc *dcScanContext, params Params) (*models.FileScanRecord, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, common.WrapError(common.ErrScanIO, location, err)
	}
	if info.Size() == 0 {
		return nil, common.NewError(common.ErrInvalidFile, "file size cannot be zero", location)
	}

	// Creation time is not portable across filesystems; the modification
	// time stands in for both, which keeps the hash deterministic.
	creationTime := models.FormatTimestamp(info.ModTime())
	modificationTime := models.FormatTimestamp(info.ModTime())
	fileHash := hashing.FileHash(filepath.Base(location), info.Size(), creationTime, modificationTime)

	file := models.File{
		ID:               models.NewID(),
		FileLocation:     location,
		Filename:         filepath.Base(location),
		CreationTime:     creationTime,
		ModificationTime: modificationTime,
		FileHash:         fileHash,
		Filesize:         info.Size(),
		RunID:            run.ID,
		RunTag:           run.RunTag,
		DataCollectionID: dcc.dc.ID,
		Permissions:      run.Permissions,
	}

	outcome := models.FileAdded
	if prior, exists := dcc.existing[location]; exists {
		file.ID = prior.ID
		if prior.FileHash == fileHash {
			// Unchanged: reported as skipped either way. Under sync the
			// upsert still runs as a no-op, which keeps reconciliation
			// idempotent.
			outcome = models.FileSkipped
		} else {
			outcome = models.FileUpdated
		}
	}

	return &models.FileScanRecord{
		File:     file,
		Outcome:  outcome,
		ScanTime: models.FormatTimestamp(time.Now()),
	}, nil
}

// logRunDifferences deconvolutes a run-hash mismatch into the changed
// fields.
func (e *Engine) logRunDifferences(prev, next *models.WorkflowRun) {
	log := e.log.WithField("run_tag", next.RunTag)
	log.Warnf("Hash mismatch for run %s", next.RunLocation)

	changed := false
	if prev.RunLocation != next.RunLocation {
		log.Warnf("Run location changed: %s -> %s", prev.RunLocation, next.RunLocation)
		changed = true
	}
	if prev.CreationTime != next.CreationTime {
		log.Warnf("Creation time changed: %s -> %s", prev.CreationTime, next.CreationTime)
		changed = true
	}
	if prev.LastModificationTime != next.LastModificationTime {
		log.Warnf("Last modification time changed: %s -> %s", prev.LastModificationTime, next.LastModificationTime)
		changed = true
	}
	if !changed {
		log.Warnf("Files changed for run %s", next.RunLocation)
	}
}

// ScanSingleDC ingests a single-file data collection. The file named in the
// scan config forms a synthetic one-file run.
func (e *Engine) ScanSingleDC(ctx context.Context, wf *models.Workflow, dc *models.DataCollection, params Params) (*models.ScanStats, error) {
	if dc.Config.Scan == nil || dc.Config.Scan.Mode != models.ScanModeSingle {
		return nil, common.NewError(common.ErrConfigInvalid,
			"data collection is not a single-file scan", dc.Tag)
	}

	filePath, err := hashing.ExpandPath(dc.Config.Scan.Filename)
	if err != nil {
		return nil, common.WrapError(common.ErrConfigInvalid, dc.Tag, err)
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, common.WrapError(common.ErrScanIO, filePath, err)
	}

	existing, err := e.files.GetFilesByDC(ctx, dc.ID)
	if err != nil {
		return nil, err
	}
	existingByLocation := make(map[string]models.File, len(existing))
	for _, f := range existing {
		existingByLocation[f.FileLocation] = f
	}

	run := models.WorkflowRun{
		ID:                   models.NewID(),
		WorkflowID:           wf.ID,
		RunTag:               fmt.Sprintf("%s-single-file-scan", dc.Tag),
		RunLocation:          filepath.Dir(filePath),
		CreationTime:         models.FormatTimestamp(info.ModTime()),
		LastModificationTime: models.FormatTimestamp(info.ModTime()),
	}

	dcc := &dcScanContext{dc: *dc, existing: existingByLocation, seen: make(map[string]bool)}
	record, err := e.scanFile(filePath, &run, dcc, params)
	if err != nil {
		return nil, err
	}

	stats := &models.ScanStats{TotalFiles: 1}
	switch record.Outcome {
	case models.FileAdded:
		stats.NewFiles = 1
	case models.FileUpdated:
		stats.UpdatedFiles = 1
	case models.FileSkipped:
		stats.SkippedFiles = 1
	}

	if record.Outcome == models.FileAdded || (record.Outcome == models.FileUpdated && params.Sync) {
		run.FileIDs = []models.ID{record.File.ID}
		run.RunHash = hashing.RunHash(run.RunLocation, run.CreationTime, run.LastModificationTime,
			[]string{record.File.FileHash})
		if err := e.files.UpsertFiles(ctx, []models.File{record.File}); err != nil {
			return nil, err
		}
		if err := e.runs.UpsertRuns(ctx, []models.WorkflowRun{run}); err != nil {
			return nil, err
		}
		e.publish(*dc, string(record.Outcome))
	}

	e.log.Infof("Scanned data collection %s: %+v", dc.Tag, *stats)
	return stats, nil
}

// publish emits a data-collection-updated event when a bus is attached.
func (e *Engine) publish(dc models.DataCollection, operation string) {
	if e.events == nil {
		return
	}
	e.events.PublishDataCollectionUpdated(dc.ID, dc.Tag, operation)
}
