package models

import (
	"regexp"

	"github.com/depictio/depictio/common"
)

var hexHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// File is one observed physical data file belonging to a run and a data
// collection. The file hash is computed over metadata only (name, size,
// timestamps), never contents.
type File struct {
	ID               ID          `json:"_id"`
	FileLocation     string      `json:"file_location"`
	Filename         string      `json:"filename"`
	CreationTime     string      `json:"creation_time"`
	ModificationTime string      `json:"modification_time"`
	FileHash         string      `json:"file_hash"`
	Filesize         int64       `json:"filesize"`
	RunID            ID          `json:"run_id"`
	RunTag           string      `json:"run_tag,omitempty"`
	DataCollectionID ID          `json:"data_collection_id"`
	Permissions      Permissions `json:"permissions"`
	RegistrationTime string      `json:"registration_time,omitempty"`
}

// Validate checks the file's field invariants: non-empty name, positive
// size, 64-hex hash and canonicalizable timestamps.
func (f File) Validate() error {
	if f.Filename == "" {
		return common.NewError(common.ErrInvalidFile, "filename cannot be empty", f.FileLocation)
	}
	if f.Filesize < 0 {
		return common.NewError(common.ErrInvalidFile, "file size cannot be negative", f.FileLocation)
	}
	if f.Filesize == 0 {
		return common.NewError(common.ErrInvalidFile, "file size cannot be zero", f.FileLocation)
	}
	if !hexHashPattern.MatchString(f.FileHash) {
		return common.NewError(common.ErrInvalidFile,
			"file_hash must be 64 lowercase hex characters", f.FileLocation)
	}
	if _, err := NormalizeTimestamp(f.CreationTime); err != nil {
		return err
	}
	if _, err := NormalizeTimestamp(f.ModificationTime); err != nil {
		return err
	}
	return nil
}

// FileScanOutcome classifies what the scan engine decided about one file.
type FileScanOutcome string

const (
	FileAdded   FileScanOutcome = "added"
	FileUpdated FileScanOutcome = "updated"
	FileSkipped FileScanOutcome = "skipped"
	FileFailed  FileScanOutcome = "failed"
)

// FileScanRecord pairs a scanned file with its scan outcome.
type FileScanRecord struct {
	File     File            `json:"file"`
	Outcome  FileScanOutcome `json:"outcome"`
	ScanTime string          `json:"scan_time"`
}
