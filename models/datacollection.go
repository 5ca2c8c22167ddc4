package models

import (
	"strings"

	"github.com/depictio/depictio/common"
)

// DCType enumerates the supported data collection types.
type DCType string

const (
	DCTypeTable    DCType = "table"
	DCTypeJBrowse2 DCType = "jbrowse2"
	DCTypeMultiQC  DCType = "multiqc"
	DCTypeImage    DCType = "image"
)

// ScanMode selects between single-file and recursive directory scanning.
type ScanMode string

const (
	ScanModeSingle    ScanMode = "single"
	ScanModeRecursive ScanMode = "recursive"
)

// DCSource distinguishes scanned collections from join-produced ones.
type DCSource string

const (
	DCSourceScan   DCSource = "scan"
	DCSourceJoined DCSource = "joined"
)

// ScanConfig holds the scan mode plus mode-specific parameters. Single-file
// scans name one file; recursive scans carry a wildcard regex.
type ScanConfig struct {
	Mode ScanMode `json:"mode" yaml:"mode"`

	// Filename is the single file to ingest; only for mode=single.
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`

	// RegexConfig selects files under the run directory; only for
	// mode=recursive.
	RegexConfig *Regex `json:"regex_config,omitempty" yaml:"regex_config,omitempty"`
}

// TableFormat enumerates on-disk source formats for table DCs.
type TableFormat string

const (
	TableFormatCSV     TableFormat = "csv"
	TableFormatTSV     TableFormat = "tsv"
	TableFormatParquet TableFormat = "parquet"
)

// TableProperties configures table-type data collections.
type TableProperties struct {
	Format       TableFormat            `json:"format" yaml:"format"`
	PolarsKwargs map[string]interface{} `json:"polars_kwargs,omitempty" yaml:"polars_kwargs,omitempty"`
}

// JBrowse2Properties configures genome-browser data collections.
type JBrowse2Properties struct {
	IndexExtension string `json:"index_extension,omitempty" yaml:"index_extension,omitempty"`
	TrackType      string `json:"track_type,omitempty" yaml:"track_type,omitempty"`
}

// MultiQCProperties configures MultiQC report collections.
type MultiQCProperties struct {
	ReportFilename string `json:"report_filename,omitempty" yaml:"report_filename,omitempty"`
}

// ImageProperties configures image collections.
type ImageProperties struct {
	Thumbnails bool `json:"thumbnails,omitempty" yaml:"thumbnails,omitempty"`
}

// DCConfig is the tagged variant configuration of a data collection: a common
// header (Type, Source, Scan) plus exactly one type-specific payload.
type DCConfig struct {
	Type   DCType      `json:"type" yaml:"type"`
	Source DCSource    `json:"source,omitempty" yaml:"source,omitempty"`
	Scan   *ScanConfig `json:"scan,omitempty" yaml:"scan,omitempty"`

	Table    *TableProperties    `json:"table,omitempty" yaml:"table,omitempty"`
	JBrowse2 *JBrowse2Properties `json:"jbrowse2,omitempty" yaml:"jbrowse2,omitempty"`
	MultiQC  *MultiQCProperties  `json:"multiqc,omitempty" yaml:"multiqc,omitempty"`
	Image    *ImageProperties    `json:"image,omitempty" yaml:"image,omitempty"`
}

// DataCollection is a typed dataset within a workflow (or at project level
// for basic projects). Joined collections carry no scan config; their content
// is produced by a JoinDefinition.
type DataCollection struct {
	ID          ID       `json:"_id" yaml:"id,omitempty"`
	Tag         string   `json:"data_collection_tag" yaml:"data_collection_tag"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Config      DCConfig `json:"config" yaml:"config"`
}

// IsJoined reports whether the collection is produced by a join rather than
// a scan.
func (dc DataCollection) IsJoined() bool {
	return dc.Config.Source == DCSourceJoined
}

// Validate checks the collection's cross-field invariants.
func (dc DataCollection) Validate() error {
	if strings.TrimSpace(dc.Tag) == "" {
		return common.NewError(common.ErrConfigInvalid, "data_collection_tag is required", dc.ID.String())
	}

	switch dc.Config.Type {
	case DCTypeTable, DCTypeJBrowse2, DCTypeMultiQC, DCTypeImage:
	default:
		return common.Errorf(common.ErrConfigInvalid, dc.Tag, "unknown data collection type %q", dc.Config.Type)
	}

	if dc.IsJoined() {
		if dc.Config.Scan != nil {
			return common.NewError(common.ErrConfigInvalid,
				"joined data collections must not declare a scan config", dc.Tag)
		}
		return nil
	}

	scan := dc.Config.Scan
	if scan == nil {
		return common.NewError(common.ErrConfigInvalid, "scan config is required", dc.Tag)
	}
	switch scan.Mode {
	case ScanModeSingle:
		if scan.Filename == "" {
			return common.NewError(common.ErrConfigInvalid,
				"single scan mode requires filename", dc.Tag)
		}
	case ScanModeRecursive:
		if scan.RegexConfig == nil || scan.RegexConfig.Pattern == "" {
			return common.NewError(common.ErrConfigInvalid,
				"recursive scan mode requires regex_config", dc.Tag)
		}
		// Surfaces duplicate wildcard names at config time.
		if _, err := scan.RegexConfig.FullPattern(); err != nil {
			return err
		}
	default:
		return common.Errorf(common.ErrConfigInvalid, dc.Tag, "unknown scan mode %q", scan.Mode)
	}
	return nil
}
