package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depictio/depictio/common"
)

// TestNewID tests id shape and uniqueness
func TestNewID(t *testing.T) {
	seen := make(map[ID]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.True(t, id.IsValid(), "id %q must be 24 lowercase hex", id)
		assert.False(t, seen[id], "ids must not repeat")
		seen[id] = true
	}
}

// TestParseID tests id validation
func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "Valid", input: "507f1f77bcf86cd799439011"},
		{name: "TooShort", input: "507f1f77bcf86cd79943901", wantErr: true},
		{name: "Uppercase", input: "507F1F77BCF86CD799439011", wantErr: true},
		{name: "NonHex", input: "507f1f77bcf86cd79943901z", wantErr: true},
		{name: "Empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestNormalizeTimestamp tests canonicalization of timestamps
func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "ISO", input: "2025-01-01T10:00:00", want: "2025-01-01 10:00:00"},
		{name: "RFC3339", input: "2025-01-01T10:00:00Z", want: "2025-01-01 10:00:00"},
		{name: "AlreadyCanonical", input: "2025-01-01 10:00:00", want: "2025-01-01 10:00:00"},
		{name: "DateOnly", input: "2025-01-01", want: "2025-01-01 00:00:00"},
		{name: "Garbage", input: "not-a-date", wantErr: true},
		{name: "Empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTimestamp(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, common.ErrInvalidTime, common.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestRegexFullPattern tests wildcard substitution
func TestRegexFullPattern(t *testing.T) {
	re := Regex{
		Pattern: `run_{date}_{sample}.csv`,
		Wildcards: []Wildcard{
			{Name: "date", WildcardRegex: `\d{4}-\d{2}-\d{2}`},
			{Name: "sample", WildcardRegex: `[A-Z]\d+`},
		},
	}

	pattern, err := re.FullPattern()
	require.NoError(t, err)
	assert.Equal(t, `run_(\d{4}-\d{2}-\d{2})_([A-Z]\d+).csv`, pattern)
}

// TestRegexDuplicateWildcards tests that duplicate names are rejected
func TestRegexDuplicateWildcards(t *testing.T) {
	re := Regex{
		Pattern: `run_{date}.csv`,
		Wildcards: []Wildcard{
			{Name: "date", WildcardRegex: `\d{4}`},
			{Name: "date", WildcardRegex: `\d{2}`},
		},
	}

	_, err := re.FullPattern()
	require.Error(t, err)
	assert.Equal(t, common.ErrConfigInvalid, common.KindOf(err))
}

// TestRegexCompile tests matching behavior of compiled patterns
func TestRegexCompile(t *testing.T) {
	re := Regex{
		Pattern:   `run_{date}\.csv`,
		Wildcards: []Wildcard{{Name: "date", WildcardRegex: `\d{4}-\d{2}-\d{2}`}},
	}

	compiled, err := re.Compile()
	require.NoError(t, err)

	assert.True(t, compiled.MatchString("run_2025-01-01.csv"))
	assert.False(t, compiled.MatchString("run_bad.csv"))
}

func validFile() File {
	return File{
		ID:               NewID(),
		FileLocation:     "/data/run1/a.csv",
		Filename:         "a.csv",
		CreationTime:     "2025-01-01 10:00:00",
		ModificationTime: "2025-01-01 10:00:00",
		FileHash:         "",
		Filesize:         10,
	}
}

// TestFileValidate tests the file field invariants
func TestFileValidate(t *testing.T) {
	goodHash := "a665a45920422f9d417e4867efdc4fb8a04a1f3fff1fa07e998e86f7f7a27ae3"

	tests := []struct {
		name     string
		mutate   func(*File)
		wantKind common.ErrorKind
	}{
		{
			name:   "Valid",
			mutate: func(f *File) { f.FileHash = goodHash },
		},
		{
			name:     "ZeroSize",
			mutate:   func(f *File) { f.FileHash = goodHash; f.Filesize = 0 },
			wantKind: common.ErrInvalidFile,
		},
		{
			name:     "NegativeSize",
			mutate:   func(f *File) { f.FileHash = goodHash; f.Filesize = -1 },
			wantKind: common.ErrInvalidFile,
		},
		{
			name:     "EmptyFilename",
			mutate:   func(f *File) { f.FileHash = goodHash; f.Filename = "" },
			wantKind: common.ErrInvalidFile,
		},
		{
			name:     "ShortHash",
			mutate:   func(f *File) { f.FileHash = "abcd" },
			wantKind: common.ErrInvalidFile,
		},
		{
			name:     "BadCreationTime",
			mutate:   func(f *File) { f.FileHash = goodHash; f.CreationTime = "yesterday" },
			wantKind: common.ErrInvalidTime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFile()
			tt.mutate(&f)
			err := f.Validate()
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, common.KindOf(err))
		})
	}
}

// TestJoinDefinitionValidate tests join invariants
func TestJoinDefinitionValidate(t *testing.T) {
	base := JoinDefinition{
		Name:      "metrics_with_metadata",
		LeftDC:    "metrics",
		RightDC:   "metadata",
		OnColumns: []string{"sample"},
		How:       JoinInner,
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, base.Validate())
	})

	t.Run("SameSides", func(t *testing.T) {
		j := base
		j.RightDC = j.LeftDC
		assert.Error(t, j.Validate())
	})

	t.Run("EmptyOnColumns", func(t *testing.T) {
		j := base
		j.OnColumns = nil
		assert.Error(t, j.Validate())
	})

	t.Run("DuplicateOnColumns", func(t *testing.T) {
		j := base
		j.OnColumns = []string{"sample", "sample"}
		assert.Error(t, j.Validate())
	})

	t.Run("BadName", func(t *testing.T) {
		j := base
		j.Name = "has spaces"
		assert.Error(t, j.Validate())
	})

	t.Run("BadHow", func(t *testing.T) {
		j := base
		j.How = "cross"
		assert.Error(t, j.Validate())
	})
}

// TestWorkflowTag tests tag computation including the nf-core override
func TestWorkflowTag(t *testing.T) {
	wf := Workflow{Name: "rnaseq", Engine: Engine{Name: "nextflow"}}
	assert.Equal(t, "nextflow/rnaseq", wf.Tag())

	wf.Catalog = "nf-core"
	assert.Equal(t, "nf-core/rnaseq", wf.Tag())
}

// TestDataLocationValidate tests structure cross-field rules
func TestDataLocationValidate(t *testing.T) {
	t.Run("SequencingRunsRequiresRegex", func(t *testing.T) {
		dl := DataLocation{Structure: StructureSequencingRuns, Locations: []string{"/data"}}
		err := dl.Validate()
		require.Error(t, err)
		assert.Equal(t, common.ErrConfigInvalid, common.KindOf(err))
	})

	t.Run("FlatRejectsRegex", func(t *testing.T) {
		dl := DataLocation{Structure: StructureFlat, Locations: []string{"/data"}, RunsRegex: `run_.*`}
		assert.Error(t, dl.Validate())
	})

	t.Run("Valid", func(t *testing.T) {
		dl := DataLocation{Structure: StructureSequencingRuns, Locations: []string{"/data"}, RunsRegex: `run_.*`}
		assert.NoError(t, dl.Validate())
	})
}

func sampleProject() *Project {
	dcA := DataCollection{ID: NewID(), Tag: "metrics", Config: DCConfig{Type: DCTypeTable, Source: DCSourceJoined}}
	dcB := DataCollection{ID: NewID(), Tag: "metadata", Config: DCConfig{Type: DCTypeTable, Source: DCSourceJoined}}
	dcShared1 := DataCollection{ID: NewID(), Tag: "data", Config: DCConfig{Type: DCTypeTable, Source: DCSourceJoined}}
	dcShared2 := DataCollection{ID: NewID(), Tag: "data", Config: DCConfig{Type: DCTypeTable, Source: DCSourceJoined}}
	dcTop := DataCollection{ID: NewID(), Tag: "reference", Config: DCConfig{Type: DCTypeTable, Source: DCSourceJoined}}

	return &Project{
		ID:          NewID(),
		Name:        "test_project",
		ProjectType: ProjectAdvanced,
		Workflows: []Workflow{
			{
				ID: NewID(), Name: "wf_a", Engine: Engine{Name: "snakemake"},
				DataLocation:    DataLocation{Structure: StructureFlat, Locations: []string{"/tmp/a"}},
				DataCollections: []DataCollection{dcA, dcB, dcShared1},
			},
			{
				ID: NewID(), Name: "wf_b", Engine: Engine{Name: "nextflow"},
				DataLocation:    DataLocation{Structure: StructureFlat, Locations: []string{"/tmp/b"}},
				DataCollections: []DataCollection{dcShared2},
			},
		},
		DataCollections: []DataCollection{dcTop},
	}
}

// TestProjectResolveDC tests bare, dotted and project-level resolution
func TestProjectResolveDC(t *testing.T) {
	p := sampleProject()

	t.Run("BareTagInWorkflow", func(t *testing.T) {
		dc, wfName, err := p.ResolveDC("metrics", "wf_a")
		require.NoError(t, err)
		assert.Equal(t, "metrics", dc.Tag)
		assert.Equal(t, "wf_a", wfName)
	})

	t.Run("DottedTag", func(t *testing.T) {
		dc, wfName, err := p.ResolveDC("wf_b.data", "")
		require.NoError(t, err)
		assert.Equal(t, p.Workflows[1].DataCollections[0].ID, dc.ID)
		assert.Equal(t, "wf_b", wfName)
	})

	t.Run("ProjectLevel", func(t *testing.T) {
		dc, wfName, err := p.ResolveDC("reference", "")
		require.NoError(t, err)
		assert.Equal(t, "reference", dc.Tag)
		assert.Equal(t, "", wfName)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, _, err := p.ResolveDC("nonexistent", "wf_a")
		require.Error(t, err)
		assert.Equal(t, common.ErrDCNotFound, common.KindOf(err))
	})
}

// TestProjectValidate_DuplicateDCTag tests per-workflow tag uniqueness
func TestProjectValidate_DuplicateDCTag(t *testing.T) {
	p := sampleProject()
	// Tag collisions across workflows are allowed.
	assert.NoError(t, p.Validate())

	// Within one workflow they are not.
	p.Workflows[0].DataCollections = append(p.Workflows[0].DataCollections,
		DataCollection{ID: NewID(), Tag: "metrics", Config: DCConfig{Type: DCTypeTable, Source: DCSourceJoined}})
	assert.Error(t, p.Validate())
}

// TestLinkConfigValidate tests resolver invariants
func TestLinkConfigValidate(t *testing.T) {
	t.Run("PatternRequiresPlaceholder", func(t *testing.T) {
		cfg := LinkConfig{Resolver: ResolverPattern, Pattern: "sample.bam"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("PatternWithPlaceholder", func(t *testing.T) {
		cfg := LinkConfig{Resolver: ResolverPattern, Pattern: "{sample}.bam"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("UnknownResolver", func(t *testing.T) {
		cfg := LinkConfig{Resolver: "fuzzy"}
		assert.Error(t, cfg.Validate())
	})
}

// TestDataCollectionValidate tests the scan-config variants
func TestDataCollectionValidate(t *testing.T) {
	t.Run("RecursiveNeedsRegex", func(t *testing.T) {
		dc := DataCollection{ID: NewID(), Tag: "t", Config: DCConfig{
			Type: DCTypeTable,
			Scan: &ScanConfig{Mode: ScanModeRecursive},
		}}
		assert.Error(t, dc.Validate())
	})

	t.Run("SingleNeedsFilename", func(t *testing.T) {
		dc := DataCollection{ID: NewID(), Tag: "t", Config: DCConfig{
			Type: DCTypeTable,
			Scan: &ScanConfig{Mode: ScanModeSingle},
		}}
		assert.Error(t, dc.Validate())
	})

	t.Run("JoinedHasNoScan", func(t *testing.T) {
		dc := DataCollection{ID: NewID(), Tag: "t", Config: DCConfig{
			Type:   DCTypeTable,
			Source: DCSourceJoined,
			Scan:   &ScanConfig{Mode: ScanModeRecursive},
		}}
		assert.Error(t, dc.Validate())
	})

	t.Run("ValidRecursive", func(t *testing.T) {
		dc := DataCollection{ID: NewID(), Tag: "t", Config: DCConfig{
			Type: DCTypeTable,
			Scan: &ScanConfig{Mode: ScanModeRecursive, RegexConfig: &Regex{Pattern: `.*\.csv`}},
		}}
		assert.NoError(t, dc.Validate())
	})
}
