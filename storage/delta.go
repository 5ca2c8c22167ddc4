package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/dataframe"
	"github.com/depictio/depictio/models"
)

// DeltaStore persists one columnar table per data collection (including
// join-result collections). Each table owns a fixed URI derived once from
// the DC id and never rewritten; writes are versioned with a commit pointer
// so a replace is atomic: the new version is uploaded first and the pointer
// flipped last. Readers resolve the pointer, so a crashed writer never
// leaves a partially-written table visible.
type DeltaStore struct {
	store  ObjectStore
	bucket string
}

// NewDeltaStore wraps an object store with Delta-table semantics.
func NewDeltaStore(store ObjectStore, bucket string) *DeltaStore {
	return &DeltaStore{store: store, bucket: bucket}
}

// TableURI returns the stable location of a data collection's table.
func (d *DeltaStore) TableURI(dcID models.ID) string {
	return fmt.Sprintf("s3://%s/%s", d.bucket, d.tablePrefix(dcID))
}

func (d *DeltaStore) tablePrefix(dcID models.ID) string {
	return fmt.Sprintf("deltatables/%s", dcID)
}

func (d *DeltaStore) pointerKey(dcID models.ID) string {
	return d.tablePrefix(dcID) + "/_latest"
}

// tableDocument is the serialized form of a frame: explicit schema plus
// row-major values, so dtypes survive the round trip.
type tableDocument struct {
	Columns []tableColumn   `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

type tableColumn struct {
	Name  string          `json:"name"`
	DType dataframe.DType `json:"dtype"`
}

// WriteTable persists a frame as the new current version of the DC's table.
func (d *DeltaStore) WriteTable(ctx context.Context, dcID models.ID, frame *dataframe.Frame) (int64, error) {
	doc := tableDocument{
		Columns: make([]tableColumn, 0, frame.Width()),
		Rows:    make([][]interface{}, frame.Height()),
	}
	columns := frame.Columns()
	series := make([]dataframe.Series, len(columns))
	for i, name := range columns {
		col, err := frame.Column(name)
		if err != nil {
			return 0, err
		}
		series[i] = col
		doc.Columns = append(doc.Columns, tableColumn{Name: name, DType: col.DType})
	}
	for r := 0; r < frame.Height(); r++ {
		row := make([]interface{}, len(columns))
		for c := range columns {
			row[c] = series[c].Values[r]
		}
		doc.Rows[r] = row
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return 0, common.WrapError(common.ErrIO, dcID.String(),
			fmt.Errorf("failed to encode table: %w", err))
	}

	version := "v-" + uuid.NewString()
	dataKey := fmt.Sprintf("%s/%s/data.json", d.tablePrefix(dcID), version)
	if err := d.store.PutObject(ctx, dataKey, payload); err != nil {
		return 0, err
	}
	// Flipping the pointer commits the version; until then readers keep
	// resolving the previous one.
	if err := d.store.PutObject(ctx, d.pointerKey(dcID), []byte(version)); err != nil {
		return 0, err
	}
	return int64(len(payload)), nil
}

// ReadTable loads the current version of a DC's table. A missing table is a
// not-found error so callers can distinguish unprocessed DCs from IO
// failures.
func (d *DeltaStore) ReadTable(ctx context.Context, dcID models.ID) (*dataframe.Frame, error) {
	pointer, err := d.store.GetObject(ctx, d.pointerKey(dcID))
	if err != nil {
		return nil, err
	}
	version := strings.TrimSpace(string(pointer))
	dataKey := fmt.Sprintf("%s/%s/data.json", d.tablePrefix(dcID), version)
	payload, err := d.store.GetObject(ctx, dataKey)
	if err != nil {
		return nil, err
	}

	var doc tableDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, common.WrapError(common.ErrIO, dcID.String(),
			fmt.Errorf("failed to decode table: %w", err))
	}

	cols := make([]dataframe.Series, len(doc.Columns))
	for c, schema := range doc.Columns {
		values := make([]interface{}, len(doc.Rows))
		for r, row := range doc.Rows {
			if c >= len(row) || row[c] == nil {
				continue
			}
			values[r] = coerceCell(schema.DType, row[c])
		}
		cols[c] = dataframe.NewSeries(schema.Name, schema.DType, values)
	}
	return dataframe.New(cols...)
}

// TableExists reports whether a DC's table has been materialized.
func (d *DeltaStore) TableExists(ctx context.Context, dcID models.ID) (bool, error) {
	return d.store.ObjectExists(ctx, d.pointerKey(dcID))
}

// coerceCell restores the dtype lost by JSON decoding (numbers arrive as
// float64 regardless of column type).
func coerceCell(dtype dataframe.DType, v interface{}) interface{} {
	switch dtype {
	case dataframe.Int:
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	case dataframe.Float:
		if f, ok := v.(float64); ok {
			return f
		}
	case dataframe.Bool:
		if b, ok := v.(bool); ok {
			return b
		}
	case dataframe.String:
		if s, ok := v.(string); ok {
			return s
		}
	}
	return v
}
