package vindex

import (
	"errors"

	"github.com/google/uuid"
)

var ErrRowOutOfRange = errors.New("vindex: row out of range")

// Mapping resolves index rows to item ids. Row i of the index was built from
// the item with id IDs[i]; ids are not assumed to equal rows.
type Mapping struct {
	BuildID uuid.UUID `json:"build_id"`
	IDs     []int64   `json:"ids"`
}

// Identity maps row i to id i, which is what ingestion produces.
func Identity(buildID uuid.UUID, n int) Mapping {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i)
	}
	return Mapping{BuildID: buildID, IDs: ids}
}

// Resolve returns the item id stored at row.
func (m Mapping) Resolve(row int) (int64, error) {
	if row < 0 || row >= len(m.IDs) {
		return 0, ErrRowOutOfRange
	}
	return m.IDs[row], nil
}
