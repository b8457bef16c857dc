package coverage

import (
	"fmt"

	"github.com/prodcov/prodcov/internal/varmap"
	"github.com/prodcov/prodcov/internal/vlq"
)

// Coordinate identifies one instrumentation site's provenance. Many call
// sites in the same function share one coordinate.
type Coordinate struct {
	FileName     string
	FunctionName string
	Kind         string
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%s:%s:%s", c.FileName, c.FunctionName, c.Kind)
}

// DecodeParam resolves a runtime-observed identifier back to the coordinate
// it was minted for, using a mapping previously produced by Materialize (and
// possibly reloaded from storage).
func DecodeParam(m *varmap.Map, id string) (Coordinate, error) {
	key, ok := m.Lookup(id)
	if !ok {
		return Coordinate{}, fmt.Errorf("identifier %q is not present in the mapping", id)
	}
	indices, err := vlq.DecodeAll(key)
	if err != nil {
		return Coordinate{}, fmt.Errorf("malformed composite key %q for identifier %q: %w", key, id, err)
	}
	if len(indices) != 3 {
		return Coordinate{}, fmt.Errorf("composite key %q for identifier %q holds %d indices, want 3", key, id, len(indices))
	}

	fileName, err := reservedValue(m, FileNamesRow, indices[0])
	if err != nil {
		return Coordinate{}, err
	}
	functionName, err := reservedValue(m, FunctionNamesRow, indices[1])
	if err != nil {
		return Coordinate{}, err
	}
	kind, err := reservedValue(m, TypesRow, indices[2])
	if err != nil {
		return Coordinate{}, err
	}
	return Coordinate{FileName: fileName, FunctionName: functionName, Kind: kind}, nil
}

func reservedValue(m *varmap.Map, row string, index int) (string, error) {
	r, ok := m.Reserved(row)
	if !ok {
		return "", fmt.Errorf("mapping has no %s row", row)
	}
	if index < 0 || index >= len(r.Values) {
		return "", fmt.Errorf("index %d is out of range for the %s row of %d values", index, row, len(r.Values))
	}
	return r.Values[index], nil
}
